package settings

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"

	"signbridge/pkg/signbridge"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePrefsAPI struct {
	stored  signbridge.Preferences
	updates []signbridge.PreferencesUpdate
	err     error
}

func (f *fakePrefsAPI) GetPreferences(context.Context) (*signbridge.Preferences, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := f.stored
	return &p, nil
}

func (f *fakePrefsAPI) UpdatePreferences(_ context.Context, in signbridge.PreferencesUpdate) (*signbridge.Preferences, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.updates = append(f.updates, in)
	f.stored.Mode = *in.Mode
	f.stored.Language = *in.Language
	f.stored.SignLanguage = *in.SignLanguage
	f.stored.HighContrast = *in.HighContrast
	f.stored.LargeText = *in.LargeText
	f.stored.VisualAlerts = *in.VisualAlerts
	p := f.stored
	return &p, nil
}

func TestPreferencesLoadThenSave(t *testing.T) {
	api := &fakePrefsAPI{stored: signbridge.Preferences{UserID: 1, Mode: signbridge.ModeNormal, Language: "en", SignLanguage: "ASL"}}
	prefs := NewPreferences(api)

	_, err := prefs.Save(context.Background(), signbridge.Preferences{Mode: signbridge.ModeDeaf})
	assert.ErrorIs(t, err, ErrNotLoaded)

	loaded, err := prefs.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ASL", loaded.SignLanguage)

	loaded.Mode = signbridge.ModeDeaf
	loaded.VisualAlerts = true
	loaded.SignLanguage = " BSL "
	saved, err := prefs.Save(context.Background(), loaded)
	require.NoError(t, err)
	assert.Equal(t, signbridge.ModeDeaf, saved.Mode)
	assert.Equal(t, "BSL", saved.SignLanguage)
	assert.True(t, saved.VisualAlerts)

	current, ok := prefs.Current()
	require.True(t, ok)
	assert.Equal(t, saved, current)
	require.Len(t, api.updates, 1)
	assert.False(t, *api.updates[0].HighContrast, "every field is written")
}

func TestPreferencesRejectsUnknownMode(t *testing.T) {
	api := &fakePrefsAPI{stored: signbridge.Preferences{Mode: signbridge.ModeNormal}}
	prefs := NewPreferences(api)
	_, err := prefs.Load(context.Background())
	require.NoError(t, err)

	_, err = prefs.Save(context.Background(), signbridge.Preferences{Mode: "loud"})
	assert.Error(t, err)
	assert.Empty(t, api.updates)
}

func TestPreferencesSaveErrorKeepsCurrent(t *testing.T) {
	api := &fakePrefsAPI{stored: signbridge.Preferences{Mode: signbridge.ModeNormal}}
	prefs := NewPreferences(api)
	_, err := prefs.Load(context.Background())
	require.NoError(t, err)

	api.err = &signbridge.APIError{Status: 401, Message: "Invalid or expired token"}
	_, err = prefs.Save(context.Background(), signbridge.Preferences{Mode: signbridge.ModeDeaf})
	assert.True(t, signbridge.IsUnauthorized(err))
	current, _ := prefs.Current()
	assert.Equal(t, signbridge.ModeNormal, current.Mode)
}

type fakeProfilesAPI struct {
	mine        signbridge.Profile
	others      []signbridge.Profile
	uploadType  string
	uploadName  string
	uploadBytes []byte
}

func (f *fakeProfilesAPI) GetMyProfile(context.Context) (*signbridge.Profile, error) {
	p := f.mine
	return &p, nil
}

func (f *fakeProfilesAPI) GetProfile(_ context.Context, id uint) (*signbridge.Profile, error) {
	for _, p := range f.others {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, &signbridge.APIError{Status: 404, Message: "Profile not found"}
}

func (f *fakeProfilesAPI) ListProfiles(context.Context) ([]signbridge.Profile, error) {
	return f.others, nil
}

func (f *fakeProfilesAPI) UpdateMyProfile(_ context.Context, in signbridge.ProfileUpdate) (*signbridge.Profile, error) {
	if in.DisplayName != nil {
		f.mine.DisplayName = *in.DisplayName
	}
	p := f.mine
	return &p, nil
}

func (f *fakeProfilesAPI) UploadAvatar(_ context.Context, filename, contentType string, r io.Reader) (*signbridge.Profile, error) {
	f.uploadName = filename
	f.uploadType = contentType
	f.uploadBytes, _ = io.ReadAll(r)
	f.mine.AvatarURL = "/avatars/1/new.webp"
	p := f.mine
	return &p, nil
}

func TestProfilesEditDisplayName(t *testing.T) {
	api := &fakeProfilesAPI{mine: signbridge.Profile{ID: 1, Email: "ana@example.com", DisplayName: "ana"}}
	profiles := NewProfiles(api)
	_, err := profiles.Load(context.Background())
	require.NoError(t, err)

	_, err = profiles.SaveDisplayName(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyDisplayName)

	saved, err := profiles.SaveDisplayName(context.Background(), "  Ana M.  ")
	require.NoError(t, err)
	assert.Equal(t, "Ana M.", saved.DisplayName)
	mine, ok := profiles.Mine()
	require.True(t, ok)
	assert.Equal(t, "Ana M.", mine.Label())
}

func TestProfilesLookup(t *testing.T) {
	api := &fakeProfilesAPI{others: []signbridge.Profile{{ID: 2, DisplayName: "bo"}}}
	profiles := NewProfiles(api)

	others, err := profiles.Others(context.Background())
	require.NoError(t, err)
	assert.Len(t, others, 1)

	p, err := profiles.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "bo", p.DisplayName)

	_, err = profiles.Get(context.Background(), 3)
	assert.Equal(t, 404, signbridge.StatusOf(err))
}

func TestUploadAvatarSniffsContentType(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	raw := buf.Bytes()

	api := &fakeProfilesAPI{mine: signbridge.Profile{ID: 1}}
	profiles := NewProfiles(api)

	p, err := profiles.UploadAvatar(context.Background(), "/tmp/photos/me.jpg", bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "image/png", api.uploadType, "bytes win over the extension")
	assert.Equal(t, "me.jpg", api.uploadName)
	assert.Equal(t, raw, api.uploadBytes)
	assert.Equal(t, "/avatars/1/new.webp", p.AvatarURL)

	_, err = profiles.UploadAvatar(context.Background(), "scan.jpeg", strings.NewReader("not really an image"))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", api.uploadType)
}
