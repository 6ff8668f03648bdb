package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"signbridge/internal/cache"
	"signbridge/internal/config"
	"signbridge/internal/featureflags"
	"signbridge/internal/models"
	"signbridge/internal/repository"
	"signbridge/internal/testutil"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProfileService(t *testing.T, f *fixture, flags string) (*ProfileService, string) {
	t.Helper()
	dir := t.TempDir()
	rdb, _ := testutil.NewRedis(t)
	svc := NewProfileService(
		repository.NewProfileRepository(f.db),
		cache.NewStore(rdb),
		featureflags.NewManager(flags),
		&config.Config{AvatarUploadDir: dir, AvatarMaxUploadSizeMB: 1, AvatarPublicBaseURL: "https://cdn.example.com/avatars/"},
	)
	return svc, dir
}

func TestProfileService_GetAndUpdate(t *testing.T) {
	f := newFixture(t, "")
	svc, _ := newProfileService(t, f, "")
	ctx := context.Background()
	alice, bob := f.signup(t, "alice"), f.signup(t, "bob")

	p, err := svc.Get(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.DisplayName)

	name := "  Alice A.  "
	updated, err := svc.Update(ctx, alice.ID, UpdateProfileInput{DisplayName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", updated.DisplayName)

	// the cached copy was invalidated
	p, err = svc.Get(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", p.DisplayName)

	blank := " "
	_, err = svc.Update(ctx, alice.ID, UpdateProfileInput{DisplayName: &blank})
	assert.Equal(t, 400, models.HTTPStatus(err))

	others, err := svc.ListOthers(ctx, alice.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, bob.ID, others[0].UserID)

	_, err = svc.Get(ctx, 9999)
	assert.Equal(t, 404, models.HTTPStatus(err))
}

func TestProfileService_UploadAvatar(t *testing.T) {
	f := newFixture(t, "")
	svc, dir := newProfileService(t, f, "")
	ctx := context.Background()
	alice := f.signup(t, "alice")

	p, err := svc.UploadAvatar(ctx, alice.ID, "image/png", testutil.PNG(t, 600, 300))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(p.AvatarURL, "https://cdn.example.com/avatars/"), p.AvatarURL)
	assert.True(t, strings.HasSuffix(p.AvatarURL, ".webp"))

	rel := strings.TrimPrefix(p.AvatarURL, "https://cdn.example.com/avatars/")
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	cfg, err := webp.DecodeConfig(strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Equal(t, AvatarSize, cfg.Width)
	assert.Equal(t, AvatarSize, cfg.Height)

	// small images are cropped square without upscaling
	p, err = svc.UploadAvatar(ctx, alice.ID, "", testutil.PNG(t, 40, 90))
	require.NoError(t, err)
	rel = strings.TrimPrefix(p.AvatarURL, "https://cdn.example.com/avatars/")
	data, err = os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	cfg, err = webp.DecodeConfig(strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 40, cfg.Height)
}

func TestProfileService_UploadAvatarRejects(t *testing.T) {
	f := newFixture(t, "")
	svc, _ := newProfileService(t, f, "")
	ctx := context.Background()
	alice := f.signup(t, "alice")

	_, err := svc.UploadAvatar(ctx, alice.ID, "image/png", nil)
	assert.Equal(t, 400, models.HTTPStatus(err))
	_, err = svc.UploadAvatar(ctx, alice.ID, "text/plain", []byte("definitely not an image"))
	assert.Equal(t, 400, models.HTTPStatus(err))
	_, err = svc.UploadAvatar(ctx, alice.ID, "image/png", make([]byte, 2*1024*1024))
	assert.Equal(t, 400, models.HTTPStatus(err))

	off, _ := newProfileService(t, f, featureflags.AvatarUpload+"=off")
	_, err = off.UploadAvatar(ctx, alice.ID, "image/png", testutil.PNG(t, 10, 10))
	assert.Equal(t, 403, models.HTTPStatus(err))
}
