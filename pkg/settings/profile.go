package settings

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"signbridge/pkg/signbridge"
)

// ProfilesAPI is the subset of the API the profile client calls.
type ProfilesAPI interface {
	GetMyProfile(ctx context.Context) (*signbridge.Profile, error)
	GetProfile(ctx context.Context, id uint) (*signbridge.Profile, error)
	ListProfiles(ctx context.Context) ([]signbridge.Profile, error)
	UpdateMyProfile(ctx context.Context, in signbridge.ProfileUpdate) (*signbridge.Profile, error)
	UploadAvatar(ctx context.Context, filename, contentType string, image io.Reader) (*signbridge.Profile, error)
}

// ErrEmptyDisplayName rejects a blank display name before it reaches the API.
var ErrEmptyDisplayName = errors.New("display name cannot be empty")

// Profiles reads profiles and edits the user's own.
type Profiles struct {
	api ProfilesAPI

	mu   sync.Mutex
	mine *signbridge.Profile
}

// NewProfiles returns a profile client.
func NewProfiles(api ProfilesAPI) *Profiles {
	return &Profiles{api: api}
}

// Load fetches the user's own profile.
func (p *Profiles) Load(ctx context.Context) (signbridge.Profile, error) {
	prof, err := p.api.GetMyProfile(ctx)
	if err != nil {
		return signbridge.Profile{}, err
	}
	p.set(prof)
	return *prof, nil
}

// Mine returns the last loaded or saved own profile.
func (p *Profiles) Mine() (signbridge.Profile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mine == nil {
		return signbridge.Profile{}, false
	}
	return *p.mine, true
}

// Get returns another user's profile.
func (p *Profiles) Get(ctx context.Context, id uint) (signbridge.Profile, error) {
	prof, err := p.api.GetProfile(ctx, id)
	if err != nil {
		return signbridge.Profile{}, err
	}
	return *prof, nil
}

// Others lists every profile except the user's.
func (p *Profiles) Others(ctx context.Context) ([]signbridge.Profile, error) {
	return p.api.ListProfiles(ctx)
}

// SaveDisplayName changes the user's display name.
func (p *Profiles) SaveDisplayName(ctx context.Context, name string) (signbridge.Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return signbridge.Profile{}, ErrEmptyDisplayName
	}
	prof, err := p.api.UpdateMyProfile(ctx, signbridge.ProfileUpdate{DisplayName: &name})
	if err != nil {
		return signbridge.Profile{}, err
	}
	p.set(prof)
	return *prof, nil
}

// UploadAvatar sends an image read from r. The content type is sniffed from
// the first bytes, falling back to the file extension.
func (p *Profiles) UploadAvatar(ctx context.Context, filename string, r io.Reader) (signbridge.Profile, error) {
	br := bufio.NewReaderSize(r, 512)
	head, _ := br.Peek(512)
	contentType := http.DetectContentType(head)
	if !strings.HasPrefix(contentType, "image/") {
		contentType = typeByExtension(filename)
	}
	prof, err := p.api.UploadAvatar(ctx, filepath.Base(filename), contentType, br)
	if err != nil {
		return signbridge.Profile{}, err
	}
	p.set(prof)
	return *prof, nil
}

func (p *Profiles) set(prof *signbridge.Profile) {
	p.mu.Lock()
	p.mine = prof
	p.mu.Unlock()
}

func typeByExtension(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
