package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif" // register GIF decoder
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"signbridge/internal/cache"
	"signbridge/internal/config"
	"signbridge/internal/featureflags"
	"signbridge/internal/models"
	"signbridge/internal/repository"
	"signbridge/internal/validation"

	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
)

const (
	DefaultAvatarUploadDir       = "/tmp/signbridge/uploads"
	DefaultAvatarMaxUploadSizeMB = 5
	AvatarSize                   = 256
	AvatarWebPQuality            = 80
	DefaultAvatarPublicBaseURL   = "/avatars"
)

// UpdateProfileInput carries the profile fields to change; nil fields are kept.
type UpdateProfileInput struct {
	DisplayName *string `json:"display_name"`
	AvatarURL   *string `json:"avatar_url"`
}

// ProfileService reads and writes public profiles, with a read-through cache.
type ProfileService struct {
	profiles       repository.ProfileRepository
	cache          *cache.Store
	flags          *featureflags.Manager
	uploadDir      string
	maxUploadBytes int64
	publicBaseURL  string
}

// NewProfileService returns a new ProfileService.
func NewProfileService(profiles repository.ProfileRepository, store *cache.Store, flags *featureflags.Manager, cfg *config.Config) *ProfileService {
	s := &ProfileService{
		profiles:       profiles,
		cache:          store,
		flags:          flags,
		uploadDir:      DefaultAvatarUploadDir,
		maxUploadBytes: DefaultAvatarMaxUploadSizeMB * 1024 * 1024,
		publicBaseURL:  DefaultAvatarPublicBaseURL,
	}
	if cfg != nil {
		if cfg.AvatarUploadDir != "" {
			s.uploadDir = cfg.AvatarUploadDir
		}
		if cfg.AvatarMaxUploadSizeMB > 0 {
			s.maxUploadBytes = int64(cfg.AvatarMaxUploadSizeMB) * 1024 * 1024
		}
		if base := strings.TrimRight(cfg.AvatarPublicBaseURL, "/"); base != "" {
			s.publicBaseURL = base
		}
	}
	return s
}

// UploadDir is where processed avatars are written.
func (s *ProfileService) UploadDir() string { return s.uploadDir }

// PublicBaseURL is the URL prefix avatars are served under.
func (s *ProfileService) PublicBaseURL() string { return s.publicBaseURL }

// Get returns the profile of userID.
func (s *ProfileService) Get(ctx context.Context, userID uint) (*models.Profile, error) {
	return cache.Remember(ctx, s.cache, cache.ProfileKey(userID), cache.ProfileTTL,
		func(ctx context.Context) (*models.Profile, error) {
			return s.profiles.GetByID(ctx, userID)
		})
}

// ListOthers returns every profile except the viewer's, by display name.
func (s *ProfileService) ListOthers(ctx context.Context, viewerID uint, limit, offset int) ([]models.Profile, error) {
	return s.profiles.ListExcept(ctx, viewerID, limit, offset)
}

// Update changes the caller's own profile.
func (s *ProfileService) Update(ctx context.Context, userID uint, in UpdateProfileInput) (*models.Profile, error) {
	fields := map[string]any{}
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if err := validation.ValidateDisplayName(name); err != nil {
			return nil, models.NewValidationError(err.Error())
		}
		fields["display_name"] = name
	}
	if in.AvatarURL != nil {
		url := strings.TrimSpace(*in.AvatarURL)
		if len(url) > 512 {
			return nil, models.NewValidationError("avatar_url is too long")
		}
		fields["avatar_url"] = url
	}
	if len(fields) == 0 {
		return s.profiles.GetByID(ctx, userID)
	}
	profile, err := s.profiles.UpdateFields(ctx, userID, fields)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, cache.ProfileKey(userID))
	return profile, nil
}

// UploadAvatar center-crops the image to a square, encodes it as WebP and
// points the caller's avatar_url at it.
func (s *ProfileService) UploadAvatar(ctx context.Context, userID uint, contentType string, content []byte) (*models.Profile, error) {
	if !s.flags.Enabled(featureflags.AvatarUpload, userID) {
		return nil, models.NewForbiddenError("Avatar uploads are not enabled")
	}
	if len(content) == 0 {
		return nil, models.NewValidationError("No file uploaded")
	}
	if int64(len(content)) > s.maxUploadBytes {
		return nil, models.NewValidationError(fmt.Sprintf("File too large (max %dMB)", s.maxUploadBytes/(1024*1024)))
	}
	detected := http.DetectContentType(content)
	if !isAllowedImageMIME(detected) {
		return nil, models.NewValidationError("Invalid image type")
	}
	if provided := normalizeContentType(contentType); strings.HasPrefix(provided, "image/") && !isAllowedImageMIME(provided) {
		return nil, models.NewValidationError("Invalid image type")
	}

	decoded, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, models.NewValidationError("Invalid image file")
	}
	avatar := squareAvatar(decoded, AvatarSize)
	var buf bytes.Buffer
	if err := webp.Encode(&buf, avatar, &webp.Options{Quality: AvatarWebPQuality}); err != nil {
		return nil, models.NewInternalError(fmt.Errorf("encode avatar: %w", err))
	}

	sum := sha256.Sum256(buf.Bytes())
	name := hex.EncodeToString(sum[:16]) + ".webp"
	rel := filepath.ToSlash(filepath.Join(fmt.Sprint(userID), name))
	if err := writeBytesToFile(filepath.Join(s.uploadDir, rel), buf.Bytes()); err != nil {
		return nil, models.NewInternalError(fmt.Errorf("store avatar: %w", err))
	}

	url := s.publicBaseURL + "/" + rel
	profile, err := s.profiles.UpdateFields(ctx, userID, map[string]any{"avatar_url": url})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, cache.ProfileKey(userID))
	return profile, nil
}

// squareAvatar crops the largest centered square and scales it to size.
func squareAvatar(src image.Image, size int) image.Image {
	b := src.Bounds()
	side := min(b.Dx(), b.Dy())
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2
	crop := image.Rect(x0, y0, x0+side, y0+side)

	out := size
	if side < size {
		out = side
	}
	dst := image.NewRGBA(image.Rect(0, 0, out, out))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, xdraw.Over, nil)
	return dst
}

func isAllowedImageMIME(contentType string) bool {
	switch normalizeContentType(contentType) {
	case "image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp":
		return true
	default:
		return false
	}
}

func normalizeContentType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

func writeBytesToFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
