// Package settings reads and writes the signed-in user's preferences and profile.
// Values are read once on load and written on explicit save; the last save wins.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"signbridge/pkg/signbridge"
)

// ErrNotLoaded is returned by Save before Load succeeded.
var ErrNotLoaded = errors.New("settings not loaded")

// PreferencesAPI is the subset of the API the preferences client calls.
type PreferencesAPI interface {
	GetPreferences(ctx context.Context) (*signbridge.Preferences, error)
	UpdatePreferences(ctx context.Context, in signbridge.PreferencesUpdate) (*signbridge.Preferences, error)
}

// Preferences holds the user's accessibility preferences.
type Preferences struct {
	api PreferencesAPI

	mu      sync.Mutex
	current *signbridge.Preferences
}

// NewPreferences returns an unloaded preferences client.
func NewPreferences(api PreferencesAPI) *Preferences {
	return &Preferences{api: api}
}

// Load fetches the stored preferences.
func (p *Preferences) Load(ctx context.Context) (signbridge.Preferences, error) {
	prefs, err := p.api.GetPreferences(ctx)
	if err != nil {
		return signbridge.Preferences{}, err
	}
	p.mu.Lock()
	p.current = prefs
	p.mu.Unlock()
	return *prefs, nil
}

// Current returns the last loaded or saved preferences.
func (p *Preferences) Current() (signbridge.Preferences, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return signbridge.Preferences{}, false
	}
	return *p.current, true
}

// Save writes every field of next.
func (p *Preferences) Save(ctx context.Context, next signbridge.Preferences) (signbridge.Preferences, error) {
	if _, ok := p.Current(); !ok {
		return signbridge.Preferences{}, ErrNotLoaded
	}
	if next.Mode != signbridge.ModeNormal && next.Mode != signbridge.ModeDeaf {
		return signbridge.Preferences{}, fmt.Errorf("mode must be %q or %q", signbridge.ModeNormal, signbridge.ModeDeaf)
	}
	language := strings.TrimSpace(next.Language)
	signLanguage := strings.TrimSpace(next.SignLanguage)
	saved, err := p.api.UpdatePreferences(ctx, signbridge.PreferencesUpdate{
		Mode:         &next.Mode,
		Language:     &language,
		SignLanguage: &signLanguage,
		HighContrast: &next.HighContrast,
		LargeText:    &next.LargeText,
		VisualAlerts: &next.VisualAlerts,
	})
	if err != nil {
		return signbridge.Preferences{}, err
	}
	p.mu.Lock()
	p.current = saved
	p.mu.Unlock()
	return *saved, nil
}
