// Package featureflags evaluates rollout switches configured through FEATURE_FLAGS.
package featureflags

import (
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// Flag names known to the server.
const (
	GroupConversations = "group_conversations"
	AvatarUpload       = "avatar_upload"
)

// defaults apply to known flags missing from the configuration.
var defaults = map[string]bool{
	GroupConversations: true,
	AvatarUpload:       true,
}

type rule struct {
	on      bool
	percent int // -1 unless the value was N%
}

// Manager evaluates flags from a list such as "group_conversations=on,avatar_upload=25%".
// Unparseable entries are ignored.
type Manager struct {
	rules map[string]rule
}

// NewManager parses raw.
func NewManager(raw string) *Manager {
	rules := make(map[string]rule)
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key, value = normalize(key), normalize(value)
		if key == "" {
			continue
		}
		if r, ok := parseRule(value); ok {
			rules[key] = r
		}
	}
	return &Manager{rules: rules}
}

func parseRule(value string) (rule, bool) {
	switch value {
	case "on", "true", "1":
		return rule{on: true, percent: -1}, true
	case "off", "false", "0":
		return rule{percent: -1}, true
	}
	raw, ok := strings.CutSuffix(value, "%")
	if !ok {
		return rule{}, false
	}
	pct, err := strconv.Atoi(raw)
	if err != nil {
		return rule{}, false
	}
	return rule{percent: min(max(pct, 0), 100)}, true
}

// Enabled reports whether name is on for userID. Percentage rollouts are
// sticky per (flag, user); user 0 is only included at 100%.
func (m *Manager) Enabled(name string, userID uint) bool {
	name = normalize(name)
	if m == nil {
		return defaults[name]
	}
	r, ok := m.rules[name]
	if !ok {
		return defaults[name]
	}
	switch {
	case r.percent < 0:
		return r.on
	case r.percent == 100:
		return true
	case r.percent == 0 || userID == 0:
		return false
	default:
		return bucket(name, userID) < r.percent
	}
}

// Names returns every configured or known flag, sorted.
func (m *Manager) Names() []string {
	seen := make(map[string]struct{}, len(defaults))
	for name := range defaults {
		seen[name] = struct{}{}
	}
	if m != nil {
		for name := range m.rules {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Snapshot evaluates every flag for userID.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	names := m.Names()
	out := make(map[string]bool, len(names))
	for _, name := range names {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func bucket(name string, userID uint) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(strconv.FormatUint(uint64(userID), 10)))
	return int(h.Sum32() % 100)
}
