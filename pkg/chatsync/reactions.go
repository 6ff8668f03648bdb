package chatsync

import (
	"strings"

	"signbridge/pkg/signbridge"
)

// ReactionGroup is one emoji's tally on a message.
type ReactionGroup struct {
	Emoji string
	Count int
	// Mine is set when the viewing user is among the reactors.
	Mine bool
}

// GroupReactions tallies reactions per emoji in order of first appearance.
func GroupReactions(reactions signbridge.Reactions, self uint) []ReactionGroup {
	var groups []ReactionGroup
	index := make(map[string]int)
	for _, r := range reactions {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, ReactionGroup{Emoji: r.Emoji})
		}
		groups[i].Count += max(r.Count, 1)
		if r.UserID == self {
			groups[i].Mine = true
		}
	}
	return groups
}

// normalizeReactions coerces stored reactions into renderable records: a
// missing or non-positive count becomes 1 and the emoji is trimmed. An entry
// with no emoji has nothing to render or toggle, so it is dropped rather
// than coerced.
func normalizeReactions(in signbridge.Reactions) signbridge.Reactions {
	out := make(signbridge.Reactions, 0, len(in))
	for _, r := range in {
		r.Emoji = strings.TrimSpace(r.Emoji)
		if r.Emoji == "" {
			continue
		}
		if r.Count <= 0 {
			r.Count = 1
		}
		out = append(out, r)
	}
	return out
}
