package domain

import (
	"sort"
	"strings"
	"unicode"
)

// DefaultChannelNameMaxLen is the Feishu group name limit in characters
const DefaultChannelNameMaxLen = 60

// ChannelName derives a deterministic remote channel name from participant handles.
// Handles are sorted, reduced to their local part, joined with dashes, lowercased
// and truncated to maxLen runes. With no participants the conversation id is used.
func ChannelName(conversationID string, participants []string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultChannelNameMaxLen
	}

	parts := make([]string, 0, len(participants))
	for _, p := range participants {
		local, _, _ := strings.Cut(p, "@")
		if local = strings.ToLower(strings.TrimSpace(local)); local != "" {
			parts = append(parts, local)
		}
	}
	sort.Strings(parts)

	base := strings.Join(parts, "-")
	if base == "" {
		base = conversationID
	}
	name := "chat-" + base

	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsSpace(r) {
			if lastDash {
				continue
			}
			r = '-'
		}
		lastDash = r == '-'
		b.WriteRune(r)
	}

	runes := []rune(b.String())
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}
	return strings.TrimRight(string(runes), "-")
}
