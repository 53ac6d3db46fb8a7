package ritual

import (
	"strings"

	"github.com/rivo/uniseg"
)

// Symbols returns all pictographic symbols in text, in original order.
// Multi-codepoint emoji (skin tones, ZWJ sequences, variation selectors)
// are returned as single units because segmentation happens on grapheme
// cluster boundaries, not runes.
func Symbols(text string) []string {
	var out []string
	state := -1
	rest := text
	for len(rest) > 0 {
		var cluster string
		cluster, rest, _, state = uniseg.FirstGraphemeClusterInString(rest, state)
		if isPictographic(cluster) {
			out = append(out, cluster)
		}
	}
	return out
}

// isPictographic reports whether a grapheme cluster renders as an emoji or
// other pictographic symbol. A cluster qualifies if any of its runes falls
// in the emoji blocks; this also catches ZWJ sequences and keycap combos
// whose leading rune is plain ASCII.
func isPictographic(cluster string) bool {
	for _, r := range cluster {
		if isEmojiRune(r) {
			return true
		}
	}
	return false
}

func isEmojiRune(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1F5FF: // Misc symbols and pictographs.
		return true
	case r >= 0x1F600 && r <= 0x1F64F: // Emoticons.
		return true
	case r >= 0x1F680 && r <= 0x1F6FF: // Transport and map.
		return true
	case r >= 0x1F900 && r <= 0x1F9FF: // Supplemental symbols and pictographs.
		return true
	case r >= 0x1FA70 && r <= 0x1FAFF: // Symbols and pictographs extended-A.
		return true
	case r >= 0x2600 && r <= 0x26FF: // Misc symbols (sun, stars, weather).
		return true
	case r >= 0x2700 && r <= 0x27BF: // Dingbats (sparkles, hearts).
		return true
	case r >= 0x1F1E6 && r <= 0x1F1FF: // Regional indicators (flags).
		return true
	case r == 0x2764 || r == 0x2B50 || r == 0x2B55: // Heavy heart, star, circle.
		return true
	default:
		return false
	}
}

// TruncateGraphemes returns at most max grapheme clusters of s.
// Safe against splitting multi-codepoint emoji in half.
func TruncateGraphemes(s string, max int) string {
	if max <= 0 || s == "" {
		return ""
	}
	var b strings.Builder
	n := 0
	state := -1
	rest := s
	for len(rest) > 0 && n < max {
		var cluster string
		cluster, rest, _, state = uniseg.FirstGraphemeClusterInString(rest, state)
		b.WriteString(cluster)
		n++
	}
	if len(rest) == 0 {
		return s
	}
	return b.String()
}
