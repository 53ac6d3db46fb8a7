package pipeline

import (
	"strings"

	"github.com/jkaninda/mazoea/internal/ritual"
)

const (
	defaultPhraseWindowSize = 50
	minPhraseWords          = 2
	maxPhraseWords          = 6
)

// phraseWindow is the rolling record of recently seen short multi-word
// messages for one relationship. The extractor matches new messages
// against it, so a phrase becomes a candidate only once it recurs.
// Owned by a single worker goroutine.
type phraseWindow struct {
	entries  []string
	index    map[string]int // phrase -> occurrences currently in window
	capacity int
}

func newPhraseWindow(capacity int) *phraseWindow {
	return &phraseWindow{
		index:    make(map[string]int, capacity),
		capacity: capacity,
	}
}

// Remember records text as a potential recurring phrase. Messages that
// are too short, too long, or empty after normalization are ignored.
func (w *phraseWindow) Remember(text string) {
	norm := ritual.Normalize(text)
	if norm == "" {
		return
	}
	words := strings.Count(norm, " ") + 1
	if words < minPhraseWords || words > maxPhraseWords {
		return
	}
	if len(w.entries) >= w.capacity {
		oldest := w.entries[0]
		w.entries = w.entries[1:]
		if w.index[oldest] <= 1 {
			delete(w.index, oldest)
		} else {
			w.index[oldest]--
		}
	}
	w.entries = append(w.entries, norm)
	w.index[norm]++
}

// Recent returns the distinct phrases currently in the window, oldest
// first. The slice is freshly allocated; callers may keep it.
func (w *phraseWindow) Recent() []string {
	if len(w.entries) == 0 {
		return nil
	}
	out := make([]string, 0, len(w.index))
	seen := make(map[string]bool, len(w.index))
	for _, p := range w.entries {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
