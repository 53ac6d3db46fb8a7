// Package ritual implements signature extraction: turning one raw message
// into zero or more canonical pattern signatures.
//
// The extractor is pure and total — identical input always yields identical
// output, arbitrary input never fails, unmatched text yields an empty list.
// Rule families are independent and not mutually exclusive: a single message
// may yield a greeting signature and an emoji-combo signature together.
package ritual

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jkaninda/mazoea/internal/domain"
)

// maxInputGraphemes bounds rule evaluation cost on pathological input.
// Text beyond this prefix is ignored, not an error.
const maxInputGraphemes = 600

// maxExcerptGraphemes bounds the audit excerpt attached to candidates.
const maxExcerptGraphemes = 160

// Candidate is one extracted pattern signature, ready for the lifecycle
// engine to match-or-create against the catalog.
type Candidate struct {
	Signature   string // Canonical identity string.
	PatternType domain.PatternType
	Description string
	Excerpt     string // Bounded snippet of the source message (audit only).
}

// Extractor evaluates an ordered rule set against messages.
type Extractor struct {
	rules []Rule
}

// NewExtractor creates an Extractor with the given rules.
// Pass DefaultRules() for the built-in set.
func NewExtractor(rules []Rule) *Extractor {
	return &Extractor{rules: rules}
}

// Extract runs every rule family against text and returns all candidate
// signatures. phrases is the caller-owned rolling window of recently seen
// multi-word phrases for the relationship; pass nil to skip phrase matching.
func (e *Extractor) Extract(text string, phrases []string) []Candidate {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	trimmed = TruncateGraphemes(trimmed, maxInputGraphemes)

	normText := Normalize(trimmed)
	symbols := Symbols(trimmed)
	excerpt := TruncateGraphemes(trimmed, maxExcerptGraphemes)

	var out []Candidate
	matchedCategories := make(map[domain.PatternType]bool)

	for i := range e.rules {
		r := &e.rules[i]
		switch r.kind {
		case ruleLexical:
			// First match per category wins.
			if matchedCategories[r.PatternType] {
				continue
			}
			fragment, ok := r.matchLexical(normText)
			if !ok {
				continue
			}
			matchedCategories[r.PatternType] = true
			out = append(out, Candidate{
				Signature:   lexicalSignature(r.PatternType, fragment, symbols),
				PatternType: r.PatternType,
				Description: r.Description,
				Excerpt:     excerpt,
			})
		case ruleSymbolRepeat:
			out = append(out, repeatCandidates(symbols, excerpt)...)
		case ruleSymbolCombo:
			if c, ok := comboCandidate(symbols, excerpt); ok {
				out = append(out, c)
			}
		case rulePhrase:
			out = append(out, phraseCandidates(normText, phrases, excerpt)...)
		}
	}
	return dedupe(out)
}

// dedupe drops candidates whose signature already appeared earlier in the
// list. A lexical phrase rule and the rolling phrase window can both match
// the same fragment; the ritual identity is the same, so only one counts.
func dedupe(cands []Candidate) []Candidate {
	if len(cands) < 2 {
		return cands
	}
	seen := make(map[string]bool, len(cands))
	out := cands[:0]
	for _, c := range cands {
		if seen[c.Signature] {
			continue
		}
		seen[c.Signature] = true
		out = append(out, c)
	}
	return out
}

// lexicalSignature builds the canonical identity for a lexical match.
// Symbol presence changes the ritual's identity, not just its flavor:
// "goodnight 🌙" and a bare "goodnight" are distinct signatures, so the
// symbol string (original order) is appended as a suffix.
func lexicalSignature(pt domain.PatternType, fragment string, symbols []string) string {
	if len(symbols) == 0 {
		return fmt.Sprintf("%s:%s", pt, fragment)
	}
	return fmt.Sprintf("%s:%s|%s", pt, fragment, strings.Join(symbols, ""))
}

// repeatCandidates emits one emoji_repeat candidate per symbol appearing at
// least twice in the message (contiguous or not), keyed by (symbol, count).
func repeatCandidates(symbols []string, excerpt string) []Candidate {
	if len(symbols) < 2 {
		return nil
	}
	counts := make(map[string]int, len(symbols))
	var order []string
	for _, s := range symbols {
		if counts[s] == 0 {
			order = append(order, s)
		}
		counts[s]++
	}
	var out []Candidate
	for _, s := range order {
		n := counts[s]
		if n < 2 {
			continue
		}
		out = append(out, Candidate{
			Signature:   fmt.Sprintf("%s:%sx%d", domain.PatternEmojiRepeat, s, n),
			PatternType: domain.PatternEmojiRepeat,
			Description: fmt.Sprintf("repeated %s emoji", s),
			Excerpt:     excerpt,
		})
	}
	return out
}

// comboCandidate emits an emoji_combo candidate when the message contains
// 2–4 distinct symbols, keyed by the sorted deduplicated set so that
// "🌙✨" and "✨🌙" canonicalize identically.
func comboCandidate(symbols []string, excerpt string) (Candidate, bool) {
	distinct := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		distinct[s] = struct{}{}
	}
	if len(distinct) < 2 || len(distinct) > 4 {
		return Candidate{}, false
	}
	set := make([]string, 0, len(distinct))
	for s := range distinct {
		set = append(set, s)
	}
	sort.Strings(set)
	joined := strings.Join(set, "")
	return Candidate{
		Signature:   fmt.Sprintf("%s:%s", domain.PatternEmojiCombo, joined),
		PatternType: domain.PatternEmojiCombo,
		Description: fmt.Sprintf("%s combination", joined),
		Excerpt:     excerpt,
	}, true
}

// phraseCandidates matches the rolling phrase window against the message.
// Only exact (normalized) substring matches of phrases at least two words
// long count.
func phraseCandidates(normText string, phrases []string, excerpt string) []Candidate {
	if normText == "" || len(phrases) == 0 {
		return nil
	}
	padded := " " + normText + " "
	seen := make(map[string]bool, len(phrases))
	var out []Candidate
	for _, p := range phrases {
		norm := Normalize(p)
		if norm == "" || seen[norm] || strings.Count(norm, " ") < 1 {
			continue
		}
		seen[norm] = true
		if !containsWord(padded, norm) {
			continue
		}
		out = append(out, Candidate{
			Signature:   fmt.Sprintf("%s:%s", domain.PatternPhrase, norm),
			PatternType: domain.PatternPhrase,
			Description: fmt.Sprintf("recurring phrase %q", norm),
			Excerpt:     excerpt,
		})
	}
	return out
}
