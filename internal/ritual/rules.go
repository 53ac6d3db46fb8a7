package ritual

import (
	"strings"

	"github.com/jkaninda/mazoea/internal/domain"
)

// ruleKind discriminates the closed set of rule families. New families are
// added here and dispatched in Extractor.Extract — no polymorphism.
type ruleKind int

const (
	ruleLexical ruleKind = iota
	ruleSymbolRepeat
	ruleSymbolCombo
	rulePhrase
)

// Rule is one matching rule. Only lexical rules carry a trigger; the symbol
// and phrase families are parameterized by the message itself (and, for
// phrases, by the caller-supplied rolling window).
type Rule struct {
	kind ruleKind

	// Lexical fields.
	Trigger     string   // Canonical trigger fragment, normalized.
	Aliases     []string // Known variants mapped onto Trigger (e.g. "gnight").
	PatternType domain.PatternType
	Description string
}

// Lexical builds a lexical rule. Trigger and aliases are normalized once at
// construction so matching stays allocation-free per message.
func Lexical(trigger string, patternType domain.PatternType, description string, aliases ...string) Rule {
	norm := make([]string, len(aliases))
	for i, a := range aliases {
		norm[i] = Normalize(a)
	}
	return Rule{
		kind:        ruleLexical,
		Trigger:     Normalize(trigger),
		Aliases:     norm,
		PatternType: patternType,
		Description: description,
	}
}

// DefaultRules is the ordered built-in rule set. Order matters: the first
// lexical match per category wins. The alias lists implement the explicit
// variation tolerance — unknown phrasings stay distinct signatures.
func DefaultRules() []Rule {
	return []Rule{
		// Farewells. Checked before greetings so "night night" never
		// collides with a greeting trigger.
		Lexical("goodnight", domain.PatternFarewell, "goodnight ritual",
			"good night", "gnight", "nite nite", "night night", "gn"),
		Lexical("sweet dreams", domain.PatternFarewell, "sweet dreams farewell"),
		Lexical("sleep well", domain.PatternFarewell, "sleep well farewell", "sleep tight"),
		Lexical("goodbye", domain.PatternFarewell, "goodbye ritual", "bye bye", "byebye"),
		Lexical("talk to you later", domain.PatternFarewell, "talk-later farewell", "ttyl", "talk soon", "catch you later"),

		// Greetings.
		Lexical("good morning", domain.PatternGreeting, "morning greeting", "gm", "goodmorning", "morning morning"),
		Lexical("good afternoon", domain.PatternGreeting, "afternoon greeting"),
		Lexical("good evening", domain.PatternGreeting, "evening greeting"),
		Lexical("hey hey", domain.PatternGreeting, "hey-hey greeting", "heyhey"),
		Lexical("hello there", domain.PatternGreeting, "hello-there greeting"),

		// Recurring affection phrases tracked as lexical rules.
		Lexical("love you", domain.PatternPhrase, "love-you phrase", "ily", "i love you", "luv you"),
		Lexical("miss you", domain.PatternPhrase, "miss-you phrase", "i miss you"),
		Lexical("proud of you", domain.PatternPhrase, "proud-of-you phrase", "so proud of you"),

		// Symbol and phrase families carry no trigger — the dispatcher
		// feeds them the whole message / the rolling phrase window.
		{kind: ruleSymbolRepeat, PatternType: domain.PatternEmojiRepeat, Description: "repeated emoji"},
		{kind: ruleSymbolCombo, PatternType: domain.PatternEmojiCombo, Description: "emoji combination"},
		{kind: rulePhrase, PatternType: domain.PatternPhrase, Description: "recurring phrase"},
	}
}

// Normalize lowercases text, drops apostrophes, folds every other
// non-alphanumeric rune (punctuation, emoji, etc.) to a space, and collapses
// whitespace runs. "Goodnight!! 🌙" and "goodnight" normalize identically;
// symbols are extracted separately by the symbol rules.
func Normalize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r == '\'' || r == '’':
			return -1
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return ' '
		}
	}, s)
	return strings.Join(strings.Fields(strings.ToLower(mapped)), " ")
}

// matchLexical reports whether the normalized text contains the trigger or
// one of its aliases on word boundaries, and returns the canonical trigger.
func (r *Rule) matchLexical(normText string) (string, bool) {
	padded := " " + normText + " "
	if containsWord(padded, r.Trigger) {
		return r.Trigger, true
	}
	for _, alias := range r.Aliases {
		if containsWord(padded, alias) {
			return r.Trigger, true
		}
	}
	return "", false
}

// containsWord checks for fragment inside padded text on space boundaries.
// padded must start and end with a space.
func containsWord(padded, fragment string) bool {
	return strings.Contains(padded, " "+fragment+" ")
}
