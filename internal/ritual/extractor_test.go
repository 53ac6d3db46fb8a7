package ritual

import (
	"reflect"
	"strings"
	"testing"

	"github.com/jkaninda/mazoea/internal/domain"
)

func newTestExtractor() *Extractor {
	return NewExtractor(DefaultRules())
}

func signatures(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Signature
	}
	return out
}

func hasSignature(cands []Candidate, sig string) bool {
	for _, c := range cands {
		if c.Signature == sig {
			return true
		}
	}
	return false
}

func TestExtract_EmptyInput(t *testing.T) {
	e := newTestExtractor()
	for _, text := range []string{"", "   ", "\n\t  "} {
		if got := e.Extract(text, nil); len(got) != 0 {
			t.Errorf("Extract(%q) = %v, want empty", text, got)
		}
	}
}

func TestExtract_Deterministic(t *testing.T) {
	e := newTestExtractor()
	text := "Goodnight 🌙✨ love you!!"
	first := signatures(e.Extract(text, []string{"love you"}))
	second := signatures(e.Extract(text, []string{"love you"}))
	if !reflect.DeepEqual(first, second) {
		t.Errorf("extraction not deterministic:\n first = %v\nsecond = %v", first, second)
	}
	if len(first) == 0 {
		t.Fatal("expected at least one signature")
	}
}

func TestExtract_UnmatchedTextYieldsEmpty(t *testing.T) {
	e := newTestExtractor()
	if got := e.Extract("the weather report says rain tomorrow", nil); len(got) != 0 {
		t.Errorf("unexpected signatures: %v", signatures(got))
	}
}

func TestExtract_FarewellLexical(t *testing.T) {
	e := newTestExtractor()
	got := e.Extract("Goodnight!", nil)
	if !hasSignature(got, "farewell:goodnight") {
		t.Errorf("signatures = %v, want farewell:goodnight", signatures(got))
	}
}

func TestExtract_AliasMapsToCanonicalTrigger(t *testing.T) {
	e := newTestExtractor()
	for _, variant := range []string{"Gnight!", "good night", "GN"} {
		got := e.Extract(variant, nil)
		if !hasSignature(got, "farewell:goodnight") {
			t.Errorf("Extract(%q) = %v, want farewell:goodnight", variant, signatures(got))
		}
	}
}

func TestExtract_SymbolSuffixChangesIdentity(t *testing.T) {
	e := newTestExtractor()
	bare := e.Extract("goodnight", nil)
	moon := e.Extract("goodnight 🌙", nil)

	if !hasSignature(bare, "farewell:goodnight") {
		t.Fatalf("bare: %v", signatures(bare))
	}
	if !hasSignature(moon, "farewell:goodnight|🌙") {
		t.Fatalf("with symbol: %v", signatures(moon))
	}
	if hasSignature(moon, "farewell:goodnight") {
		t.Error("emoji variant must not also produce the bare signature")
	}
}

func TestExtract_EmojiComboOrderIndependent(t *testing.T) {
	e := newTestExtractor()
	a := e.Extract("amazing 🎉🎊", nil)
	b := e.Extract("amazing 🎊🎉", nil)

	var comboA, comboB string
	for _, c := range a {
		if c.PatternType == domain.PatternEmojiCombo {
			comboA = c.Signature
		}
	}
	for _, c := range b {
		if c.PatternType == domain.PatternEmojiCombo {
			comboB = c.Signature
		}
	}
	if comboA == "" || comboA != comboB {
		t.Errorf("combo signatures differ: %q vs %q", comboA, comboB)
	}
}

func TestExtract_EmojiComboBounds(t *testing.T) {
	e := newTestExtractor()

	// Single distinct symbol: no combo.
	for _, c := range e.Extract("nice 🌙", nil) {
		if c.PatternType == domain.PatternEmojiCombo {
			t.Errorf("unexpected combo for one symbol: %s", c.Signature)
		}
	}

	// Five distinct symbols: no combo.
	for _, c := range e.Extract("wow 🌙✨🎉🎊⭐", nil) {
		if c.PatternType == domain.PatternEmojiCombo {
			t.Errorf("unexpected combo for five symbols: %s", c.Signature)
		}
	}
}

func TestExtract_EmojiRepeatKeyedBySymbolAndCount(t *testing.T) {
	e := newTestExtractor()
	got := e.Extract("so happy 😂 really 😂😂", nil)
	if !hasSignature(got, "emoji_repeat:😂x3") {
		t.Errorf("signatures = %v, want emoji_repeat:😂x3", signatures(got))
	}

	// Repeat count changes identity.
	got = e.Extract("😂😂", nil)
	if !hasSignature(got, "emoji_repeat:😂x2") {
		t.Errorf("signatures = %v, want emoji_repeat:😂x2", signatures(got))
	}
}

func TestExtract_MultiCodepointEmojiSingleUnit(t *testing.T) {
	// Family emoji is a ZWJ sequence of four codepoints.
	family := "👨‍👩‍👧‍👦"
	syms := Symbols("hi " + family + family)
	if len(syms) != 2 {
		t.Fatalf("Symbols() = %d units %v, want 2", len(syms), syms)
	}
	if syms[0] != family {
		t.Errorf("cluster split: %q", syms[0])
	}
}

func TestExtract_PhraseWindowMatch(t *testing.T) {
	e := newTestExtractor()
	window := []string{"you and me both", "solo"}

	got := e.Extract("haha you and me both, always", window)
	if !hasSignature(got, "phrase:you and me both") {
		t.Errorf("signatures = %v, want phrase:you and me both", signatures(got))
	}

	// Single-word window entries never match.
	got = e.Extract("going solo tonight", window)
	if hasSignature(got, "phrase:solo") {
		t.Error("single-word phrase must not produce a signature")
	}
}

func TestExtract_LexicalAndSymbolRulesCombine(t *testing.T) {
	e := newTestExtractor()
	got := e.Extract("Goodnight 🌙✨", nil)

	if !hasSignature(got, "farewell:goodnight|🌙✨") {
		t.Errorf("missing lexical signature in %v", signatures(got))
	}
	found := false
	for _, c := range got {
		if c.PatternType == domain.PatternEmojiCombo {
			found = true
		}
	}
	if !found {
		t.Errorf("missing emoji combo in %v", signatures(got))
	}
}

func TestExtract_NoDuplicateSignatures(t *testing.T) {
	e := newTestExtractor()
	// The lexical love-you rule and the phrase window both match here.
	got := e.Extract("love you", []string{"love you"})
	seen := make(map[string]int)
	for _, c := range got {
		seen[c.Signature]++
	}
	for sig, n := range seen {
		if n > 1 {
			t.Errorf("signature %q emitted %d times", sig, n)
		}
	}
}

func TestExtract_LongInputBounded(t *testing.T) {
	e := newTestExtractor()
	long := strings.Repeat("blah ", 100000) + "goodnight"
	// The trigger sits beyond the bounded prefix; evaluation must neither
	// hang nor match it.
	got := e.Extract(long, nil)
	if hasSignature(got, "farewell:goodnight") {
		t.Error("match beyond bounded prefix")
	}

	// Trigger inside the prefix still matches.
	got = e.Extract("goodnight "+long, nil)
	if !hasSignature(got, "farewell:goodnight") {
		t.Errorf("signatures = %v, want farewell:goodnight", signatures(got))
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Goodnight!!", "goodnight"},
		{" Good   Morning ", "good morning"},
		{"don't", "dont"},
		{"hey 🌙 there", "hey there"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncateGraphemes(t *testing.T) {
	if got := TruncateGraphemes("héllo", 3); got != "hél" {
		t.Errorf("TruncateGraphemes = %q", got)
	}
	// Must not split a ZWJ sequence.
	family := "👨‍👩‍👧‍👦"
	if got := TruncateGraphemes("a"+family+"b", 2); got != "a"+family {
		t.Errorf("TruncateGraphemes split emoji: %q", got)
	}
	if got := TruncateGraphemes("ab", 10); got != "ab" {
		t.Errorf("TruncateGraphemes short input = %q", got)
	}
}
