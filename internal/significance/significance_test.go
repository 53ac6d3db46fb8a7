package significance

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/mazoea/internal/domain"
	"github.com/jkaninda/mazoea/internal/llm"
)

var testLogger = slog.New(slog.DiscardHandler)

type fakeProvider struct {
	text string
	err  error
	got  *llm.Request
}

func (p *fakeProvider) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	p.got = req
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Response{Text: p.text}, nil
}

func (p *fakeProvider) Name() string { return "fake" }

type fakeApplier struct {
	mu    sync.Mutex
	notes map[uuid.UUID]string
	err   error
}

func newFakeApplier() *fakeApplier {
	return &fakeApplier{notes: make(map[uuid.UUID]string)}
}

func (a *fakeApplier) ApplySignificanceNote(_ context.Context, entryID uuid.UUID, note string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.notes[entryID] = note
	return nil
}

func (a *fakeApplier) note(id uuid.UUID) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.notes[id]
}

func testEntry() *domain.RitualEntry {
	return &domain.RitualEntry{
		ID:               domain.NewID(),
		Signature:        "farewell:goodnight|🌙",
		PatternType:      domain.PatternFarewell,
		Description:      "goodnight with 🌙",
		PrimaryInitiator: domain.InitiatorPartyA,
	}
}

func TestLLMGenerator(t *testing.T) {
	p := &fakeProvider{text: "  \"Their way of tucking the day in together.\"\n\nExtra line.  "}
	g := NewLLMGenerator(p)

	note, err := g.Generate(context.Background(), testEntry(), []string{"Goodnight 🌙"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if note != "Their way of tucking the day in together." {
		t.Errorf("note = %q", note)
	}
	if p.got == nil || !strings.Contains(p.got.Prompt, "goodnight with 🌙") {
		t.Errorf("prompt missing description: %+v", p.got)
	}
	if !strings.Contains(p.got.Prompt, "Goodnight 🌙") {
		t.Error("prompt missing example excerpt")
	}
}

func TestRequesterAppliesNote(t *testing.T) {
	applier := newFakeApplier()
	r := NewRequester(NewLLMGenerator(&fakeProvider{text: "a note"}), applier, testLogger)

	entry := testEntry()
	r.Request(entry, nil)
	r.Wait()

	if got := applier.note(entry.ID); got != "a note" {
		t.Errorf("applied note = %q", got)
	}
}

func TestRequesterSwallowsGenerationError(t *testing.T) {
	applier := newFakeApplier()
	r := NewRequester(NewLLMGenerator(&fakeProvider{err: errors.New("upstream down")}), applier, testLogger)

	r.Request(testEntry(), nil)
	r.Wait()

	if len(applier.notes) != 0 {
		t.Errorf("note applied despite generation error: %v", applier.notes)
	}
}

func TestRequesterSwallowsApplyError(t *testing.T) {
	applier := newFakeApplier()
	applier.err = errors.New("store closed")
	r := NewRequester(NewLLMGenerator(&fakeProvider{text: "a note"}), applier, testLogger)

	r.Request(testEntry(), nil)
	r.Wait()
	// No panic, no retry loop; the failure is logged and dropped.
}

func TestRequesterDoesNotBlockCaller(t *testing.T) {
	slow := &fakeProvider{text: "slow note"}
	applier := newFakeApplier()
	r := NewRequester(&slowGenerator{inner: NewLLMGenerator(slow), delay: 50 * time.Millisecond}, applier, testLogger)

	start := time.Now()
	r.Request(testEntry(), nil)
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("Request blocked for %v", elapsed)
	}
	r.Wait()
}

type slowGenerator struct {
	inner Generator
	delay time.Duration
}

func (g *slowGenerator) Generate(ctx context.Context, entry *domain.RitualEntry, examples []string) (string, error) {
	time.Sleep(g.delay)
	return g.inner.Generate(ctx, entry, examples)
}

func TestSanitizeNote(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`"quoted"`, "quoted"},
		{"first line\nsecond line", "first line"},
		{"   padded   ", "padded"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sanitizeNote(tt.in); got != tt.want {
			t.Errorf("sanitizeNote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
