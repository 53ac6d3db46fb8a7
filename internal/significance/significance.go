// Package significance generates short notes describing why an
// established ritual might matter to the relationship. Generation runs
// out of band: the lifecycle engine fires a request when an entry
// crosses its establish threshold and moves on, and the note is written
// back whenever it arrives. Failures are logged and otherwise dropped.
package significance

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/mazoea/internal/domain"
	"github.com/jkaninda/mazoea/internal/llm"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxConcurrent  = 4
	maxNoteLength         = 280
	significanceMaxTokens = 120
)

// NoteApplier persists a generated note. The lifecycle engine satisfies
// this; it tolerates the entry having changed state since the request.
type NoteApplier interface {
	ApplySignificanceNote(ctx context.Context, entryID uuid.UUID, note string) error
}

// Generator produces a significance note for a ritual entry.
type Generator interface {
	Generate(ctx context.Context, entry *domain.RitualEntry, examples []string) (string, error)
}

// LLMGenerator backs Generator with a chat completion provider.
type LLMGenerator struct {
	provider llm.Provider
}

func NewLLMGenerator(provider llm.Provider) *LLMGenerator {
	return &LLMGenerator{provider: provider}
}

func (g *LLMGenerator) Generate(ctx context.Context, entry *domain.RitualEntry, examples []string) (string, error) {
	resp, err := g.provider.Complete(ctx, &llm.Request{
		SystemPrompt: systemPrompt,
		Prompt:       buildPrompt(entry, examples),
		MaxTokens:    significanceMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return sanitizeNote(resp.Text), nil
}

// Requester dispatches note generation asynchronously with bounded
// concurrency. It satisfies the lifecycle engine's significance hook.
type Requester struct {
	generator Generator
	applier   NoteApplier
	logger    *slog.Logger
	timeout   time.Duration

	sem chan struct{}
	wg  sync.WaitGroup
}

type Option func(*Requester)

func WithTimeout(d time.Duration) Option {
	return func(r *Requester) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithMaxConcurrent(n int) Option {
	return func(r *Requester) {
		if n > 0 {
			r.sem = make(chan struct{}, n)
		}
	}
}

func NewRequester(generator Generator, applier NoteApplier, logger *slog.Logger, opts ...Option) *Requester {
	r := &Requester{
		generator: generator,
		applier:   applier,
		logger:    logger,
		timeout:   defaultTimeout,
		sem:       make(chan struct{}, defaultMaxConcurrent),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Request schedules note generation for entry. It never blocks the
// caller beyond semaphore admission bookkeeping and never reports
// errors back; a ritual without a note is still a ritual.
func (r *Requester) Request(entry *domain.RitualEntry, examples []string) {
	if r == nil || entry == nil {
		return
	}
	snapshot := *entry
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.sem <- struct{}{}
		defer func() { <-r.sem }()
		r.run(&snapshot, examples)
	}()
}

func (r *Requester) run(entry *domain.RitualEntry, examples []string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	note, err := r.generator.Generate(ctx, entry, examples)
	if err != nil {
		r.logger.Warn("significance generation failed",
			"entry_id", entry.ID, "signature", entry.Signature, "error", err)
		return
	}
	if note == "" {
		r.logger.Debug("significance generation returned empty note",
			"entry_id", entry.ID, "signature", entry.Signature)
		return
	}
	if err := r.applier.ApplySignificanceNote(ctx, entry.ID, note); err != nil {
		r.logger.Warn("applying significance note failed",
			"entry_id", entry.ID, "error", err)
	}
}

// Wait blocks until in-flight generations finish. Shutdown helper.
func (r *Requester) Wait() {
	r.wg.Wait()
}

func sanitizeNote(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"`)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if len(s) > maxNoteLength {
		s = strings.TrimSpace(s[:maxNoteLength])
	}
	return s
}
