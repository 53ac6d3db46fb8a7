// Package pipeline is the ingestion edge: it accepts raw conversation
// messages, fans them out to per-relationship workers, and drives the
// extractor and lifecycle engine. Ingestion is fire-and-forget — the
// caller gets an immediate answer and every downstream failure is
// logged and swallowed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/mazoea/internal/domain"
	"github.com/jkaninda/mazoea/internal/lifecycle"
	"github.com/jkaninda/mazoea/internal/ritual"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultQueueSize = 128

var (
	ErrClosed            = errors.New("pipeline closed")
	ErrEmptyRelationship = errors.New("relationship external id is empty")
)

// RelationshipStore resolves external relationship IDs to tracked
// relationships, creating them on first sight.
type RelationshipStore interface {
	Ensure(ctx context.Context, externalID string) (*domain.Relationship, error)
}

// Message is one raw conversation message handed to the pipeline.
type Message struct {
	RelationshipExternalID string
	Text                   string
	Initiator              domain.Initiator
	At                     time.Time
}

// Pipeline routes messages to serialized per-relationship workers.
// Messages for the same relationship are processed in arrival order;
// different relationships proceed independently.
type Pipeline struct {
	relationships RelationshipStore
	extractor     *ritual.Extractor
	engine        *lifecycle.Engine
	logger        *slog.Logger
	metrics       *Metrics
	tracer        trace.Tracer
	queueSize     int

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup
}

type Option func(*Pipeline)

func WithQueueSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pipeline) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

func New(relationships RelationshipStore, extractor *ritual.Extractor, engine *lifecycle.Engine, metrics *Metrics, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		relationships: relationships,
		extractor:     extractor,
		engine:        engine,
		logger:        logger,
		metrics:       metrics,
		tracer:        noop.NewTracerProvider().Tracer("pipeline"),
		queueSize:     defaultQueueSize,
		workers:       make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnMessage enqueues msg for processing and returns immediately. A full
// queue drops the message (counted, logged) rather than blocking the
// conversation path. The only errors are input validation and shutdown.
func (p *Pipeline) OnMessage(msg Message) error {
	if msg.RelationshipExternalID == "" {
		return ErrEmptyRelationship
	}
	switch msg.Initiator {
	case domain.InitiatorPartyA, domain.InitiatorPartyB:
	default:
		return fmt.Errorf("invalid initiator %q", msg.Initiator)
	}
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	w, ok := p.workers[msg.RelationshipExternalID]
	if !ok {
		w = newWorker(p, msg.RelationshipExternalID, p.queueSize)
		p.workers[msg.RelationshipExternalID] = w
		p.wg.Add(1)
		go w.run()
	}

	// The send stays under the lock: Close closes queues under the same
	// lock, so releasing it first would leave a window where a send hits
	// a closed channel. The default arm keeps the hold time bounded.
	enqueued := false
	select {
	case w.queue <- msg:
		enqueued = true
	default:
	}
	p.mu.Unlock()

	if enqueued {
		p.metrics.observeEnqueued()
	} else {
		p.metrics.observeDropped()
		p.logger.Warn("pipeline queue full, dropping message",
			"relationship", msg.RelationshipExternalID)
	}
	return nil
}

// QueueLoad reports the fullest worker queue as a fraction of its
// capacity. Feeds the ingestion readiness check.
func (p *Pipeline) QueueLoad() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var load float64
	for _, w := range p.workers {
		c := cap(w.queue)
		if c == 0 {
			continue
		}
		if l := float64(len(w.queue)) / float64(c); l > load {
			load = l
		}
	}
	return load
}

// Close stops accepting messages and waits for queued work to drain.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, w := range p.workers {
		close(w.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// worker owns one relationship's queue, cached identity, and rolling
// phrase window. Single goroutine, so no locking past the channel.
type worker struct {
	pipeline   *Pipeline
	externalID string
	queue      chan Message
	window     *phraseWindow

	relationshipID domain.Relationship
	resolved       bool
}

func newWorker(p *Pipeline, externalID string, queueSize int) *worker {
	return &worker{
		pipeline:   p,
		externalID: externalID,
		queue:      make(chan Message, queueSize),
		window:     newPhraseWindow(defaultPhraseWindowSize),
	}
}

func (w *worker) run() {
	defer w.pipeline.wg.Done()
	for msg := range w.queue {
		w.process(msg)
	}
}

func (w *worker) process(msg Message) {
	p := w.pipeline
	ctx, span := p.tracer.Start(context.Background(), "pipeline.process",
		trace.WithAttributes(attribute.String("relationship", w.externalID)))
	defer span.End()

	if !w.resolved {
		rel, err := p.relationships.Ensure(ctx, w.externalID)
		if err != nil {
			p.metrics.observeFailed()
			p.logger.Error("resolving relationship failed",
				"relationship", w.externalID, "error", err)
			return
		}
		w.relationshipID = *rel
		w.resolved = true
	}

	candidates := p.extractor.Extract(msg.Text, w.window.Recent())
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	for _, cand := range candidates {
		if _, err := p.engine.RecordOccurrence(ctx, w.relationshipID.ID, cand, msg.Initiator, msg.At); err != nil {
			p.metrics.observeFailed()
			p.logger.Error("recording occurrence failed",
				"relationship", w.externalID,
				"signature", cand.Signature, "error", err)
		}
	}

	// Remember after extraction so a phrase only matches once repeated.
	w.window.Remember(msg.Text)
	p.metrics.observeProcessed(len(candidates))
}
