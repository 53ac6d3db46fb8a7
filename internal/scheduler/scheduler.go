// Package scheduler runs the periodic maintenance sweep: idle-state
// re-evaluation and break detection across every tracked relationship.
//
// Core invariant: the sweep only ever loses races to occurrences. Both
// sweep phases are idempotent, so overlapping or repeated runs are safe.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jkaninda/mazoea/internal/domain"
)

// RelationshipLister enumerates the relationships to sweep.
type RelationshipLister interface {
	List(ctx context.Context) ([]domain.Relationship, error)
}

// IdleReevaluator applies idle-driven lifecycle transitions. The
// lifecycle engine satisfies this.
type IdleReevaluator interface {
	ReevaluateIdleStates(ctx context.Context, relationshipID uuid.UUID, now time.Time) error
}

// BreakScanner detects missed expectation windows. The break detector
// satisfies this.
type BreakScanner interface {
	Detect(ctx context.Context, rel *domain.Relationship, now time.Time) ([]domain.BreakRecord, error)
}

// Config carries the sweep tuning knobs.
type Config struct {
	// CronExpression sets the sweep cadence. Default: every 10 minutes.
	CronExpression string
	// MaxConcurrent bounds how many relationships are swept in parallel.
	MaxConcurrent int
}

func (c Config) cronExpression() string {
	if c.CronExpression != "" {
		return c.CronExpression
	}
	return "*/10 * * * *"
}

func (c Config) maxConcurrent() int {
	if c.MaxConcurrent > 0 {
		return c.MaxConcurrent
	}
	return 4
}

// Sweeper drives the periodic maintenance sweep.
type Sweeper struct {
	relationships RelationshipLister
	engine        IdleReevaluator
	detector      BreakScanner
	metrics       *Metrics
	logger        *slog.Logger
	config        Config

	parser        cron.Parser
	lastCompleted atomic.Int64 // Unix nanos of the last full sweep.
}

// New creates a Sweeper.
func New(
	relationships RelationshipLister,
	engine IdleReevaluator,
	detector BreakScanner,
	metrics *Metrics,
	logger *slog.Logger,
	cfg Config,
) *Sweeper {
	return &Sweeper{
		relationships: relationships,
		engine:        engine,
		detector:      detector,
		metrics:       metrics,
		logger:        logger,
		config:        cfg,
		parser:        cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Start begins the sweep loop. Returns a cancel function.
func (s *Sweeper) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	sched, err := s.parser.Parse(s.config.cronExpression())
	if err != nil {
		s.logger.Error("invalid sweep cron expression, using every 10 minutes",
			slog.String("expr", s.config.cronExpression()),
			slog.String("error", err.Error()),
		)
		sched, _ = s.parser.Parse("*/10 * * * *")
	}

	go func() {
		s.logger.InfoContext(ctx, "maintenance sweeper started",
			slog.String("cadence", s.config.cronExpression()),
			slog.Int("max_concurrent", s.config.maxConcurrent()),
		)

		for {
			now := time.Now().UTC()
			next := sched.Next(now)
			timer := time.NewTimer(next.Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				s.logger.Info("maintenance sweeper stopped")
				return
			case <-timer.C:
				s.Sweep(ctx, time.Now().UTC())
			}
		}
	}()

	return cancel
}

// Sweep runs a single maintenance cycle over every relationship.
// Exported so startup and tests can trigger an immediate pass.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) {
	start := time.Now()

	rels, err := s.relationships.List(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "listing relationships for sweep failed",
			slog.String("error", err.Error()),
		)
		if s.metrics != nil {
			s.metrics.SweepErrors.Inc()
		}
		return
	}

	sem := make(chan struct{}, s.config.maxConcurrent())
	var wg sync.WaitGroup

	for i := range rels {
		rel := rels[i]
		sem <- struct{}{}
		wg.Add(1)

		go func(rel domain.Relationship) {
			defer wg.Done()
			defer func() { <-sem }()
			s.sweepRelationship(ctx, &rel, now)
		}(rel)
	}

	wg.Wait()

	// Only full passes count; a sweep that failed to list relationships
	// leaves the timestamp alone so the staleness check eventually fires.
	s.lastCompleted.Store(time.Now().UnixNano())

	if s.metrics != nil {
		s.metrics.SweepsTotal.Inc()
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}
	s.logger.DebugContext(ctx, "sweep completed",
		slog.Int("relationships", len(rels)),
		slog.Duration("took", time.Since(start)),
	)
}

// LastCompleted returns when the most recent full sweep finished, or
// the zero time before the first one. Feeds the sweep readiness check.
func (s *Sweeper) LastCompleted() time.Time {
	n := s.lastCompleted.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// sweepRelationship runs both phases for one relationship. Idle
// re-evaluation goes first so a freshly faded farewell is still visible
// to break detection in the same pass.
func (s *Sweeper) sweepRelationship(ctx context.Context, rel *domain.Relationship, now time.Time) {
	if err := s.engine.ReevaluateIdleStates(ctx, rel.ID, now); err != nil {
		s.logger.ErrorContext(ctx, "idle re-evaluation failed",
			slog.String("relationship_id", rel.ID.String()),
			slog.String("error", err.Error()),
		)
		if s.metrics != nil {
			s.metrics.SweepErrors.Inc()
		}
	}

	created, err := s.detector.Detect(ctx, rel, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "break detection failed",
			slog.String("relationship_id", rel.ID.String()),
			slog.String("error", err.Error()),
		)
		if s.metrics != nil {
			s.metrics.SweepErrors.Inc()
		}
		return
	}

	if s.metrics != nil {
		s.metrics.RelationshipsSwept.Inc()
	}
	if len(created) > 0 {
		s.logger.InfoContext(ctx, "sweep detected breaks",
			slog.String("relationship_id", rel.ID.String()),
			slog.Int("count", len(created)),
		)
	}
}
