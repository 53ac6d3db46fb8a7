package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/mazoea/internal/domain"
)

var testLogger = slog.New(slog.DiscardHandler)

type fakeLister struct {
	rels []domain.Relationship
	err  error
}

func (f *fakeLister) List(context.Context) ([]domain.Relationship, error) {
	return f.rels, f.err
}

type fakeReevaluator struct {
	mu   sync.Mutex
	seen []uuid.UUID
	err  error
}

func (f *fakeReevaluator) ReevaluateIdleStates(_ context.Context, relationshipID uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, relationshipID)
	return f.err
}

type fakeScanner struct {
	mu   sync.Mutex
	seen []uuid.UUID
	err  error
}

func (f *fakeScanner) Detect(_ context.Context, rel *domain.Relationship, _ time.Time) ([]domain.BreakRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, rel.ID)
	return nil, f.err
}

func relationships(n int) []domain.Relationship {
	rels := make([]domain.Relationship, n)
	for i := range rels {
		rels[i] = domain.Relationship{ID: domain.NewID()}
	}
	return rels
}

func TestSweepVisitsEveryRelationship(t *testing.T) {
	rels := relationships(5)
	reeval := &fakeReevaluator{}
	scanner := &fakeScanner{}
	s := New(&fakeLister{rels: rels}, reeval, scanner, nil, testLogger, Config{})

	s.Sweep(context.Background(), time.Now().UTC())

	if len(reeval.seen) != 5 {
		t.Errorf("reevaluated %d relationships, want 5", len(reeval.seen))
	}
	if len(scanner.seen) != 5 {
		t.Errorf("scanned %d relationships, want 5", len(scanner.seen))
	}
}

func TestSweepContinuesPastPhaseErrors(t *testing.T) {
	rels := relationships(3)
	reeval := &fakeReevaluator{err: errors.New("reevaluate down")}
	scanner := &fakeScanner{}
	s := New(&fakeLister{rels: rels}, reeval, scanner, nil, testLogger, Config{})

	s.Sweep(context.Background(), time.Now().UTC())

	// A failed idle phase must not skip break detection.
	if len(scanner.seen) != 3 {
		t.Errorf("scanned %d relationships, want 3", len(scanner.seen))
	}
}

func TestSweepToleratesListFailure(t *testing.T) {
	reeval := &fakeReevaluator{}
	s := New(&fakeLister{err: errors.New("db down")}, reeval, &fakeScanner{}, nil, testLogger, Config{})

	s.Sweep(context.Background(), time.Now().UTC())

	if len(reeval.seen) != 0 {
		t.Errorf("swept %d relationships despite list failure", len(reeval.seen))
	}
}

func TestLastCompletedTracksFullSweeps(t *testing.T) {
	lister := &fakeLister{rels: relationships(1)}
	s := New(lister, &fakeReevaluator{}, &fakeScanner{}, nil, testLogger, Config{})

	if !s.LastCompleted().IsZero() {
		t.Error("LastCompleted should be zero before the first sweep")
	}

	lister.err = errors.New("db down")
	s.Sweep(context.Background(), time.Now().UTC())
	if !s.LastCompleted().IsZero() {
		t.Error("a sweep that could not list relationships must not count as completed")
	}

	lister.err = nil
	s.Sweep(context.Background(), time.Now().UTC())
	if time.Since(s.LastCompleted()) > time.Minute {
		t.Errorf("LastCompleted = %v, want just now", s.LastCompleted())
	}
}

func TestStartStops(t *testing.T) {
	s := New(&fakeLister{}, &fakeReevaluator{}, &fakeScanner{}, nil, testLogger, Config{CronExpression: "* * * * *"})

	cancel := s.Start(context.Background())
	cancel()
	// Stopping before the first tick must not hang or panic.
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	if cfg.cronExpression() != "*/10 * * * *" {
		t.Errorf("cronExpression = %q", cfg.cronExpression())
	}
	if cfg.maxConcurrent() != 4 {
		t.Errorf("maxConcurrent = %d", cfg.maxConcurrent())
	}
}
