// Package breaks implements expected-recurrence break detection.
//
// A break is the failure of an established, recurrence-expected ritual to
// occur inside its expectation window (the canonical case: a daily farewell
// missing from the evening window). Detection is idempotent: at most one
// BreakRecord exists per (relationship, signature, window date), enforced
// by an existence check plus a unique key at the storage layer. The key is
// the window's local calendar date rather than its absolute end instant,
// so a timezone change between sweeps cannot re-record the same missed
// window under a shifted instant.
package breaks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/mazoea/internal/domain"
)

// ErrDuplicateBreak is returned by BreakStore.Create when a record for the
// same (relationship, signature, window date) already exists.
var ErrDuplicateBreak = errors.New("break record already exists")

// windowDateLayout formats the local calendar date a window belongs to.
const windowDateLayout = "2006-01-02"

// BreakStore is the persistence interface for break records.
type BreakStore interface {
	Create(ctx context.Context, rec *domain.BreakRecord) error
	Exists(ctx context.Context, relationshipID uuid.UUID, signature, windowDate string) (bool, error)
	ListUnresolved(ctx context.Context, relationshipID uuid.UUID) ([]domain.BreakRecord, error)
	ListOpenForSignature(ctx context.Context, relationshipID uuid.UUID, signature string) ([]domain.BreakRecord, error)
	Get(ctx context.Context, relationshipID, id uuid.UUID) (*domain.BreakRecord, error)
	Resolve(ctx context.Context, id uuid.UUID, resolution domain.Resolution, wasResumed bool, at time.Time) error
}

// CatalogReader is the narrow read view of the ritual catalog the detector needs.
type CatalogReader interface {
	ListByStatus(ctx context.Context, relationshipID uuid.UUID, statuses ...domain.RitualStatus) ([]domain.RitualEntry, error)
}

// Window is a daily expectation window in local wall-clock time.
type Window struct {
	StartMinute int // Minutes after midnight, inclusive.
	EndMinute   int // Minutes after midnight, exclusive end of the window.
}

// ParseWindow parses "HH:MM"–"HH:MM" clock strings into a Window.
func ParseWindow(start, end string) (Window, error) {
	s, err := parseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("parsing window start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("parsing window end: %w", err)
	}
	if e <= s {
		return Window{}, fmt.Errorf("window end %s must be after start %s", end, start)
	}
	return Window{StartMinute: s, EndMinute: e}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Expectation defines the recurrence contract for one pattern type.
// Currently all expectations are daily; the window carries the local
// wall-clock bounds.
type Expectation struct {
	Window Window
}

// DefaultExpectations expects farewells once per day in the evening window.
func DefaultExpectations() map[domain.PatternType]Expectation {
	return map[domain.PatternType]Expectation{
		domain.PatternFarewell: {Window: Window{StartMinute: 18 * 60, EndMinute: 23 * 60}},
	}
}

// Detector scans established rituals for missed expectation windows.
type Detector struct {
	breaks       BreakStore
	catalog      CatalogReader
	expectations map[domain.PatternType]Expectation
	metrics      *Metrics
	logger       *slog.Logger
}

// NewDetector creates a Detector. Pass DefaultExpectations() for the
// built-in farewell expectation.
func NewDetector(breaks BreakStore, catalog CatalogReader, expectations map[domain.PatternType]Expectation, metrics *Metrics, logger *slog.Logger) *Detector {
	return &Detector{
		breaks:       breaks,
		catalog:      catalog,
		expectations: expectations,
		metrics:      metrics,
		logger:       logger,
	}
}

// Detect scans the relationship's established rituals and creates a
// BreakRecord for every missed, not-yet-recorded expectation window.
// Repeated calls within the same window never create duplicates.
func (d *Detector) Detect(ctx context.Context, rel *domain.Relationship, now time.Time) ([]domain.BreakRecord, error) {
	loc := d.location(rel)

	entries, err := d.catalog.ListByStatus(ctx, rel.ID, domain.StatusEstablished)
	if err != nil {
		return nil, fmt.Errorf("listing established rituals: %w", err)
	}

	var created []domain.BreakRecord
	for i := range entries {
		entry := &entries[i]
		exp, ok := d.expectations[entry.PatternType]
		if !ok {
			continue
		}

		expectedBy := exp.Window.lastClosedEnd(now.In(loc))

		// Windows that predate tracking can't have been missed.
		if !expectedBy.After(entry.FirstOccurrence) {
			continue
		}
		if !entry.LastOccurrence.Before(expectedBy) {
			continue
		}

		rec, err := d.createBreak(ctx, entry, expectedBy, now)
		if err != nil {
			return created, err
		}
		if rec != nil {
			created = append(created, *rec)
		}
	}
	return created, nil
}

func (d *Detector) createBreak(ctx context.Context, entry *domain.RitualEntry, expectedBy, now time.Time) (*domain.BreakRecord, error) {
	// The local calendar date identifies the window. ExpectedBy is the
	// same window rendered as an instant, which shifts when the
	// relationship's timezone changes; the date does not.
	windowDate := expectedBy.Format(windowDateLayout)

	exists, err := d.breaks.Exists(ctx, entry.RelationshipID, entry.Signature, windowDate)
	if err != nil {
		return nil, fmt.Errorf("checking break existence for %q: %w", entry.Signature, err)
	}
	if exists {
		return nil, nil
	}

	rec := &domain.BreakRecord{
		ID:             domain.NewID(),
		RelationshipID: entry.RelationshipID,
		Signature:      entry.Signature,
		ExpectedBy:     expectedBy,
		WindowDate:     windowDate,
		NoticedAt:      now.UTC(),
		Resolution:     domain.ResolutionUnaddressed,
		CreatedAt:      now.UTC(),
	}
	if err := d.breaks.Create(ctx, rec); err != nil {
		// A concurrent sweep inserted the same window first; that record
		// stands and this one is discarded.
		if errors.Is(err, ErrDuplicateBreak) {
			return nil, nil
		}
		return nil, fmt.Errorf("creating break record for %q: %w", entry.Signature, err)
	}

	if d.metrics != nil {
		d.metrics.BreaksDetected.Inc()
	}
	d.logger.InfoContext(ctx, "ritual break detected",
		slog.String("relationship_id", entry.RelationshipID.String()),
		slog.String("signature", entry.Signature),
		slog.Time("expected_by", expectedBy),
	)
	return rec, nil
}

// ResolveOnOccurrence marks every open break of the signature resumed, if
// the new occurrence landed after the break's expected window. Implements
// lifecycle.BreakResolver.
func (d *Detector) ResolveOnOccurrence(ctx context.Context, relationshipID uuid.UUID, signature string, at time.Time) error {
	open, err := d.breaks.ListOpenForSignature(ctx, relationshipID, signature)
	if err != nil {
		return fmt.Errorf("listing open breaks for %q: %w", signature, err)
	}
	for i := range open {
		b := &open[i]
		if !at.After(b.ExpectedBy) {
			continue
		}
		if err := d.breaks.Resolve(ctx, b.ID, domain.ResolutionResumed, true, at); err != nil {
			return fmt.Errorf("resolving break %s: %w", b.ID, err)
		}
		if d.metrics != nil {
			d.metrics.BreaksResumed.Inc()
		}
	}
	return nil
}

// SetResolution records a downstream response (mentioned / ignored) on an
// open break. The resumed resolution is reserved for ResolveOnOccurrence.
func (d *Detector) SetResolution(ctx context.Context, relationshipID, id uuid.UUID, resolution domain.Resolution, now time.Time) error {
	if resolution != domain.ResolutionMentioned && resolution != domain.ResolutionIgnored {
		return fmt.Errorf("resolution %q cannot be set externally", resolution)
	}
	rec, err := d.breaks.Get(ctx, relationshipID, id)
	if err != nil {
		return fmt.Errorf("getting break %s: %w", id, err)
	}
	if err := d.breaks.Resolve(ctx, rec.ID, resolution, rec.WasResumed, now); err != nil {
		return fmt.Errorf("resolving break %s: %w", id, err)
	}
	return nil
}

func (d *Detector) location(rel *domain.Relationship) *time.Location {
	if rel.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(rel.Timezone)
	if err != nil {
		d.logger.Warn("invalid relationship timezone, falling back to UTC",
			slog.String("relationship_id", rel.ID.String()),
			slog.String("timezone", rel.Timezone),
		)
		return time.UTC
	}
	return loc
}

// lastClosedEnd returns the end of the most recently completed daily window
// at or before local time now: today's end once it has passed, otherwise
// yesterday's.
func (w Window) lastClosedEnd(now time.Time) time.Time {
	year, month, day := now.Date()
	end := time.Date(year, month, day, 0, w.EndMinute, 0, 0, now.Location())
	if end.After(now) {
		end = end.AddDate(0, 0, -1)
	}
	return end
}
