// Package catalog exposes the read-only query façade consumed by the prose
// renderer before each outbound conversational turn. It is a pure
// projection over the repository: no writes, no background state, safe to
// call at arbitrary frequency.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/mazoea/internal/domain"
)

// RitualReader is the read view of the ritual catalog.
type RitualReader interface {
	ListByStatus(ctx context.Context, relationshipID uuid.UUID, statuses ...domain.RitualStatus) ([]domain.RitualEntry, error)
}

// BreakReader is the read view of break records.
type BreakReader interface {
	ListUnresolved(ctx context.Context, relationshipID uuid.UUID) ([]domain.BreakRecord, error)
}

// Snapshot is the ready-to-render view of one relationship's rituals.
// All slices are sorted for stable rendering: rituals by recency of last
// occurrence, breaks by expected-by descending.
type Snapshot struct {
	TakenAt          time.Time
	Established      []domain.RitualEntry
	Emerging         []domain.RitualEntry // Only entries at or above the visibility threshold.
	Fading           []domain.RitualEntry // Surfaced so the renderer can nudge before dormancy.
	UnresolvedBreaks []domain.BreakRecord
}

// Facade assembles snapshots.
type Facade struct {
	rituals RitualReader
	breaks  BreakReader
	// MinEmergingCount is the visibility threshold for emerging entries.
	minEmergingCount int
}

// NewFacade creates a Facade. minEmergingCount <= 0 defaults to 2: a
// pattern seen once is noise, twice is a candidate worth surfacing.
func NewFacade(rituals RitualReader, breaks BreakReader, minEmergingCount int) *Facade {
	if minEmergingCount <= 0 {
		minEmergingCount = 2
	}
	return &Facade{rituals: rituals, breaks: breaks, minEmergingCount: minEmergingCount}
}

// Snapshot returns the current catalog view for one relationship.
func (f *Facade) Snapshot(ctx context.Context, relationshipID uuid.UUID, now time.Time) (*Snapshot, error) {
	entries, err := f.rituals.ListByStatus(ctx, relationshipID,
		domain.StatusEstablished, domain.StatusEmerging, domain.StatusFading)
	if err != nil {
		return nil, fmt.Errorf("listing rituals: %w", err)
	}

	snap := &Snapshot{TakenAt: now.UTC()}
	for _, e := range entries {
		switch e.Status {
		case domain.StatusEstablished:
			snap.Established = append(snap.Established, e)
		case domain.StatusFading:
			snap.Fading = append(snap.Fading, e)
		case domain.StatusEmerging:
			if e.OccurrenceCount >= f.minEmergingCount {
				snap.Emerging = append(snap.Emerging, e)
			}
		}
	}

	byRecency := func(entries []domain.RitualEntry) func(i, j int) bool {
		return func(i, j int) bool {
			return entries[i].LastOccurrence.After(entries[j].LastOccurrence)
		}
	}
	sort.Slice(snap.Established, byRecency(snap.Established))
	sort.Slice(snap.Emerging, byRecency(snap.Emerging))
	sort.Slice(snap.Fading, byRecency(snap.Fading))

	unresolved, err := f.breaks.ListUnresolved(ctx, relationshipID)
	if err != nil {
		return nil, fmt.Errorf("listing unresolved breaks: %w", err)
	}
	sort.Slice(unresolved, func(i, j int) bool {
		return unresolved[i].ExpectedBy.After(unresolved[j].ExpectedBy)
	})
	snap.UnresolvedBreaks = unresolved

	return snap, nil
}
