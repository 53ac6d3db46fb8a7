// Package lifecycle implements the ritual state machine.
//
// Every RitualEntry moves through a fixed directed graph:
//
//	emerging → established → fading → dormant → broken
//
// with resume edges (fading|dormant → established) whenever a new occurrence
// arrives. Idle-driven transitions are a pure function of (entry, now); the
// clock is always injected so tests stay deterministic.
//
// Core invariant: an occurrence always beats concurrent decay. Idle
// transitions are applied with a compare-and-swap on (status, last
// occurrence), so a RecordOccurrence racing a sweep either bumps the
// timestamp first (the CAS misses) or lands after the decay and resumes the
// entry. Either order ends established.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/mazoea/internal/domain"
	"github.com/jkaninda/mazoea/internal/ritual"
)

// Idle multipliers on top of FadeAfterIdle. An established entry fades at
// 1×, a fading entry goes dormant at 2×, a dormant entry breaks at 4×.
const (
	dormantIdleFactor = 2
	brokenIdleFactor  = 4
)

// ErrNotDismissable is returned when Dismiss targets an entry that is not dormant.
var ErrNotDismissable = errors.New("ritual is not dormant")

// RitualStore is the persistence interface for ritual entries.
type RitualStore interface {
	// MatchOrCreate returns the existing entry for (relationshipID,
	// signature) or atomically creates entry. The bool reports whether a
	// new row was created.
	MatchOrCreate(ctx context.Context, entry *domain.RitualEntry) (*domain.RitualEntry, bool, error)
	Get(ctx context.Context, relationshipID uuid.UUID, signature string) (*domain.RitualEntry, error)
	List(ctx context.Context, relationshipID uuid.UUID) ([]domain.RitualEntry, error)
	ListByStatus(ctx context.Context, relationshipID uuid.UUID, statuses ...domain.RitualStatus) ([]domain.RitualEntry, error)
	Update(ctx context.Context, entry *domain.RitualEntry) error
	// TransitionStatus applies an idle-driven transition only if the row
	// still matches the observed (status, lastOccurrence) snapshot.
	// Returns false without error when a concurrent write invalidated the
	// snapshot — the caller treats that as "occurrence won".
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.RitualStatus, lastOccurrence time.Time, clearResumed bool) (bool, error)
	// SetSignificanceNote stores a late-arriving note regardless of the
	// entry's current status.
	SetSignificanceNote(ctx context.Context, id uuid.UUID, note string) error
}

// OccurrenceStore is the append-only log of observed occurrences.
type OccurrenceStore interface {
	Append(ctx context.Context, rec *domain.OccurrenceRecord) error
	ListRecent(ctx context.Context, relationshipID uuid.UUID, signature string, limit int) ([]domain.OccurrenceRecord, error)
}

// SignificanceRequester is the outbound contract toward the generative
// collaborator. Implementations must be fire-and-forget: Request returns
// immediately and any result is applied out of band.
type SignificanceRequester interface {
	Request(entry *domain.RitualEntry, examples []string)
}

// BreakResolver marks open break records resolved when their ritual recurs.
type BreakResolver interface {
	ResolveOnOccurrence(ctx context.Context, relationshipID uuid.UUID, signature string, at time.Time) error
}

// Config carries the lifecycle tuning knobs applied to new entries.
type Config struct {
	EstablishThreshold int           // Occurrences needed to leave emerging. Default: 5.
	FadeAfterIdle      time.Duration // Idle time before established → fading. Default: 14 days.
}

func (c Config) establishThreshold() int {
	if c.EstablishThreshold > 0 {
		return c.EstablishThreshold
	}
	return 5
}

func (c Config) fadeAfterIdle() time.Duration {
	if c.FadeAfterIdle > 0 {
		return c.FadeAfterIdle
	}
	return 14 * 24 * time.Hour
}

// Engine drives ritual entries through the state machine.
type Engine struct {
	rituals      RitualStore
	occurrences  OccurrenceStore
	significance SignificanceRequester // nil = significance disabled.
	breaks       BreakResolver         // nil = break resolution disabled.
	metrics      *Metrics
	logger       *slog.Logger
	config       Config
}

// New creates an Engine.
func New(rituals RitualStore, occurrences OccurrenceStore, metrics *Metrics, logger *slog.Logger, cfg Config) *Engine {
	return &Engine{
		rituals:     rituals,
		occurrences: occurrences,
		metrics:     metrics,
		logger:      logger,
		config:      cfg,
	}
}

// WithSignificance attaches the generative-collaborator requester.
func (e *Engine) WithSignificance(s SignificanceRequester) *Engine {
	e.significance = s
	return e
}

// WithBreakResolver attaches the break detector's resolution hook.
func (e *Engine) WithBreakResolver(b BreakResolver) *Engine {
	e.breaks = b
	return e
}

// RecordOccurrence matches-or-creates the entry for the candidate, appends
// an occurrence record, and applies every occurrence-driven transition:
// threshold establishment, resume from fading/dormant, initiator majority.
// Storage failures are returned to the caller (retryable); the background
// task scheduler owns retry policy.
func (e *Engine) RecordOccurrence(ctx context.Context, relationshipID uuid.UUID, cand ritual.Candidate, initiator domain.Initiator, at time.Time) (*domain.RitualEntry, error) {
	now := at.UTC()

	entry, created, err := e.rituals.MatchOrCreate(ctx, &domain.RitualEntry{
		ID:                 domain.NewID(),
		RelationshipID:     relationshipID,
		Signature:          cand.Signature,
		PatternType:        cand.PatternType,
		Description:        cand.Description,
		Status:             domain.StatusEmerging,
		FirstOccurrence:    now,
		LastOccurrence:     now,
		PrimaryInitiator:   initiator,
		EstablishThreshold: e.config.establishThreshold(),
		FadeAfterIdle:      e.config.fadeAfterIdle(),
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		return nil, fmt.Errorf("matching ritual %q: %w", cand.Signature, err)
	}
	if created && e.metrics != nil {
		e.metrics.EntriesCreated.Inc()
	}

	// Broken is terminal: the occurrence is still logged for audit, but the
	// entry's state and counters no longer move. Re-emergence is tracked
	// under a new signature, not by resurrecting this one.
	terminal := entry.Status == domain.StatusBroken

	if err := e.occurrences.Append(ctx, &domain.OccurrenceRecord{
		ID:             domain.NewID(),
		RelationshipID: relationshipID,
		Signature:      cand.Signature,
		OccurredAt:     now,
		Initiator:      initiator,
		RawExcerpt:     cand.Excerpt,
		CreatedAt:      now,
	}); err != nil {
		return nil, fmt.Errorf("appending occurrence for %q: %w", cand.Signature, err)
	}
	if e.metrics != nil {
		e.metrics.OccurrencesRecorded.Inc()
	}
	if terminal {
		return entry, nil
	}

	prevStatus := entry.Status

	entry.OccurrenceCount++
	if now.After(entry.LastOccurrence) || created {
		entry.LastOccurrence = now
	}
	switch initiator {
	case domain.InitiatorPartyA:
		entry.PartyACount++
	case domain.InitiatorPartyB:
		entry.PartyBCount++
	}
	entry.PrimaryInitiator = majorityInitiator(entry.PartyACount, entry.PartyBCount)
	entry.UpdatedAt = now

	justEstablished := false
	switch entry.Status {
	case domain.StatusEmerging:
		// Transition fires exactly on the occurrence that reaches the
		// threshold, never before or after.
		if entry.OccurrenceCount == entry.EstablishThreshold {
			entry.Status = domain.StatusEstablished
			justEstablished = true
		}
	case domain.StatusFading, domain.StatusDormant:
		entry.Status = domain.StatusEstablished
		entry.WasJustResumed = true
	}

	if err := e.rituals.Update(ctx, entry); err != nil {
		return nil, fmt.Errorf("updating ritual %q: %w", cand.Signature, err)
	}
	if entry.Status != prevStatus {
		e.observeTransition(ctx, entry, prevStatus)
	}

	if justEstablished {
		e.requestSignificance(ctx, entry)
	}

	// Resolve any open break for this signature. Best effort — a failed
	// resolution is retried by the next sweep, never blocks the occurrence.
	if e.breaks != nil {
		if err := e.breaks.ResolveOnOccurrence(ctx, relationshipID, cand.Signature, now); err != nil {
			e.logger.WarnContext(ctx, "break resolution failed",
				slog.String("signature", cand.Signature),
				slog.String("error", err.Error()),
			)
		}
	}

	return entry, nil
}

// ReevaluateIdleStates applies idle-driven decay to every entry of the
// relationship. Pure with respect to time: all transitions derive from
// (entry, now). Safe to call redundantly and concurrently with
// RecordOccurrence — each transition is a CAS on the snapshot this sweep
// observed, so an occurrence that lands mid-sweep simply wins.
func (e *Engine) ReevaluateIdleStates(ctx context.Context, relationshipID uuid.UUID, now time.Time) error {
	now = now.UTC()

	entries, err := e.rituals.ListByStatus(ctx, relationshipID,
		domain.StatusEstablished, domain.StatusFading, domain.StatusDormant)
	if err != nil {
		return fmt.Errorf("listing rituals for idle sweep: %w", err)
	}

	for i := range entries {
		entry := &entries[i]
		next, changed := nextIdleStatus(entry, now)
		clearResumed := entry.WasJustResumed // Resumption is surfaced for one cycle only.
		if !changed && !clearResumed {
			continue
		}

		applied, err := e.rituals.TransitionStatus(ctx, entry.ID, entry.Status, next, entry.LastOccurrence, clearResumed)
		if err != nil {
			return fmt.Errorf("transitioning ritual %q to %s: %w", entry.Signature, next, err)
		}
		if !applied {
			// A concurrent occurrence moved LastOccurrence; by
			// construction the occurrence's resume takes precedence.
			continue
		}
		if changed {
			prev := entry.Status
			entry.Status = next
			e.observeTransition(ctx, entry, prev)
		}
	}
	return nil
}

// Dismiss applies the explicit external dismissal signal: dormant → broken.
func (e *Engine) Dismiss(ctx context.Context, relationshipID uuid.UUID, signature string) (*domain.RitualEntry, error) {
	entry, err := e.rituals.Get(ctx, relationshipID, signature)
	if err != nil {
		return nil, fmt.Errorf("getting ritual %q: %w", signature, err)
	}
	if entry.Status != domain.StatusDormant {
		return nil, fmt.Errorf("dismissing ritual %q in status %s: %w", signature, entry.Status, ErrNotDismissable)
	}

	applied, err := e.rituals.TransitionStatus(ctx, entry.ID, domain.StatusDormant, domain.StatusBroken, entry.LastOccurrence, false)
	if err != nil {
		return nil, fmt.Errorf("dismissing ritual %q: %w", signature, err)
	}
	if !applied {
		// An occurrence resumed the entry between Get and the CAS.
		return nil, fmt.Errorf("dismissing ritual %q: %w", signature, ErrNotDismissable)
	}
	prev := entry.Status
	entry.Status = domain.StatusBroken
	e.observeTransition(ctx, entry, prev)
	return entry, nil
}

// ApplySignificanceNote stores a late-arriving note. The entry may have
// changed state since the request was issued; the note is stored regardless.
func (e *Engine) ApplySignificanceNote(ctx context.Context, id uuid.UUID, note string) error {
	if note == "" {
		return nil
	}
	if err := e.rituals.SetSignificanceNote(ctx, id, note); err != nil {
		return fmt.Errorf("storing significance note: %w", err)
	}
	return nil
}

// nextIdleStatus computes the idle-driven successor state.
// Boundary semantics are inclusive: idle exactly equal to the threshold
// already transitions.
func nextIdleStatus(entry *domain.RitualEntry, now time.Time) (domain.RitualStatus, bool) {
	idle := entry.IdleFor(now)
	fade := entry.FadeAfterIdle

	switch entry.Status {
	case domain.StatusEstablished:
		if idle >= fade {
			return domain.StatusFading, true
		}
	case domain.StatusFading:
		if idle >= time.Duration(dormantIdleFactor)*fade {
			return domain.StatusDormant, true
		}
	case domain.StatusDormant:
		if idle >= time.Duration(brokenIdleFactor)*fade {
			return domain.StatusBroken, true
		}
	}
	return entry.Status, false
}

// majorityInitiator derives the primary initiator from per-party counts.
func majorityInitiator(a, b int) domain.Initiator {
	switch {
	case a > b:
		return domain.InitiatorPartyA
	case b > a:
		return domain.InitiatorPartyB
	default:
		return domain.InitiatorMutual
	}
}

// requestSignificance fires the one-time request toward the generative
// collaborator. Fully best-effort: a missing or failing collaborator never
// blocks the transition, the note simply stays empty.
func (e *Engine) requestSignificance(ctx context.Context, entry *domain.RitualEntry) {
	if e.significance == nil {
		return
	}
	examples := e.recentExcerpts(ctx, entry)
	e.significance.Request(entry, examples)
	if e.metrics != nil {
		e.metrics.SignificanceRequests.Inc()
	}
}

func (e *Engine) recentExcerpts(ctx context.Context, entry *domain.RitualEntry) []string {
	recs, err := e.occurrences.ListRecent(ctx, entry.RelationshipID, entry.Signature, 3)
	if err != nil {
		e.logger.WarnContext(ctx, "listing occurrence examples failed",
			slog.String("signature", entry.Signature),
			slog.String("error", err.Error()),
		)
		return nil
	}
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		if r.RawExcerpt != "" {
			out = append(out, r.RawExcerpt)
		}
	}
	return out
}

func (e *Engine) observeTransition(ctx context.Context, entry *domain.RitualEntry, from domain.RitualStatus) {
	if e.metrics != nil {
		e.metrics.Transitions.WithLabelValues(string(from), string(entry.Status)).Inc()
	}
	e.logger.InfoContext(ctx, "ritual transition",
		slog.String("relationship_id", entry.RelationshipID.String()),
		slog.String("signature", entry.Signature),
		slog.String("from", string(from)),
		slog.String("to", string(entry.Status)),
		slog.Int("occurrences", entry.OccurrenceCount),
	)
}
