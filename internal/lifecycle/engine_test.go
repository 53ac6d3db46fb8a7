package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/mazoea/internal/domain"
	"github.com/jkaninda/mazoea/internal/ritual"
)

// --- In-memory fakes ---

type memRitualStore struct {
	mu      sync.Mutex
	entries map[string]*domain.RitualEntry // keyed by relationshipID + signature

	// beforeTransition, when set, runs between the sweep's snapshot and the
	// CAS — used to interleave a concurrent occurrence.
	beforeTransition func()
}

func newMemRitualStore() *memRitualStore {
	return &memRitualStore{entries: make(map[string]*domain.RitualEntry)}
}

func key(relID uuid.UUID, sig string) string { return relID.String() + "|" + sig }

func (s *memRitualStore) MatchOrCreate(_ context.Context, entry *domain.RitualEntry) (*domain.RitualEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(entry.RelationshipID, entry.Signature)
	if existing, ok := s.entries[k]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *entry
	cp.OccurrenceCount = 0
	s.entries[k] = &cp
	out := cp
	return &out, true, nil
}

func (s *memRitualStore) Get(_ context.Context, relID uuid.UUID, sig string) (*domain.RitualEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key(relID, sig)]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *e
	return &cp, nil
}

func (s *memRitualStore) List(_ context.Context, relID uuid.UUID) ([]domain.RitualEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RitualEntry
	for _, e := range s.entries {
		if e.RelationshipID == relID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *memRitualStore) ListByStatus(_ context.Context, relID uuid.UUID, statuses ...domain.RitualStatus) ([]domain.RitualEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RitualEntry
	for _, e := range s.entries {
		if e.RelationshipID != relID {
			continue
		}
		for _, st := range statuses {
			if e.Status == st {
				out = append(out, *e)
				break
			}
		}
	}
	return out, nil
}

func (s *memRitualStore) Update(_ context.Context, entry *domain.RitualEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.entries[key(entry.RelationshipID, entry.Signature)] = &cp
	return nil
}

func (s *memRitualStore) TransitionStatus(_ context.Context, id uuid.UUID, from, to domain.RitualStatus, lastOccurrence time.Time, clearResumed bool) (bool, error) {
	if s.beforeTransition != nil {
		s.beforeTransition()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID != id {
			continue
		}
		if e.Status != from || !e.LastOccurrence.Equal(lastOccurrence) {
			return false, nil
		}
		e.Status = to
		if clearResumed {
			e.WasJustResumed = false
		}
		return true, nil
	}
	return false, errors.New("not found")
}

func (s *memRitualStore) SetSignificanceNote(_ context.Context, id uuid.UUID, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			e.SignificanceNote = note
			return nil
		}
	}
	return errors.New("not found")
}

type memOccurrenceStore struct {
	mu   sync.Mutex
	recs []domain.OccurrenceRecord
}

func (s *memOccurrenceStore) Append(_ context.Context, rec *domain.OccurrenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, *rec)
	return nil
}

func (s *memOccurrenceStore) ListRecent(_ context.Context, relID uuid.UUID, sig string, limit int) ([]domain.OccurrenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OccurrenceRecord
	for i := len(s.recs) - 1; i >= 0 && len(out) < limit; i-- {
		r := s.recs[i]
		if r.RelationshipID == relID && r.Signature == sig {
			out = append(out, r)
		}
	}
	return out, nil
}

type recordingRequester struct {
	mu       sync.Mutex
	requests []string
}

func (r *recordingRequester) Request(entry *domain.RitualEntry, _ []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, entry.Signature)
}

// --- Helpers ---

var testLogger = slog.New(slog.DiscardHandler)

func newTestEngine(t *testing.T) (*Engine, *memRitualStore, *memOccurrenceStore) {
	t.Helper()
	rituals := newMemRitualStore()
	occs := &memOccurrenceStore{}
	eng := New(rituals, occs, nil, testLogger, Config{})
	return eng, rituals, occs
}

func goodnight() ritual.Candidate {
	return ritual.Candidate{
		Signature:   "farewell:goodnight|🌙",
		PatternType: domain.PatternFarewell,
		Description: "goodnight ritual",
		Excerpt:     "Goodnight 🌙",
	}
}

var day = 24 * time.Hour

// --- Tests ---

func TestRecordOccurrence_CreatesOnce(t *testing.T) {
	eng, rituals, _ := newTestEngine(t)
	ctx := context.Background()
	relID := domain.NewID()
	at := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)

	if _, err := eng.RecordOccurrence(ctx, relID, goodnight(), domain.InitiatorPartyA, at); err != nil {
		t.Fatalf("RecordOccurrence: %v", err)
	}
	if _, err := eng.RecordOccurrence(ctx, relID, goodnight(), domain.InitiatorPartyA, at.Add(day)); err != nil {
		t.Fatalf("RecordOccurrence: %v", err)
	}

	entries, _ := rituals.List(ctx, relID)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].OccurrenceCount != 2 {
		t.Errorf("OccurrenceCount = %d, want 2", entries[0].OccurrenceCount)
	}
	if entries[0].Status != domain.StatusEmerging {
		t.Errorf("Status = %s, want emerging", entries[0].Status)
	}
}

func TestRecordOccurrence_EstablishesExactlyAtThreshold(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()
	relID := domain.NewID()
	start := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		e, err := eng.RecordOccurrence(ctx, relID, goodnight(), domain.InitiatorPartyA, start.Add(time.Duration(i)*day))
		if err != nil {
			t.Fatalf("RecordOccurrence #%d: %v", i+1, err)
		}
		if e.Status != domain.StatusEmerging {
			t.Fatalf("occurrence %d: status %s, want emerging", i+1, e.Status)
		}
	}

	e, err := eng.RecordOccurrence(ctx, relID, goodnight(), domain.InitiatorPartyA, start.Add(4*day))
	if err != nil {
		t.Fatalf("RecordOccurrence #5: %v", err)
	}
	if e.Status != domain.StatusEstablished {
		t.Errorf("occurrence 5: status %s, want established", e.Status)
	}
	if e.OccurrenceCount != 5 {
		t.Errorf("OccurrenceCount = %d, want 5", e.OccurrenceCount)
	}
}

func TestRecordOccurrence_SignificanceRequestedOnce(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	req := &recordingRequester{}
	eng.WithSignificance(req)
	ctx := context.Background()
	relID := domain.NewID()
	start := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		if _, err := eng.RecordOccurrence(ctx, relID, goodnight(), domain.InitiatorPartyA, start.Add(time.Duration(i)*day)); err != nil {
			t.Fatalf("RecordOccurrence: %v", err)
		}
	}
	if len(req.requests) != 1 {
		t.Errorf("significance requested %d times, want 1", len(req.requests))
	}
}

func TestRecordOccurrence_MajorityInitiator(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()
	relID := domain.NewID()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	e, _ := eng.RecordOccurrence(ctx, relID, goodnight(), domain.InitiatorPartyA, at)
	if e.PrimaryInitiator != domain.InitiatorPartyA {
		t.Errorf("after 1×A: %s, want party_a", e.PrimaryInitiator)
	}
	e, _ = eng.RecordOccurrence(ctx, relID, goodnight(), domain.InitiatorPartyB, at.Add(day))
	if e.PrimaryInitiator != domain.InitiatorMutual {
		t.Errorf("after tie: %s, want mutual", e.PrimaryInitiator)
	}
	e, _ = eng.RecordOccurrence(ctx, relID, goodnight(), domain.InitiatorPartyB, at.Add(2*day))
	if e.PrimaryInitiator != domain.InitiatorPartyB {
		t.Errorf("after 2×B: %s, want party_b", e.PrimaryInitiator)
	}
}

func establishEntry(t *testing.T, eng *Engine, relID uuid.UUID, start time.Time) *domain.RitualEntry {
	t.Helper()
	var e *domain.RitualEntry
	var err error
	for i := 0; i < 5; i++ {
		e, err = eng.RecordOccurrence(context.Background(), relID, goodnight(), domain.InitiatorPartyA, start.Add(time.Duration(i)*day))
		if err != nil {
			t.Fatalf("RecordOccurrence: %v", err)
		}
	}
	if e.Status != domain.StatusEstablished {
		t.Fatalf("setup: status %s, want established", e.Status)
	}
	return e
}

func TestReevaluate_IdleDecayBoundary(t *testing.T) {
	eng, rituals, _ := newTestEngine(t)
	ctx := context.Background()
	relID := domain.NewID()
	start := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)
	e := establishEntry(t, eng, relID, start)
	last := e.LastOccurrence

	// 13d23h59m59s idle: still established.
	if err := eng.ReevaluateIdleStates(ctx, relID, last.Add(14*day-time.Second)); err != nil {
		t.Fatalf("ReevaluateIdleStates: %v", err)
	}
	got, _ := rituals.Get(ctx, relID, e.Signature)
	if got.Status != domain.StatusEstablished {
		t.Errorf("just under fade threshold: %s, want established", got.Status)
	}

	// 14d1s idle: fading.
	if err := eng.ReevaluateIdleStates(ctx, relID, last.Add(14*day+time.Second)); err != nil {
		t.Fatalf("ReevaluateIdleStates: %v", err)
	}
	got, _ = rituals.Get(ctx, relID, e.Signature)
	if got.Status != domain.StatusFading {
		t.Errorf("past fade threshold: %s, want fading", got.Status)
	}
}

func TestReevaluate_FullDecayChain(t *testing.T) {
	eng, rituals, _ := newTestEngine(t)
	ctx := context.Background()
	relID := domain.NewID()
	start := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)
	e := establishEntry(t, eng, relID, start)
	last := e.LastOccurrence

	steps := []struct {
		idle time.Duration
		want domain.RitualStatus
	}{
		{15 * day, domain.StatusFading},
		{29 * day, domain.StatusDormant},
		{57 * day, domain.StatusBroken},
	}
	for _, step := range steps {
		if err := eng.ReevaluateIdleStates(ctx, relID, last.Add(step.idle)); err != nil {
			t.Fatalf("ReevaluateIdleStates: %v", err)
		}
		got, _ := rituals.Get(ctx, relID, e.Signature)
		if got.Status != step.want {
			t.Errorf("idle %v: status %s, want %s", step.idle, got.Status, step.want)
		}
	}
}

func TestReevaluate_NoSkippingStates(t *testing.T) {
	// A single sweep far in the future moves established only one step,
	// to fading — decay is monotone per sweep, not a jump to dormant.
	eng, rituals, _ := newTestEngine(t)
	ctx := context.Background()
	relID := domain.NewID()
	start := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)
	e := establishEntry(t, eng, relID, start)

	if err := eng.ReevaluateIdleStates(ctx, relID, e.LastOccurrence.Add(100*day)); err != nil {
		t.Fatalf("ReevaluateIdleStates: %v", err)
	}
	got, _ := rituals.Get(ctx, relID, e.Signature)
	if got.Status != domain.StatusFading {
		t.Errorf("status %s, want fading after one sweep", got.Status)
	}
}

func TestResume_SetsWasJustResumedForOneCycle(t *testing.T) {
	eng, rituals, _ := newTestEngine(t)
	ctx := context.Background()
	relID := domain.NewID()
	start := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)
	e := establishEntry(t, eng, relID, start)

	// Decay to fading, then a new occurrence resumes.
	if err := eng.ReevaluateIdleStates(ctx, relID, e.LastOccurrence.Add(15*day)); err != nil {
		t.Fatalf("ReevaluateIdleStates: %v", err)
	}
	resumed, err := eng.RecordOccurrence(ctx, relID, goodnight(), domain.InitiatorPartyA, e.LastOccurrence.Add(16*day))
	if err != nil {
		t.Fatalf("RecordOccurrence: %v", err)
	}
	if resumed.Status != domain.StatusEstablished {
		t.Fatalf("status %s, want established", resumed.Status)
	}
	if !resumed.WasJustResumed {
		t.Error("WasJustResumed not set on resume")
	}

	// Next sweep clears the flag without changing state.
	if err := eng.ReevaluateIdleStates(ctx, relID, resumed.LastOccurrence.Add(time.Hour)); err != nil {
		t.Fatalf("ReevaluateIdleStates: %v", err)
	}
	got, _ := rituals.Get(ctx, relID, e.Signature)
	if got.WasJustResumed {
		t.Error("WasJustResumed survived a sweep cycle")
	}
	if got.Status != domain.StatusEstablished {
		t.Errorf("status %s, want established", got.Status)
	}
}

func TestResume_FromDormant(t *testing.T) {
	eng, rituals, _ := newTestEngine(t)
	ctx := context.Background()
	relID := domain.NewID()
	start := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)
	e := establishEntry(t, eng, relID, start)

	_ = eng.ReevaluateIdleStates(ctx, relID, e.LastOccurrence.Add(15*day))
	_ = eng.ReevaluateIdleStates(ctx, relID, e.LastOccurrence.Add(29*day))
	got, _ := rituals.Get(ctx, relID, e.Signature)
	if got.Status != domain.StatusDormant {
		t.Fatalf("setup: status %s, want dormant", got.Status)
	}

	resumed, err := eng.RecordOccurrence(ctx, relID, goodnight(), domain.InitiatorPartyA, e.LastOccurrence.Add(30*day))
	if err != nil {
		t.Fatalf("RecordOccurrence: %v", err)
	}
	if resumed.Status != domain.StatusEstablished || !resumed.WasJustResumed {
		t.Errorf("status=%s resumed=%v, want established/true", resumed.Status, resumed.WasJustResumed)
	}
}

func TestResumptionPrecedence_OccurrenceBeatsConcurrentSweep(t *testing.T) {
	eng, rituals, _ := newTestEngine(t)
	ctx := context.Background()
	relID := domain.NewID()
	start := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)
	e := establishEntry(t, eng, relID, start)
	last := e.LastOccurrence

	// Interleave: the sweep snapshots the entry as established-and-idle,
	// then an occurrence lands before the sweep's CAS. The CAS must miss.
	rituals.beforeTransition = func() {
		rituals.beforeTransition = nil // fire once
		if _, err := eng.RecordOccurrence(ctx, relID, goodnight(), domain.InitiatorPartyA, last.Add(15*day)); err != nil {
			t.Errorf("concurrent RecordOccurrence: %v", err)
		}
	}

	if err := eng.ReevaluateIdleStates(ctx, relID, last.Add(15*day)); err != nil {
		t.Fatalf("ReevaluateIdleStates: %v", err)
	}

	got, _ := rituals.Get(ctx, relID, e.Signature)
	if got.Status != domain.StatusEstablished {
		t.Errorf("status %s, want established (occurrence must win)", got.Status)
	}
}

func TestDismiss_OnlyFromDormant(t *testing.T) {
	eng, rituals, _ := newTestEngine(t)
	ctx := context.Background()
	relID := domain.NewID()
	start := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)
	e := establishEntry(t, eng, relID, start)

	if _, err := eng.Dismiss(ctx, relID, e.Signature); !errors.Is(err, ErrNotDismissable) {
		t.Errorf("dismiss established: err = %v, want ErrNotDismissable", err)
	}

	_ = eng.ReevaluateIdleStates(ctx, relID, e.LastOccurrence.Add(15*day))
	_ = eng.ReevaluateIdleStates(ctx, relID, e.LastOccurrence.Add(29*day))

	dismissed, err := eng.Dismiss(ctx, relID, e.Signature)
	if err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if dismissed.Status != domain.StatusBroken {
		t.Errorf("status %s, want broken", dismissed.Status)
	}

	// Broken is terminal: a later occurrence is logged but moves nothing.
	after, err := eng.RecordOccurrence(ctx, relID, goodnight(), domain.InitiatorPartyA, e.LastOccurrence.Add(40*day))
	if err != nil {
		t.Fatalf("RecordOccurrence after break: %v", err)
	}
	if after.Status != domain.StatusBroken {
		t.Errorf("status %s, want broken (terminal)", after.Status)
	}
	got, _ := rituals.Get(ctx, relID, e.Signature)
	if got.OccurrenceCount != 5 {
		t.Errorf("OccurrenceCount moved on broken entry: %d", got.OccurrenceCount)
	}
}

func TestApplySignificanceNote_LateArrival(t *testing.T) {
	eng, rituals, _ := newTestEngine(t)
	ctx := context.Background()
	relID := domain.NewID()
	start := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)
	e := establishEntry(t, eng, relID, start)

	// Entry has since decayed; the note is stored anyway.
	_ = eng.ReevaluateIdleStates(ctx, relID, e.LastOccurrence.Add(15*day))
	if err := eng.ApplySignificanceNote(ctx, e.ID, "a shared way of closing the day"); err != nil {
		t.Fatalf("ApplySignificanceNote: %v", err)
	}
	got, _ := rituals.Get(ctx, relID, e.Signature)
	if got.SignificanceNote == "" {
		t.Error("note not stored on faded entry")
	}
}

// End-to-end scenario: extraction through establishment, decay, resume.
func TestScenario_GoodnightRitual(t *testing.T) {
	eng, rituals, _ := newTestEngine(t)
	ext := ritual.NewExtractor(ritual.DefaultRules())
	ctx := context.Background()
	relID := domain.NewID()
	base := time.Date(2026, 3, 1, 21, 30, 0, 0, time.UTC)

	// Scenario A: days 1, 3, 6, 10, 13 → established with count 5.
	var last *domain.RitualEntry
	for _, d := range []int{0, 2, 5, 9, 12} {
		cands := ext.Extract("Goodnight 🌙", nil)
		if len(cands) != 1 {
			t.Fatalf("extract: %d candidates, want 1", len(cands))
		}
		var err error
		last, err = eng.RecordOccurrence(ctx, relID, cands[0], domain.InitiatorPartyA, base.Add(time.Duration(d)*day))
		if err != nil {
			t.Fatalf("RecordOccurrence day %d: %v", d+1, err)
		}
	}
	if last.Status != domain.StatusEstablished || last.OccurrenceCount != 5 {
		t.Fatalf("scenario A: status=%s count=%d, want established/5", last.Status, last.OccurrenceCount)
	}
	if last.PrimaryInitiator != domain.InitiatorPartyA {
		t.Errorf("scenario A: initiator %s, want party_a", last.PrimaryInitiator)
	}

	// Scenario B: 15 idle days → fading; day 16 farewell → resumed.
	if err := eng.ReevaluateIdleStates(ctx, relID, last.LastOccurrence.Add(15*day)); err != nil {
		t.Fatalf("ReevaluateIdleStates: %v", err)
	}
	got, _ := rituals.Get(ctx, relID, last.Signature)
	if got.Status != domain.StatusFading {
		t.Fatalf("scenario B: status %s, want fading", got.Status)
	}

	cands := ext.Extract("goodnight 🌙", nil)
	resumed, err := eng.RecordOccurrence(ctx, relID, cands[0], domain.InitiatorPartyA, last.LastOccurrence.Add(16*day))
	if err != nil {
		t.Fatalf("RecordOccurrence: %v", err)
	}
	if resumed.Status != domain.StatusEstablished || !resumed.WasJustResumed {
		t.Errorf("scenario B: status=%s resumed=%v, want established/true", resumed.Status, resumed.WasJustResumed)
	}
}
