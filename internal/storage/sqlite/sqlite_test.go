package sqlite

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jkaninda/mazoea/internal/breaks"
	"github.com/jkaninda/mazoea/internal/domain"
)

var testLogger = slog.New(slog.DiscardHandler)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "mazoea.db")}, testLogger)
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRelationship(t *testing.T, s *Store) *domain.Relationship {
	t.Helper()
	rel, err := s.Relationships().Ensure(context.Background(), "rel-"+t.Name())
	if err != nil {
		t.Fatalf("ensuring relationship: %v", err)
	}
	return rel
}

func testEntry(rel *domain.Relationship, signature string, at time.Time) *domain.RitualEntry {
	return &domain.RitualEntry{
		ID:                 domain.NewID(),
		RelationshipID:     rel.ID,
		Signature:          signature,
		PatternType:        domain.PatternFarewell,
		Description:        "goodnight ritual",
		Status:             domain.StatusEmerging,
		OccurrenceCount:    1,
		FirstOccurrence:    at,
		LastOccurrence:     at,
		PrimaryInitiator:   domain.InitiatorPartyA,
		PartyACount:        1,
		EstablishThreshold: 5,
		FadeAfterIdle:      14 * 24 * time.Hour,
		CreatedAt:          at,
		UpdatedAt:          at,
	}
}

func TestEnsureRelationshipIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first, err := s.Relationships().Ensure(ctx, "rel-1")
	if err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	second, err := s.Relationships().Ensure(ctx, "rel-1")
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("Ensure created two rows: %s vs %s", first.ID, second.ID)
	}

	rels, err := s.Relationships().List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rels) != 1 {
		t.Errorf("len(rels) = %d, want 1", len(rels))
	}
}

func TestSetTimezone(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	rel := testRelationship(t, s)

	if err := s.Relationships().SetTimezone(ctx, rel.ID, "America/New_York"); err != nil {
		t.Fatalf("SetTimezone: %v", err)
	}
	got, err := s.Relationships().GetByExternalID(ctx, rel.ExternalID)
	if err != nil {
		t.Fatalf("GetByExternalID: %v", err)
	}
	if got.Timezone != "America/New_York" {
		t.Errorf("Timezone = %q", got.Timezone)
	}

	if err := s.Relationships().SetTimezone(ctx, domain.NewID(), "UTC"); err == nil {
		t.Error("expected error for unknown relationship")
	}
}

func TestMatchOrCreate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	rel := testRelationship(t, s)
	at := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

	entry := testEntry(rel, "farewell:goodnight|🌙", at)
	created, isNew, err := s.Rituals().MatchOrCreate(ctx, entry)
	if err != nil {
		t.Fatalf("MatchOrCreate: %v", err)
	}
	if !isNew {
		t.Error("first MatchOrCreate should create")
	}

	again := testEntry(rel, "farewell:goodnight|🌙", at.Add(time.Hour))
	matched, isNew, err := s.Rituals().MatchOrCreate(ctx, again)
	if err != nil {
		t.Fatalf("second MatchOrCreate: %v", err)
	}
	if isNew {
		t.Error("second MatchOrCreate should match, not create")
	}
	if matched.ID != created.ID {
		t.Errorf("matched a different row: %s vs %s", matched.ID, created.ID)
	}

	// Same signature in another relationship is a separate entry.
	other, err := s.Relationships().Ensure(ctx, "rel-other")
	if err != nil {
		t.Fatalf("ensuring other relationship: %v", err)
	}
	_, isNew, err = s.Rituals().MatchOrCreate(ctx, testEntry(other, "farewell:goodnight|🌙", at))
	if err != nil {
		t.Fatalf("cross-relationship MatchOrCreate: %v", err)
	}
	if !isNew {
		t.Error("same signature in another relationship should create")
	}
}

func TestTransitionStatusSnapshot(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	rel := testRelationship(t, s)
	at := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

	entry := testEntry(rel, "farewell:goodnight", at)
	entry.Status = domain.StatusEstablished
	stored, _, err := s.Rituals().MatchOrCreate(ctx, entry)
	if err != nil {
		t.Fatalf("MatchOrCreate: %v", err)
	}

	ok, err := s.Rituals().TransitionStatus(ctx, stored.ID, domain.StatusEstablished, domain.StatusFading, at, false)
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if !ok {
		t.Fatal("matching snapshot should transition")
	}

	// Snapshot is now stale on both status and timestamp.
	ok, err = s.Rituals().TransitionStatus(ctx, stored.ID, domain.StatusEstablished, domain.StatusFading, at, false)
	if err != nil {
		t.Fatalf("stale TransitionStatus: %v", err)
	}
	if ok {
		t.Error("stale snapshot must not transition")
	}

	got, err := s.Rituals().Get(ctx, rel.ID, "farewell:goodnight")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.StatusFading {
		t.Errorf("Status = %s, want fading", got.Status)
	}
}

func TestListByStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	rel := testRelationship(t, s)
	at := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

	for i, tc := range []struct {
		signature string
		status    domain.RitualStatus
	}{
		{"farewell:goodnight", domain.StatusEstablished},
		{"greeting:good morning", domain.StatusEmerging},
		{"phrase:love you", domain.StatusFading},
	} {
		e := testEntry(rel, tc.signature, at.Add(time.Duration(i)*time.Hour))
		e.Status = tc.status
		if _, _, err := s.Rituals().MatchOrCreate(ctx, e); err != nil {
			t.Fatalf("creating %s: %v", tc.signature, err)
		}
	}

	got, err := s.Rituals().ListByStatus(ctx, rel.ID, domain.StatusEstablished, domain.StatusFading)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// Most recent last_occurrence first.
	if got[0].Signature != "phrase:love you" {
		t.Errorf("got[0] = %s", got[0].Signature)
	}

	all, err := s.Rituals().List(ctx, rel.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List len = %d, want 3", len(all))
	}
}

func TestSetSignificanceNote(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	rel := testRelationship(t, s)

	entry := testEntry(rel, "farewell:goodnight", time.Now().UTC())
	stored, _, err := s.Rituals().MatchOrCreate(ctx, entry)
	if err != nil {
		t.Fatalf("MatchOrCreate: %v", err)
	}
	if err := s.Rituals().SetSignificanceNote(ctx, stored.ID, "their way of closing the day"); err != nil {
		t.Fatalf("SetSignificanceNote: %v", err)
	}
	got, _ := s.Rituals().Get(ctx, rel.ID, "farewell:goodnight")
	if got.SignificanceNote != "their way of closing the day" {
		t.Errorf("SignificanceNote = %q", got.SignificanceNote)
	}
}

func TestOccurrenceListRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	rel := testRelationship(t, s)
	base := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := &domain.OccurrenceRecord{
			ID:             domain.NewID(),
			RelationshipID: rel.ID,
			Signature:      "farewell:goodnight",
			OccurredAt:     base.AddDate(0, 0, i),
			Initiator:      domain.InitiatorPartyA,
			RawExcerpt:     "Goodnight 🌙",
			CreatedAt:      base.AddDate(0, 0, i),
		}
		if err := s.Occurrences().Append(ctx, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recent, err := s.Occurrences().ListRecent(ctx, rel.ID, "farewell:goodnight", 3)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("len = %d, want 3", len(recent))
	}
	if !recent[0].OccurredAt.After(recent[1].OccurredAt) {
		t.Error("expected newest first")
	}
}

func TestBreakCreateDuplicate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	rel := testRelationship(t, s)
	expectedBy := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)

	rec := &domain.BreakRecord{
		ID:             domain.NewID(),
		RelationshipID: rel.ID,
		Signature:      "farewell:goodnight",
		ExpectedBy:     expectedBy,
		WindowDate:     "2026-03-01",
		NoticedAt:      expectedBy.Add(time.Hour),
		Resolution:     domain.ResolutionUnaddressed,
		CreatedAt:      expectedBy.Add(time.Hour),
	}
	if err := s.Breaks().Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Same window date under a shifted instant is still a duplicate.
	dup := *rec
	dup.ID = domain.NewID()
	dup.ExpectedBy = expectedBy.Add(-time.Hour)
	if err := s.Breaks().Create(ctx, &dup); !errors.Is(err, breaks.ErrDuplicateBreak) {
		t.Errorf("duplicate Create err = %v, want ErrDuplicateBreak", err)
	}

	exists, err := s.Breaks().Exists(ctx, rel.ID, "farewell:goodnight", "2026-03-01")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Error("Exists = false after Create")
	}
}

func TestBreakResolveAndListing(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	rel := testRelationship(t, s)
	base := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)

	var ids []domain.BreakRecord
	for i := 0; i < 3; i++ {
		rec := &domain.BreakRecord{
			ID:             domain.NewID(),
			RelationshipID: rel.ID,
			Signature:      "farewell:goodnight",
			ExpectedBy:     base.AddDate(0, 0, i),
			WindowDate:     base.AddDate(0, 0, i).Format("2006-01-02"),
			NoticedAt:      base.AddDate(0, 0, i).Add(time.Hour),
			Resolution:     domain.ResolutionUnaddressed,
			CreatedAt:      base.AddDate(0, 0, i).Add(time.Hour),
		}
		if err := s.Breaks().Create(ctx, rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, *rec)
	}

	if err := s.Breaks().Resolve(ctx, ids[0].ID, domain.ResolutionResumed, true, base.AddDate(0, 0, 3)); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	open, err := s.Breaks().ListUnresolved(ctx, rel.ID)
	if err != nil {
		t.Fatalf("ListUnresolved: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("open = %d, want 2", len(open))
	}
	// Newest window first.
	if !open[0].ExpectedBy.After(open[1].ExpectedBy) {
		t.Error("expected newest window first")
	}

	forSig, err := s.Breaks().ListOpenForSignature(ctx, rel.ID, "farewell:goodnight")
	if err != nil {
		t.Fatalf("ListOpenForSignature: %v", err)
	}
	if len(forSig) != 2 {
		t.Errorf("forSig = %d, want 2", len(forSig))
	}

	got, err := s.Breaks().Get(ctx, rel.ID, ids[0].ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Resolution != domain.ResolutionResumed || !got.WasResumed || got.ResolvedAt == nil {
		t.Errorf("resolved break = %+v", got)
	}
}
