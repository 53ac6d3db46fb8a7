// Package domain defines cross-cutting entity types used across the system.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// PatternType classifies what kind of ritual a signature describes.
type PatternType string

const (
	PatternGreeting    PatternType = "greeting"
	PatternFarewell    PatternType = "farewell"
	PatternPhrase      PatternType = "phrase"
	PatternEmojiRepeat PatternType = "emoji_repeat"
	PatternEmojiCombo  PatternType = "emoji_combo"
)

// RitualStatus is the lifecycle state of a tracked ritual.
// Transitions follow a fixed directed graph; see the lifecycle package.
type RitualStatus string

const (
	StatusEmerging    RitualStatus = "emerging"
	StatusEstablished RitualStatus = "established"
	StatusFading      RitualStatus = "fading"
	StatusDormant     RitualStatus = "dormant"
	StatusBroken      RitualStatus = "broken" // Terminal. Entries are never hard-deleted.
)

// Initiator identifies which party triggers a ritual's occurrences.
type Initiator string

const (
	InitiatorPartyA Initiator = "party_a"
	InitiatorPartyB Initiator = "party_b"
	InitiatorMutual Initiator = "mutual" // Tie or genuinely shared.
)

// Resolution describes how an expected-but-missed ritual was handled downstream.
type Resolution string

const (
	ResolutionUnaddressed Resolution = "unaddressed"
	ResolutionMentioned   Resolution = "mentioned"
	ResolutionIgnored     Resolution = "ignored"
	ResolutionResumed     Resolution = "resumed"
)

// Relationship represents one tracked two-party conversation.
// It is the partition key for everything else: rituals, occurrences, and
// breaks never cross relationship boundaries.
type Relationship struct {
	ID         uuid.UUID
	ExternalID string // Opaque ID supplied by the chat pipeline (unique).
	Timezone   string // IANA zone used for break expectation windows. Empty = UTC.
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RitualEntry is the persistent tracking record for one signature within
// one relationship. Created exactly once per distinct signature
// (idempotent match-or-create) and never hard-deleted — "broken" is a
// terminal but retained state.
type RitualEntry struct {
	ID             uuid.UUID
	RelationshipID uuid.UUID
	Signature      string // Canonical pattern signature. Unique per relationship.
	PatternType    PatternType
	Description    string // Human-readable (e.g. "goodnight ritual").
	Status         RitualStatus

	// OccurrenceCount increases only when a new OccurrenceRecord is
	// appended; idle re-evaluation never touches it.
	OccurrenceCount int

	FirstOccurrence time.Time
	LastOccurrence  time.Time // Always >= FirstOccurrence.

	// PrimaryInitiator is the majority initiator across all occurrences.
	// Ties resolve to mutual.
	PrimaryInitiator Initiator
	PartyACount      int
	PartyBCount      int

	// EstablishThreshold is the occurrence count needed to leave emerging.
	EstablishThreshold int
	// FadeAfterIdle is how long an established ritual may sit idle before fading.
	FadeAfterIdle time.Duration

	// SignificanceNote is supplied once, out of band, by the generative
	// collaborator after the emerging→established transition. Empty until
	// (and unless) it arrives.
	SignificanceNote string

	// WasJustResumed is set when an occurrence pulls the entry back to
	// established from fading or dormant, and cleared on the next
	// idle re-evaluation cycle.
	WasJustResumed bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IdleFor returns how long the entry has gone without an occurrence.
func (r *RitualEntry) IdleFor(now time.Time) time.Duration {
	return now.Sub(r.LastOccurrence)
}

// OccurrenceRecord is an append-only log entry for one observed instance
// of a ritual. Never updated or deleted (audit trail).
type OccurrenceRecord struct {
	ID             uuid.UUID
	RelationshipID uuid.UUID
	Signature      string
	OccurredAt     time.Time
	Initiator      Initiator
	// RawExcerpt is a bounded snippet of the triggering message, kept for
	// audit and debugging only — it is never re-matched.
	RawExcerpt string
	CreatedAt  time.Time
}

// BreakRecord is created when an established, recurrence-expected ritual
// fails to occur inside its expected window. At most one record exists per
// (relationship, signature, expectedBy).
type BreakRecord struct {
	ID             uuid.UUID
	RelationshipID uuid.UUID
	Signature      string
	ExpectedBy     time.Time // End of the missed expectation window.
	WindowDate     string    // Local calendar date of the window ("2006-01-02"). Idempotence key.
	NoticedAt      time.Time
	Resolution     Resolution
	WasResumed     bool // True once a new occurrence lands after ExpectedBy.
	ResolvedAt     *time.Time
	CreatedAt      time.Time
}

// Unresolved reports whether the break still needs downstream attention.
func (b *BreakRecord) Unresolved() bool {
	return b.Resolution == ResolutionUnaddressed && !b.WasResumed
}

// NewID generates a new random UUID.
func NewID() uuid.UUID {
	return uuid.New()
}
