package postgres

import (
	"time"

	"github.com/google/uuid"
)

// RelationshipModel maps to the "relationships" table.
type RelationshipModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	ExternalID string    `gorm:"not null;uniqueIndex"`
	Timezone   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (RelationshipModel) TableName() string { return "relationships" }

// RitualEntryModel maps to the "ritual_entries" table. The unique index on
// (relationship_id, signature) backs the match-or-create upsert.
type RitualEntryModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	RelationshipID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_rituals_rel_signature"`
	Signature      string    `gorm:"not null;uniqueIndex:idx_rituals_rel_signature"`
	PatternType    string    `gorm:"not null"`
	Description    string
	Status         string `gorm:"not null;index"`

	OccurrenceCount int       `gorm:"not null;default:0"`
	FirstOccurrence time.Time `gorm:"not null"`
	LastOccurrence  time.Time `gorm:"not null"`

	PrimaryInitiator string `gorm:"not null"`
	PartyACount      int    `gorm:"not null;default:0"`
	PartyBCount      int    `gorm:"not null;default:0"`

	EstablishThreshold int   `gorm:"not null"`
	FadeAfterIdleSecs  int64 `gorm:"not null"`

	SignificanceNote string
	WasJustResumed   bool `gorm:"not null;default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (RitualEntryModel) TableName() string { return "ritual_entries" }

// OccurrenceModel maps to the "ritual_occurrences" table. Append-only.
type OccurrenceModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	RelationshipID uuid.UUID `gorm:"type:uuid;not null;index:idx_occurrences_rel_signature"`
	Signature      string    `gorm:"not null;index:idx_occurrences_rel_signature"`
	OccurredAt     time.Time `gorm:"not null;index"`
	Initiator      string    `gorm:"not null"`
	RawExcerpt     string
	CreatedAt      time.Time
}

func (OccurrenceModel) TableName() string { return "ritual_occurrences" }

// BreakModel maps to the "ritual_breaks" table. The unique index on
// (relationship_id, signature, window_date) enforces break idempotence:
// the local calendar date survives timezone changes, the instant does not.
type BreakModel struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	RelationshipID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_breaks_rel_sig_window"`
	Signature      string     `gorm:"not null;uniqueIndex:idx_breaks_rel_sig_window"`
	WindowDate     string     `gorm:"not null;uniqueIndex:idx_breaks_rel_sig_window"`
	ExpectedBy     time.Time  `gorm:"not null"`
	NoticedAt      time.Time  `gorm:"not null"`
	Resolution     string     `gorm:"not null;index"`
	WasResumed     bool       `gorm:"not null;default:false"`
	ResolvedAt     *time.Time // NULL = never resolved.
	CreatedAt      time.Time
}

func (BreakModel) TableName() string { return "ritual_breaks" }
