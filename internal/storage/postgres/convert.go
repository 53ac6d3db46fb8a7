package postgres

import (
	"time"

	"github.com/jkaninda/mazoea/internal/domain"
)

// --- Relationship ---

func toRelationshipDomain(m *RelationshipModel) *domain.Relationship {
	return &domain.Relationship{
		ID:         m.ID,
		ExternalID: m.ExternalID,
		Timezone:   m.Timezone,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

// --- RitualEntry ---

func toRitualEntryModel(e *domain.RitualEntry) RitualEntryModel {
	return RitualEntryModel{
		ID:                 e.ID,
		RelationshipID:     e.RelationshipID,
		Signature:          e.Signature,
		PatternType:        string(e.PatternType),
		Description:        e.Description,
		Status:             string(e.Status),
		OccurrenceCount:    e.OccurrenceCount,
		FirstOccurrence:    e.FirstOccurrence,
		LastOccurrence:     e.LastOccurrence,
		PrimaryInitiator:   string(e.PrimaryInitiator),
		PartyACount:        e.PartyACount,
		PartyBCount:        e.PartyBCount,
		EstablishThreshold: e.EstablishThreshold,
		FadeAfterIdleSecs:  int64(e.FadeAfterIdle / time.Second),
		SignificanceNote:   e.SignificanceNote,
		WasJustResumed:     e.WasJustResumed,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

func toRitualEntryDomain(m *RitualEntryModel) *domain.RitualEntry {
	return &domain.RitualEntry{
		ID:                 m.ID,
		RelationshipID:     m.RelationshipID,
		Signature:          m.Signature,
		PatternType:        domain.PatternType(m.PatternType),
		Description:        m.Description,
		Status:             domain.RitualStatus(m.Status),
		OccurrenceCount:    m.OccurrenceCount,
		FirstOccurrence:    m.FirstOccurrence,
		LastOccurrence:     m.LastOccurrence,
		PrimaryInitiator:   domain.Initiator(m.PrimaryInitiator),
		PartyACount:        m.PartyACount,
		PartyBCount:        m.PartyBCount,
		EstablishThreshold: m.EstablishThreshold,
		FadeAfterIdle:      time.Duration(m.FadeAfterIdleSecs) * time.Second,
		SignificanceNote:   m.SignificanceNote,
		WasJustResumed:     m.WasJustResumed,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

// --- Occurrence ---

func toOccurrenceModel(r *domain.OccurrenceRecord) OccurrenceModel {
	return OccurrenceModel{
		ID:             r.ID,
		RelationshipID: r.RelationshipID,
		Signature:      r.Signature,
		OccurredAt:     r.OccurredAt,
		Initiator:      string(r.Initiator),
		RawExcerpt:     r.RawExcerpt,
		CreatedAt:      r.CreatedAt,
	}
}

func toOccurrenceDomain(m *OccurrenceModel) *domain.OccurrenceRecord {
	return &domain.OccurrenceRecord{
		ID:             m.ID,
		RelationshipID: m.RelationshipID,
		Signature:      m.Signature,
		OccurredAt:     m.OccurredAt,
		Initiator:      domain.Initiator(m.Initiator),
		RawExcerpt:     m.RawExcerpt,
		CreatedAt:      m.CreatedAt,
	}
}

// --- Break ---

func toBreakModel(b *domain.BreakRecord) BreakModel {
	return BreakModel{
		ID:             b.ID,
		RelationshipID: b.RelationshipID,
		Signature:      b.Signature,
		WindowDate:     b.WindowDate,
		ExpectedBy:     b.ExpectedBy,
		NoticedAt:      b.NoticedAt,
		Resolution:     string(b.Resolution),
		WasResumed:     b.WasResumed,
		ResolvedAt:     b.ResolvedAt,
		CreatedAt:      b.CreatedAt,
	}
}

func toBreakDomain(m *BreakModel) *domain.BreakRecord {
	return &domain.BreakRecord{
		ID:             m.ID,
		RelationshipID: m.RelationshipID,
		Signature:      m.Signature,
		WindowDate:     m.WindowDate,
		ExpectedBy:     m.ExpectedBy,
		NoticedAt:      m.NoticedAt,
		Resolution:     domain.Resolution(m.Resolution),
		WasResumed:     m.WasResumed,
		ResolvedAt:     m.ResolvedAt,
		CreatedAt:      m.CreatedAt,
	}
}
