package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/mazoea/internal/domain"
)

// OccurrenceRepository implements the append-only occurrence log with
// PostgreSQL. Records are never updated or deleted.
type OccurrenceRepository struct {
	db *gorm.DB
}

// NewOccurrenceRepository creates an OccurrenceRepository.
func NewOccurrenceRepository(db *gorm.DB) *OccurrenceRepository {
	return &OccurrenceRepository{db: db}
}

// Append persists a new occurrence record.
func (r *OccurrenceRepository) Append(ctx context.Context, rec *domain.OccurrenceRecord) error {
	model := toOccurrenceModel(rec)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending occurrence for %q: %w", rec.Signature, err)
	}
	return nil
}

// ListRecent returns the signature's most recent occurrences, newest first.
func (r *OccurrenceRepository) ListRecent(ctx context.Context, relationshipID uuid.UUID, signature string, limit int) ([]domain.OccurrenceRecord, error) {
	var models []OccurrenceModel
	if err := r.db.WithContext(ctx).
		Scopes(RelationshipScope(relationshipID)).
		Where("signature = ?", signature).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing occurrences for %q: %w", signature, err)
	}
	recs := make([]domain.OccurrenceRecord, len(models))
	for i := range models {
		recs[i] = *toOccurrenceDomain(&models[i])
	}
	return recs, nil
}
