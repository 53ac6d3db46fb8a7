package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/mazoea/internal/domain"
)

// RelationshipRepository implements relationship persistence with PostgreSQL.
type RelationshipRepository struct {
	db *gorm.DB
}

// NewRelationshipRepository creates a RelationshipRepository.
func NewRelationshipRepository(db *gorm.DB) *RelationshipRepository {
	return &RelationshipRepository{db: db}
}

// Ensure returns the relationship for externalID, creating it on first
// sight. Concurrent calls for the same externalID converge on one row via
// ON CONFLICT DO NOTHING plus a re-read.
func (r *RelationshipRepository) Ensure(ctx context.Context, externalID string) (*domain.Relationship, error) {
	now := time.Now().UTC()
	model := RelationshipModel{
		ID:         domain.NewID(),
		ExternalID: externalID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoNothing: true,
		}).
		Create(&model).Error; err != nil {
		return nil, fmt.Errorf("ensuring relationship %q: %w", externalID, err)
	}
	// Re-read: the insert may have been a no-op against an existing row.
	return r.GetByExternalID(ctx, externalID)
}

// GetByExternalID retrieves a relationship by its external ID.
func (r *RelationshipRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Relationship, error) {
	var model RelationshipModel
	if err := r.db.WithContext(ctx).
		First(&model, "external_id = ?", externalID).Error; err != nil {
		return nil, fmt.Errorf("getting relationship %q: %w", externalID, err)
	}
	return toRelationshipDomain(&model), nil
}

// List returns all tracked relationships, oldest first.
func (r *RelationshipRepository) List(ctx context.Context) ([]domain.Relationship, error) {
	var models []RelationshipModel
	if err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing relationships: %w", err)
	}
	rels := make([]domain.Relationship, len(models))
	for i := range models {
		rels[i] = *toRelationshipDomain(&models[i])
	}
	return rels, nil
}

// SetTimezone updates the relationship's IANA timezone.
func (r *RelationshipRepository) SetTimezone(ctx context.Context, id uuid.UUID, timezone string) error {
	result := r.db.WithContext(ctx).
		Model(&RelationshipModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"timezone":   timezone,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("setting timezone for relationship %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("relationship %s not found", id)
	}
	return nil
}
