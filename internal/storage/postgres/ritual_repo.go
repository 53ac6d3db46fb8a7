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

// RitualRepository implements ritual entry persistence with PostgreSQL.
// It satisfies the lifecycle engine's RitualStore interface.
type RitualRepository struct {
	db *gorm.DB
}

// NewRitualRepository creates a RitualRepository.
func NewRitualRepository(db *gorm.DB) *RitualRepository {
	return &RitualRepository{db: db}
}

// MatchOrCreate returns the existing entry for (relationshipID, signature)
// or atomically creates entry. The unique index on the pair makes the
// ON CONFLICT DO NOTHING insert race-safe: exactly one caller creates,
// everyone else reads the surviving row.
func (r *RitualRepository) MatchOrCreate(ctx context.Context, entry *domain.RitualEntry) (*domain.RitualEntry, bool, error) {
	model := toRitualEntryModel(entry)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "relationship_id"}, {Name: "signature"}},
			DoNothing: true,
		}).
		Create(&model)
	if result.Error != nil {
		return nil, false, fmt.Errorf("creating ritual entry %q: %w", entry.Signature, result.Error)
	}
	if result.RowsAffected > 0 {
		return toRitualEntryDomain(&model), true, nil
	}
	existing, err := r.Get(ctx, entry.RelationshipID, entry.Signature)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Get retrieves a ritual entry by signature within a relationship.
func (r *RitualRepository) Get(ctx context.Context, relationshipID uuid.UUID, signature string) (*domain.RitualEntry, error) {
	var model RitualEntryModel
	if err := r.db.WithContext(ctx).
		Scopes(RelationshipScope(relationshipID)).
		First(&model, "signature = ?", signature).Error; err != nil {
		return nil, fmt.Errorf("getting ritual entry %q: %w", signature, err)
	}
	return toRitualEntryDomain(&model), nil
}

// List returns all ritual entries for a relationship, most recent first.
func (r *RitualRepository) List(ctx context.Context, relationshipID uuid.UUID) ([]domain.RitualEntry, error) {
	var models []RitualEntryModel
	if err := r.db.WithContext(ctx).
		Scopes(RelationshipScope(relationshipID)).
		Order("last_occurrence DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing ritual entries: %w", err)
	}
	return toRitualEntryDomains(models), nil
}

// ListByStatus returns the relationship's entries in any of the given statuses.
func (r *RitualRepository) ListByStatus(ctx context.Context, relationshipID uuid.UUID, statuses ...domain.RitualStatus) ([]domain.RitualEntry, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	vals := make([]string, len(statuses))
	for i, s := range statuses {
		vals[i] = string(s)
	}
	var models []RitualEntryModel
	if err := r.db.WithContext(ctx).
		Scopes(RelationshipScope(relationshipID)).
		Where("status IN ?", vals).
		Order("last_occurrence DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing ritual entries by status: %w", err)
	}
	return toRitualEntryDomains(models), nil
}

// Update persists changes to an existing ritual entry.
func (r *RitualRepository) Update(ctx context.Context, entry *domain.RitualEntry) error {
	model := toRitualEntryModel(entry)
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return fmt.Errorf("updating ritual entry %q: %w", entry.Signature, err)
	}
	return nil
}

// TransitionStatus applies an idle-driven transition only if the row still
// matches the observed (status, last_occurrence) snapshot. A zero
// RowsAffected means a concurrent occurrence invalidated the snapshot; the
// caller treats that as "occurrence won", not an error.
func (r *RitualRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.RitualStatus, lastOccurrence time.Time, clearResumed bool) (bool, error) {
	updates := map[string]any{
		"status":     string(to),
		"updated_at": time.Now().UTC(),
	}
	if clearResumed {
		updates["was_just_resumed"] = false
	}
	result := r.db.WithContext(ctx).
		Model(&RitualEntryModel{}).
		Where("id = ? AND status = ? AND last_occurrence = ?", id, string(from), lastOccurrence).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("transitioning ritual entry %s to %s: %w", id, to, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SetSignificanceNote stores a late-arriving note regardless of the entry's
// current status.
func (r *RitualRepository) SetSignificanceNote(ctx context.Context, id uuid.UUID, note string) error {
	result := r.db.WithContext(ctx).
		Model(&RitualEntryModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"significance_note": note,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("setting significance note for %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("ritual entry %s not found", id)
	}
	return nil
}

func toRitualEntryDomains(models []RitualEntryModel) []domain.RitualEntry {
	entries := make([]domain.RitualEntry, len(models))
	for i := range models {
		entries[i] = *toRitualEntryDomain(&models[i])
	}
	return entries
}
