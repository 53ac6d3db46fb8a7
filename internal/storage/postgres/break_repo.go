package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/jkaninda/mazoea/internal/breaks"
	"github.com/jkaninda/mazoea/internal/domain"
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

// BreakRepository implements break record persistence with PostgreSQL.
// It satisfies the break detector's BreakStore interface.
type BreakRepository struct {
	db *gorm.DB
}

// NewBreakRepository creates a BreakRepository.
func NewBreakRepository(db *gorm.DB) *BreakRepository {
	return &BreakRepository{db: db}
}

// Create persists a new break record. A unique violation on
// (relationship_id, signature, window_date) maps to ErrDuplicateBreak so
// concurrent sweeps of the same window stay idempotent.
func (r *BreakRepository) Create(ctx context.Context, rec *domain.BreakRecord) error {
	model := toBreakModel(rec)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return breaks.ErrDuplicateBreak
		}
		return fmt.Errorf("creating break record for %q: %w", rec.Signature, err)
	}
	return nil
}

// Exists reports whether a break record for the window already exists.
func (r *BreakRepository) Exists(ctx context.Context, relationshipID uuid.UUID, signature, windowDate string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&BreakModel{}).
		Scopes(RelationshipScope(relationshipID)).
		Where("signature = ? AND window_date = ?", signature, windowDate).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking break existence for %q: %w", signature, err)
	}
	return count > 0, nil
}

// ListUnresolved returns the relationship's open breaks, newest window first.
func (r *BreakRepository) ListUnresolved(ctx context.Context, relationshipID uuid.UUID) ([]domain.BreakRecord, error) {
	var models []BreakModel
	if err := r.db.WithContext(ctx).
		Scopes(RelationshipScope(relationshipID)).
		Where("resolution = ? AND was_resumed = ?", string(domain.ResolutionUnaddressed), false).
		Order("expected_by DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing unresolved breaks: %w", err)
	}
	return toBreakDomains(models), nil
}

// ListOpenForSignature returns the signature's open breaks, newest window first.
func (r *BreakRepository) ListOpenForSignature(ctx context.Context, relationshipID uuid.UUID, signature string) ([]domain.BreakRecord, error) {
	var models []BreakModel
	if err := r.db.WithContext(ctx).
		Scopes(RelationshipScope(relationshipID)).
		Where("signature = ? AND resolution = ? AND was_resumed = ?",
			signature, string(domain.ResolutionUnaddressed), false).
		Order("expected_by DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing open breaks for %q: %w", signature, err)
	}
	return toBreakDomains(models), nil
}

// Get retrieves a break record by ID within a relationship.
func (r *BreakRepository) Get(ctx context.Context, relationshipID, id uuid.UUID) (*domain.BreakRecord, error) {
	var model BreakModel
	if err := r.db.WithContext(ctx).
		Scopes(RelationshipScope(relationshipID)).
		First(&model, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("getting break %s: %w", id, err)
	}
	return toBreakDomain(&model), nil
}

// Resolve records the downstream outcome of a break.
func (r *BreakRepository) Resolve(ctx context.Context, id uuid.UUID, resolution domain.Resolution, wasResumed bool, at time.Time) error {
	resolvedAt := at.UTC()
	result := r.db.WithContext(ctx).
		Model(&BreakModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"resolution":  string(resolution),
			"was_resumed": wasResumed,
			"resolved_at": &resolvedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("resolving break %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("break %s not found", id)
	}
	return nil
}

// isUniqueViolation detects unique constraint violations on both backends:
// SQLSTATE 23505 from PostgreSQL and the SQLite error text (these
// repositories are reused by the sqlite store).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toBreakDomains(models []BreakModel) []domain.BreakRecord {
	recs := make([]domain.BreakRecord, len(models))
	for i := range models {
		recs[i] = *toBreakDomain(&models[i])
	}
	return recs
}
