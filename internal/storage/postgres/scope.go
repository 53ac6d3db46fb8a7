package postgres

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RelationshipScope returns a GORM scope that filters by relationship_id.
// Must be applied to every query in every repository method — rituals,
// occurrences, and breaks never cross relationship boundaries.
func RelationshipScope(relationshipID uuid.UUID) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("relationship_id = ?", relationshipID)
	}
}
