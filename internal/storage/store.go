// Package storage defines the unified Store interface that abstracts all persistence operations.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL (production).
package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/jkaninda/mazoea/internal/breaks"
	"github.com/jkaninda/mazoea/internal/domain"
	"github.com/jkaninda/mazoea/internal/lifecycle"
)

// RelationshipStore is the persistence interface for tracked relationships.
// Ensure satisfies the ingestion pipeline's match-or-create contract; the
// remaining methods serve sweeps and the query surface.
type RelationshipStore interface {
	Ensure(ctx context.Context, externalID string) (*domain.Relationship, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.Relationship, error)
	List(ctx context.Context) ([]domain.Relationship, error)
	SetTimezone(ctx context.Context, id uuid.UUID, timezone string) error
}

// Store is the unified persistence interface for mazoea.
// It provides access to all domain-specific sub-stores through accessor
// methods. Both SQLite and PostgreSQL backends implement this interface.
type Store interface {
	Relationships() RelationshipStore
	Rituals() lifecycle.RitualStore
	Occurrences() lifecycle.OccurrenceStore
	Breaks() breaks.BreakStore

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"
