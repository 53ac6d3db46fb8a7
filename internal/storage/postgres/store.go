package postgres

import (
	"context"
	"sync"

	"github.com/jkaninda/mazoea/internal/breaks"
	"github.com/jkaninda/mazoea/internal/lifecycle"
	"github.com/jkaninda/mazoea/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
// It wraps the existing DB and lazily creates sub-store repositories.
type Store struct {
	pgDB *DB

	mu            sync.Mutex
	relationships storage.RelationshipStore
	rituals       lifecycle.RitualStore
	occurrences   lifecycle.OccurrenceStore
	breakRecords  breaks.BreakStore
}

// NewStore wraps an existing DB as a unified Store.
func NewStore(pgDB *DB) *Store {
	return &Store{pgDB: pgDB}
}

func (s *Store) Relationships() storage.RelationshipStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.relationships == nil {
		s.relationships = NewRelationshipRepository(s.pgDB.GormDB())
	}
	return s.relationships
}

func (s *Store) Rituals() lifecycle.RitualStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rituals == nil {
		s.rituals = NewRitualRepository(s.pgDB.GormDB())
	}
	return s.rituals
}

func (s *Store) Occurrences() lifecycle.OccurrenceStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.occurrences == nil {
		s.occurrences = NewOccurrenceRepository(s.pgDB.GormDB())
	}
	return s.occurrences
}

func (s *Store) Breaks() breaks.BreakStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.breakRecords == nil {
		s.breakRecords = NewBreakRepository(s.pgDB.GormDB())
	}
	return s.breakRecords
}

// Migrate is a no-op: PostgreSQL migration runs in Open() via autoMigrate.
func (s *Store) Migrate(_ context.Context) error {
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pgDB.Ping(ctx)
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	return s.pgDB.Close()
}

// Driver returns "postgres".
func (s *Store) Driver() string {
	return storage.DriverPostgres
}
