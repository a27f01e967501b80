package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/overlab-kevin/clinical-trial-matcher/internal/database"
)

// Mirror replicates the store into a Postgres match_results row keyed by
// patient, so other services can read the ranking without touching the
// output file. The file stays the source of truth; mirroring is
// best-effort and callers treat failures as non-fatal.
type Mirror struct {
	db         *sql.DB
	queries    *database.Queries
	patientKey string
}

// OpenMirror connects to Postgres at dbURL.
func OpenMirror(dbURL, patientKey string) (*Mirror, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("error opening db: %w", err)
	}
	return &Mirror{db: db, queries: database.New(db), patientKey: patientKey}, nil
}

// Sync upserts the store's full evaluation map.
func (m *Mirror) Sync(ctx context.Context, s *Store) error {
	results, err := s.MarshalResults()
	if err != nil {
		return fmt.Errorf("failed to marshal evaluations: %w", err)
	}
	return m.queries.CreateOrUpdateMatchResults(ctx, database.CreateOrUpdateMatchResultsParams{
		Results:    results,
		PatientKey: m.patientKey,
	})
}

// Close releases the database connection.
func (m *Mirror) Close() error { return m.db.Close() }
