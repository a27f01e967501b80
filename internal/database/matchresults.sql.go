package database

import (
	"context"
	"encoding/json"
)

const createOrUpdateMatchResults = `-- name: CreateOrUpdateMatchResults :exec
INSERT INTO match_results (
results, patient_key)
VALUES ( $1, $2)
ON CONFLICT (patient_key)
DO UPDATE SET
    results = EXCLUDED.results,
    updated_at = CURRENT_TIMESTAMP
`

type CreateOrUpdateMatchResultsParams struct {
	Results    json.RawMessage
	PatientKey string
}

func (q *Queries) CreateOrUpdateMatchResults(ctx context.Context, arg CreateOrUpdateMatchResultsParams) error {
	_, err := q.db.ExecContext(ctx, createOrUpdateMatchResults, arg.Results, arg.PatientKey)
	return err
}

const getMatchResultsByPatient = `-- name: GetMatchResultsByPatient :one
SELECT id, results, patient_key, created_at, updated_at FROM match_results WHERE patient_key=$1
`

func (q *Queries) GetMatchResultsByPatient(ctx context.Context, patientKey string) (MatchResult, error) {
	row := q.db.QueryRowContext(ctx, getMatchResultsByPatient, patientKey)
	var i MatchResult
	err := row.Scan(
		&i.ID,
		&i.Results,
		&i.PatientKey,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}
