package database

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type MatchResult struct {
	ID         uuid.UUID
	PatientKey string
	Results    json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
