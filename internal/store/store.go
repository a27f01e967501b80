// Package store is the file-backed evaluation store: one JSON object
// mapping NCT ID to evaluation record. A run loads the whole file,
// mutates the map in memory and rewrites the file atomically, which is
// what makes interrupted runs resumable and re-runs idempotent.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Evaluation is the model's verdict on one trial plus the echoed
// metadata needed for display. Score fields are pointers: nil means the
// model's answer could not be validated, not zero.
type Evaluation struct {
	TrialID                string    `json:"trial_id"`
	EligibilityProbability *float64  `json:"eligibility_probability"`
	ClinicalBenefitScore   *float64  `json:"clinical_benefit_score"`
	TotalScore             *float64  `json:"total_score"`
	UnclearCriteria        []string  `json:"unclear_criteria,omitempty"`
	Reasoning              string    `json:"reasoning,omitempty"`
	TreatmentType          string    `json:"treatment_type,omitempty"`
	Drug                   string    `json:"drug,omitempty"`
	NumberOfPatients       string    `json:"number_of_patients,omitempty"`
	TrialPhase             string    `json:"trial_phase,omitempty"`
	StartDate              string    `json:"start_date,omitempty"`
	Location               string    `json:"location,omitempty"`
	Link                   string    `json:"link,omitempty"`
	Unparseable            bool      `json:"unparseable,omitempty"`
	Model                  string    `json:"model,omitempty"`
	EvaluatedAt            time.Time `json:"evaluated_at"`
}

// Store holds the evaluations for one output path.
type Store struct {
	path  string
	evals map[string]Evaluation
}

// Load reads the store at path. A missing file yields an empty store;
// a present but unreadable or malformed file is an error, since
// overwriting it would discard a previous run's results.
func Load(path string) (*Store, error) {
	s := &Store{path: path, evals: map[string]Evaluation{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read output store %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.evals); err != nil {
		return nil, fmt.Errorf("output store %s is not a valid evaluation map: %w", path, err)
	}
	for id, ev := range s.evals {
		if ev.TrialID == "" {
			ev.TrialID = id
			s.evals[id] = ev
		}
	}
	return s, nil
}

// Path returns the file the store persists to.
func (s *Store) Path() string { return s.path }

// Has reports whether a trial already carries an evaluation.
func (s *Store) Has(id string) bool {
	_, ok := s.evals[id]
	return ok
}

// Get returns the evaluation for id.
func (s *Store) Get(id string) (Evaluation, bool) {
	ev, ok := s.evals[id]
	return ev, ok
}

// Put records an evaluation. Existing entries are never replaced;
// callers check Has first, and Put enforcing it keeps the idempotence
// guarantee even if they don't.
func (s *Store) Put(ev Evaluation) {
	if _, ok := s.evals[ev.TrialID]; ok {
		return
	}
	s.evals[ev.TrialID] = ev
}

// Len returns the number of stored evaluations.
func (s *Store) Len() int { return len(s.evals) }

// IDs returns the stored trial IDs in no particular order.
func (s *Store) IDs() []string {
	ids := make([]string, 0, len(s.evals))
	for id := range s.evals {
		ids = append(ids, id)
	}
	return ids
}

// Ranked returns all evaluations sorted by total score descending.
// A nil total ranks as zero; ties break on trial ID so the order is
// stable across runs.
func (s *Store) Ranked() []Evaluation {
	out := make([]Evaluation, 0, len(s.evals))
	for _, ev := range s.evals {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := scoreOrZero(out[i].TotalScore), scoreOrZero(out[j].TotalScore)
		if ti != tj {
			return ti > tj
		}
		return out[i].TrialID < out[j].TrialID
	})
	return out
}

// TopN returns the IDs of the n highest-scoring trials.
func (s *Store) TopN(n int) []string {
	ranked := s.Ranked()
	if n > len(ranked) {
		n = len(ranked)
	}
	ids := make([]string, 0, n)
	for _, ev := range ranked[:n] {
		ids = append(ids, ev.TrialID)
	}
	return ids
}

func scoreOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// Save rewrites the store file atomically: marshal everything, write a
// temp file next to the target, rename over it. If the primary path
// cannot be written the accumulated results are salvaged to a
// .recovered sibling before the error is surfaced.
func (s *Store) Save() error {
	err := s.writeTo(s.path)
	if err == nil {
		return nil
	}
	fallback := s.path + ".recovered"
	if ferr := s.writeTo(fallback); ferr == nil {
		return fmt.Errorf("write output store %s: %w (results salvaged to %s)", s.path, err, fallback)
	}
	return fmt.Errorf("write output store %s: %w", s.path, err)
}

func (s *Store) writeTo(path string) error {
	data, err := json.MarshalIndent(s.evals, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// MarshalResults returns the full evaluation map as JSON, for mirroring
// into external storage.
func (s *Store) MarshalResults() (json.RawMessage, error) {
	return json.Marshal(s.evals)
}
