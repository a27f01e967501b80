package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/overlab-kevin/clinical-trial-matcher/internal/store"
	"github.com/overlab-kevin/clinical-trial-matcher/internal/trials"
)

// fakeModel scores trials by scripted responses; an entry of "" fails
// the call instead.
type fakeModel struct {
	responses map[string]string
	calls     []string
}

func (m *fakeModel) Evaluate(ctx context.Context, message string) (string, error) {
	for id, resp := range m.responses {
		if strings.Contains(message, id) {
			m.calls = append(m.calls, id)
			if resp == "" {
				return "", fmt.Errorf("call failed")
			}
			return resp, nil
		}
	}
	return "", fmt.Errorf("no scripted response")
}

func scored(prob, benefit float64) string {
	return fmt.Sprintf(`{"eligibility_probability": %g, "clinical_benefit_score": %g, "reasoning": "ok"}`, prob, benefit)
}

func testTrials(t *testing.T, ids ...string) []trials.Trial {
	t.Helper()
	records := make([]string, 0, len(ids))
	for _, id := range ids {
		records = append(records, fmt.Sprintf(
			`{"protocolSection": {"identificationModule": {"nctId": %q}}}`, id))
	}
	set, err := trials.Load([]byte("[" + strings.Join(records, ",") + "]"))
	require.NoError(t, err)
	return set
}

func newEvaluator(t *testing.T, model Collaborator) (*Evaluator, *store.Store) {
	t.Helper()
	st, err := store.Load(filepath.Join(t.TempDir(), "out.json"))
	require.NoError(t, err)
	return &Evaluator{
		Model:     model,
		Store:     st,
		Log:       zap.NewNop().Sugar(),
		ModelName: "test-model",
	}, st
}

func TestRunEvaluatesAllTrials(t *testing.T) {
	model := &fakeModel{responses: map[string]string{
		"NCT001": scored(0.8, 70),
		"NCT002": scored(0.4, 50),
	}}
	e, st := newEvaluator(t, model)

	sum, err := e.Run(context.Background(), "patient", testTrials(t, "NCT001", "NCT002"), Options{})
	require.NoError(t, err)
	assert.Equal(t, Summary{Evaluated: 2}, sum)

	require.ElementsMatch(t, []string{"NCT001", "NCT002"}, st.IDs())
	for _, id := range st.IDs() {
		ev, _ := st.Get(id)
		assert.NotNil(t, ev.EligibilityProbability, id)
		assert.NotNil(t, ev.ClinicalBenefitScore, id)
		assert.NotNil(t, ev.TotalScore, id)
	}

	// The store file survives a reload with the same keys.
	reloaded, err := store.Load(st.Path())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"NCT001", "NCT002"}, reloaded.IDs())
}

func TestRunIsIdempotent(t *testing.T) {
	model := &fakeModel{responses: map[string]string{
		"NCT001": scored(0.8, 70),
		"NCT002": scored(0.4, 50),
	}}
	e, st := newEvaluator(t, model)
	set := testTrials(t, "NCT001", "NCT002")

	_, err := e.Run(context.Background(), "patient", set, Options{})
	require.NoError(t, err)
	firstCalls := len(model.calls)

	sum, err := e.Run(context.Background(), "patient", set, Options{})
	require.NoError(t, err)
	assert.Equal(t, Summary{Skipped: 2}, sum)
	assert.Equal(t, firstCalls, len(model.calls), "second run must not call the model")
	assert.Equal(t, 2, st.Len())
}

func TestRunResumesAfterFailure(t *testing.T) {
	model := &fakeModel{responses: map[string]string{
		"NCT001": scored(0.8, 70),
		"NCT002": "", // call fails this run
	}}
	e, st := newEvaluator(t, model)
	set := testTrials(t, "NCT001", "NCT002")

	sum, err := e.Run(context.Background(), "patient", set, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Evaluated)
	assert.Equal(t, 1, sum.Failed)
	assert.False(t, st.Has("NCT002"), "failed trial must stay unrecorded for retry")

	// The collaborator recovers; re-running evaluates only the leftover.
	model.responses["NCT002"] = scored(0.4, 50)
	model.calls = nil
	sum, err = e.Run(context.Background(), "patient", set, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Evaluated)
	assert.Equal(t, 1, sum.Skipped)
	assert.ElementsMatch(t, []string{"NCT001", "NCT002"}, st.IDs())
}

func TestRunRecordsUnparseableResponses(t *testing.T) {
	model := &fakeModel{responses: map[string]string{
		"NCT001": "I am not sure about this one.",
		"NCT002": scored(0.4, 50),
	}}
	e, st := newEvaluator(t, model)

	sum, err := e.Run(context.Background(), "patient", testTrials(t, "NCT001", "NCT002"), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Evaluated)
	assert.Equal(t, 1, sum.Unparseable)

	ev, ok := st.Get("NCT001")
	require.True(t, ok)
	assert.True(t, ev.Unparseable)
	assert.Nil(t, ev.TotalScore)
	assert.Equal(t, "I am not sure about this one.", ev.Reasoning)

	// The bad response did not block the rest of the batch.
	assert.True(t, st.Has("NCT002"))
}

func TestRunTwoStageCutoff(t *testing.T) {
	prev, err := store.Load(filepath.Join(t.TempDir(), "prev.json"))
	require.NoError(t, err)
	for id, total := range map[string]float64{"NCT001": 0.9, "NCT002": 0.5, "NCT003": 0.2} {
		total := total
		prev.Put(store.Evaluation{TrialID: id, TotalScore: &total})
	}

	model := &fakeModel{responses: map[string]string{
		"NCT001": scored(0.9, 90),
		"NCT002": scored(0.5, 50),
		"NCT003": scored(0.2, 20),
	}}
	e, st := newEvaluator(t, model)

	sum, err := e.Run(context.Background(), "patient",
		testTrials(t, "NCT001", "NCT002", "NCT003"),
		Options{Previous: prev, TopN: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Evaluated)
	assert.ElementsMatch(t, []string{"NCT001", "NCT002"}, st.IDs())
	assert.False(t, st.Has("NCT003"), "trials outside the cutoff are excluded from this run's output")
	assert.ElementsMatch(t, []string{"NCT001", "NCT002"}, model.calls)
}

func TestRunSkipsRecordsWithoutID(t *testing.T) {
	model := &fakeModel{responses: map[string]string{"NCT001": scored(0.8, 70)}}
	e, st := newEvaluator(t, model)

	set := testTrials(t, "NCT001")
	set = append(set, trials.Trial{Raw: json.RawMessage(`{}`)})

	sum, err := e.Run(context.Background(), "patient", set, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Evaluated)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, st.Len())
}

// stripSensitiveModel rejects the full record and only answers once the
// contacts/locations module is gone.
type stripSensitiveModel struct {
	calls int
}

func (m *stripSensitiveModel) Evaluate(ctx context.Context, message string) (string, error) {
	m.calls++
	if strings.Contains(message, "contactsLocationsModule") {
		return "", fmt.Errorf("request too large")
	}
	return scored(0.7, 60), nil
}

func TestRunRetriesWithStrippedContacts(t *testing.T) {
	set, err := trials.Load([]byte(`[{
		"protocolSection": {
			"identificationModule": {"nctId": "NCT001"},
			"contactsLocationsModule": {"locations": [{"city": "Boston"}]}
		}
	}]`))
	require.NoError(t, err)

	model := &stripSensitiveModel{}
	e, st := newEvaluator(t, model)

	sum, err := e.Run(context.Background(), "patient", set, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Evaluated)
	assert.True(t, st.Has("NCT001"))
	assert.Equal(t, 3, model.calls, "two full-record attempts, then one stripped")
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model := &fakeModel{responses: map[string]string{"NCT001": scored(0.8, 70)}}
	e, st := newEvaluator(t, model)

	_, err := e.Run(ctx, "patient", testTrials(t, "NCT001"), Options{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, st.Len())
}
