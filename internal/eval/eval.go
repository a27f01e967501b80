// Package eval runs the per-trial evaluation batch: select candidates,
// skip what is already recorded, prompt the model, parse tolerantly,
// persist after every trial so an interrupted run resumes where it
// stopped.
package eval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/overlab-kevin/clinical-trial-matcher/internal/store"
	"github.com/overlab-kevin/clinical-trial-matcher/internal/trials"
)

// retry retries a function up to `attempts` times with linear backoff.
func retry[T any](attempts int, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for i := 0; i < attempts; i++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		wait := time.Duration(500*(i+1)) * time.Millisecond
		time.Sleep(wait)
	}
	return zero, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// Options tune one evaluation run.
type Options struct {
	// Previous is the output of an earlier, cheaper pass. With TopN it
	// restricts this run to the best-ranked trials from that pass.
	Previous *store.Store
	// TopN caps how many previously ranked trials are candidates.
	TopN int
}

// Summary is the final tally of a run.
type Summary struct {
	Evaluated   int
	Skipped     int
	Failed      int
	Unparseable int
}

// Evaluator processes trials against one patient profile.
type Evaluator struct {
	Model     Collaborator
	Store     *store.Store
	Mirror    *store.Mirror
	Log       *zap.SugaredLogger
	ModelName string
	Now       func() time.Time
}

// Run evaluates every candidate trial not yet in the store. A model call
// that keeps failing skips the trial without recording it, so the next
// run retries it; a response that cannot be parsed is recorded with null
// scores so the ranking still carries the raw text. Only a store write
// failure aborts the run.
func (e *Evaluator) Run(ctx context.Context, patientText string, all []trials.Trial, opts Options) (Summary, error) {
	now := e.Now
	if now == nil {
		now = time.Now
	}

	candidates := all
	if opts.Previous != nil && opts.TopN > 0 {
		candidates = selectTop(all, opts.Previous, opts.TopN)
		e.Log.Infow("restricting to top trials from previous pass",
			"top", opts.TopN, "candidates", len(candidates))
	}

	var sum Summary
	for _, trial := range candidates {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if trial.ID == "" {
			e.Log.Warnw("study record has no nctId, skipping")
			sum.Skipped++
			continue
		}
		if e.Store.Has(trial.ID) {
			e.Log.Infow("already processed, skipping", "trial", trial.ID)
			sum.Skipped++
			continue
		}

		raw, err := e.callModel(ctx, patientText, trial)
		if err != nil {
			e.Log.Warnw("model call failed, trial left for a future run",
				"trial", trial.ID, "error", err)
			sum.Failed++
			continue
		}

		ev := parseResponse(trial.ID, e.ModelName, raw, now())
		if ev.Unparseable {
			e.Log.Warnw("response did not match expected structure, recording raw text",
				"trial", trial.ID)
			sum.Unparseable++
		}
		e.Store.Put(ev)
		if err := e.Store.Save(); err != nil {
			return sum, err
		}
		e.mirror(ctx, trial.ID)

		sum.Evaluated++
		if ev.TotalScore != nil {
			e.Log.Infow("evaluated", "trial", trial.ID, "total_score", *ev.TotalScore)
		} else {
			e.Log.Infow("evaluated", "trial", trial.ID, "total_score", nil)
		}
	}
	return sum, nil
}

// callModel prompts for one trial, retrying transient failures. When the
// full record keeps failing, one more attempt goes out with the
// contacts/locations module stripped, which rescues trials whose site
// lists blow past the context window.
func (e *Evaluator) callModel(ctx context.Context, patientText string, trial trials.Trial) (string, error) {
	details, err := trial.PromptJSON()
	if err != nil {
		return "", fmt.Errorf("render study %s: %w", trial.ID, err)
	}

	raw, callErr := retry(2, func() (string, error) {
		return e.Model.Evaluate(ctx, buildMessage(patientText, details))
	})
	if callErr == nil {
		return raw, nil
	}

	stripped, err := trial.WithoutContacts()
	if err != nil {
		return "", callErr
	}
	strippedDetails, err := trials.Trial{ID: trial.ID, Raw: stripped}.PromptJSON()
	if err != nil {
		return "", callErr
	}
	e.Log.Infow("retrying with contacts/locations stripped", "trial", trial.ID)
	return e.Model.Evaluate(ctx, buildMessage(patientText, strippedDetails))
}

func (e *Evaluator) mirror(ctx context.Context, trialID string) {
	if e.Mirror == nil {
		return
	}
	if err := e.Mirror.Sync(ctx, e.Store); err != nil {
		e.Log.Warnw("failed to mirror results to database", "trial", trialID, "error", err)
	}
}

// selectTop keeps the trials ranked in the previous pass's top n.
// Everything else is dropped from this run's output: the refinement
// stage writes a fresh store and the previous file keeps the full
// ranking.
func selectTop(all []trials.Trial, previous *store.Store, n int) []trials.Trial {
	keep := make(map[string]bool, n)
	for _, id := range previous.TopN(n) {
		keep[id] = true
	}
	out := make([]trials.Trial, 0, len(keep))
	for _, trial := range all {
		if keep[trial.ID] {
			out = append(out, trial)
		}
	}
	return out
}
