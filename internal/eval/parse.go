package eval

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/overlab-kevin/clinical-trial-matcher/internal/store"
)

// looseString accepts a JSON string, number, or array of either. Models
// routinely return "number_of_patients": 120 or a list of locations
// where the schema asked for a string.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = looseString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*s = looseString(num.String())
		return nil
	}
	var list []looseString
	if err := json.Unmarshal(data, &list); err == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if item != "" {
				parts = append(parts, string(item))
			}
		}
		*s = looseString(strings.Join(parts, "; "))
		return nil
	}
	// Last resort: keep the raw token so nothing is silently dropped.
	*s = looseString(strings.Trim(trimmed, `"`))
	return nil
}

// looseStrings accepts a JSON array of strings or a single string.
type looseStrings []string

func (s *looseStrings) UnmarshalJSON(data []byte) error {
	var list []looseString
	if err := json.Unmarshal(data, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if item != "" {
				out = append(out, string(item))
			}
		}
		*s = out
		return nil
	}
	var one looseString
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*s = nil
		} else {
			*s = []string{string(one)}
		}
		return nil
	}
	*s = nil
	return nil
}

type response struct {
	UnclearCriteria        looseStrings `json:"unclear_criteria"`
	EligibilityProbability *float64     `json:"eligibility_probability"`
	ClinicalBenefitScore   *float64     `json:"clinical_benefit_score"`
	Reasoning              looseString  `json:"reasoning"`
	TreatmentType          looseString  `json:"treatment_type"`
	NumberOfPatients       looseString  `json:"number_of_patients"`
	TrialPhase             looseString  `json:"trial_phase"`
	StartDate              looseString  `json:"start_date"`
	Location               looseString  `json:"location"`
	Link                   looseString  `json:"link"`
	Drug                   looseString  `json:"drug"`
}

// cleanJSON strips the markdown code fences models wrap JSON in despite
// being told not to.
func cleanJSON(input string) string {
	clean := strings.TrimSpace(input)

	if strings.HasPrefix(clean, "```json") {
		clean = strings.TrimPrefix(clean, "```json")
	} else if strings.HasPrefix(clean, "```") {
		clean = strings.TrimPrefix(clean, "```")
	}
	clean = strings.TrimLeft(clean, "\r\n")

	clean = strings.TrimSuffix(clean, "```")

	return strings.TrimSpace(clean)
}

var (
	probabilityPattern = regexp.MustCompile(`(?i)"?eligibility[_ ]probability"?\s*[:=]\s*([0-9]*\.?[0-9]+)`)
	benefitPattern     = regexp.MustCompile(`(?i)"?clinical[_ ]benefit[_ ]score"?\s*[:=]\s*([0-9]*\.?[0-9]+)`)
	reasoningPattern   = regexp.MustCompile(`(?i)"?reasoning"?\s*[:=]\s*"((?:[^"\\]|\\.)*)"`)
)

// parseResponse turns raw model output into an evaluation record. It
// tries, in order: strict JSON decode of the fence-cleaned text, regex
// extraction of the labeled score fields, and finally an unparseable
// sentinel that keeps the raw text as the reasoning. It never fails;
// one bad response must not stop the batch.
func parseResponse(trialID, model, raw string, now time.Time) store.Evaluation {
	ev := store.Evaluation{
		TrialID:     trialID,
		Model:       model,
		EvaluatedAt: now,
	}

	cleaned := cleanJSON(raw)
	var resp response
	if err := json.Unmarshal([]byte(cleaned), &resp); err == nil {
		ev.EligibilityProbability = validated(resp.EligibilityProbability, 0, 1)
		ev.ClinicalBenefitScore = validated(resp.ClinicalBenefitScore, 0, 100)
		ev.UnclearCriteria = resp.UnclearCriteria
		ev.Reasoning = string(resp.Reasoning)
		ev.TreatmentType = string(resp.TreatmentType)
		ev.NumberOfPatients = string(resp.NumberOfPatients)
		ev.TrialPhase = string(resp.TrialPhase)
		ev.StartDate = string(resp.StartDate)
		ev.Location = string(resp.Location)
		ev.Link = string(resp.Link)
		ev.Drug = string(resp.Drug)
		ev.TotalScore = totalScore(ev.EligibilityProbability, ev.ClinicalBenefitScore)
		return ev
	}

	if prob, benefit, ok := extractLabeled(raw); ok {
		ev.EligibilityProbability = validated(prob, 0, 1)
		ev.ClinicalBenefitScore = validated(benefit, 0, 100)
		ev.TotalScore = totalScore(ev.EligibilityProbability, ev.ClinicalBenefitScore)
		if m := reasoningPattern.FindStringSubmatch(raw); m != nil {
			ev.Reasoning = unescape(m[1])
		} else {
			ev.Reasoning = raw
		}
		return ev
	}

	ev.Unparseable = true
	ev.Reasoning = raw
	return ev
}

func extractLabeled(raw string) (prob, benefit *float64, ok bool) {
	if m := probabilityPattern.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			prob = &v
		}
	}
	if m := benefitPattern.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			benefit = &v
		}
	}
	return prob, benefit, prob != nil || benefit != nil
}

func unescape(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}

// validated nulls values outside [min, max]; a score the model got wrong
// is worse than no score.
func validated(v *float64, min, max float64) *float64 {
	if v == nil || *v < min || *v > max {
		return nil
	}
	return v
}

// totalScore is probability times benefit. It is computed here, never
// taken from the model, so identical inputs always rank identically.
func totalScore(prob, benefit *float64) *float64 {
	if prob == nil || benefit == nil {
		return nil
	}
	total := *prob * *benefit
	return &total
}
