// Package export flattens an evaluation store into a ranked CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/overlab-kevin/clinical-trial-matcher/internal/store"
)

const linkTemplate = "https://clinicaltrials.gov/study/%s"

// Columns is the CSV header, in output order.
var Columns = []string{
	"trial_id",
	"link",
	"treatment_type",
	"drug",
	"number_of_patients",
	"trial_phase",
	"start_date",
	"location",
	"eligibility_probability",
	"clinical_benefit_score",
	"total_score",
	"unclear_criteria",
	"reasoning",
}

// Rows flattens every evaluation into a CSV row, sorted by total score
// descending so the best-ranked trials come first. Null scores emit
// empty cells and rank last.
func Rows(s *store.Store) [][]string {
	ranked := s.Ranked()
	rows := make([][]string, 0, len(ranked))
	for _, ev := range ranked {
		rows = append(rows, row(ev))
	}
	return rows
}

func row(ev store.Evaluation) []string {
	link := ev.Link
	if link == "" && ev.TrialID != "" {
		link = fmt.Sprintf(linkTemplate, ev.TrialID)
	}
	return []string{
		ev.TrialID,
		link,
		flatten(ev.TreatmentType),
		flatten(ev.Drug),
		flatten(ev.NumberOfPatients),
		flatten(ev.TrialPhase),
		flatten(ev.StartDate),
		flatten(ev.Location),
		formatScore(ev.EligibilityProbability),
		formatScore(ev.ClinicalBenefitScore),
		formatScore(ev.TotalScore),
		flatten(strings.Join(ev.UnclearCriteria, "; ")),
		flatten(ev.Reasoning),
	}
}

// WriteCSV writes the header and all ranked rows.
func WriteCSV(w io.Writer, s *store.Store) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range Rows(s) {
		if err := cw.Write(r); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatScore(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func flatten(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
