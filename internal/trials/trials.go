// Package trials loads clinical trial records from a ClinicalTrials.gov
// v2 API export. Records are kept as raw JSON so every field the registry
// emits survives into the prompt; only the identity fields needed for
// bookkeeping are decoded.
package trials

import (
	"encoding/json"
	"fmt"
)

// Trial is one study listing. Raw holds the complete registry record.
type Trial struct {
	ID    string
	Title string
	Raw   json.RawMessage
}

type identityProbe struct {
	ProtocolSection struct {
		IdentificationModule struct {
			NCTID      string `json:"nctId"`
			BriefTitle string `json:"briefTitle"`
		} `json:"identificationModule"`
	} `json:"protocolSection"`
}

// Load decodes a registry export. Both shapes the API produces are
// accepted: a bare JSON array of studies, or an object wrapping the array
// in a "studies" field.
func Load(data []byte) ([]Trial, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		var wrapper struct {
			Studies []json.RawMessage `json:"studies"`
		}
		if werr := json.Unmarshal(data, &wrapper); werr != nil || wrapper.Studies == nil {
			return nil, fmt.Errorf("trials file is not a study array or a studies wrapper: %w", err)
		}
		records = wrapper.Studies
	}

	out := make([]Trial, 0, len(records))
	for _, rec := range records {
		var probe identityProbe
		if err := json.Unmarshal(rec, &probe); err != nil {
			return nil, fmt.Errorf("malformed study record: %w", err)
		}
		out = append(out, Trial{
			ID:    probe.ProtocolSection.IdentificationModule.NCTID,
			Title: probe.ProtocolSection.IdentificationModule.BriefTitle,
			Raw:   rec,
		})
	}
	return out, nil
}

// WithoutContacts returns the record with the contacts/locations module
// removed. Large multi-site trials can overflow the model's context; the
// module carries no eligibility signal, so a retry without it is safe.
func (t Trial) WithoutContacts() (json.RawMessage, error) {
	var record map[string]json.RawMessage
	if err := json.Unmarshal(t.Raw, &record); err != nil {
		return nil, fmt.Errorf("decode study %s: %w", t.ID, err)
	}
	section, ok := record["protocolSection"]
	if !ok {
		return t.Raw, nil
	}
	var modules map[string]json.RawMessage
	if err := json.Unmarshal(section, &modules); err != nil {
		return nil, fmt.Errorf("decode protocol section of %s: %w", t.ID, err)
	}
	delete(modules, "contactsLocationsModule")
	trimmed, err := json.Marshal(modules)
	if err != nil {
		return nil, err
	}
	record["protocolSection"] = trimmed
	return json.Marshal(record)
}

// PromptJSON renders the record indented for embedding in a prompt.
func (t Trial) PromptJSON() (string, error) {
	return indentJSON(t.Raw)
}

func indentJSON(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(pretty), nil
}
