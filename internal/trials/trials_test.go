package trials

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const study1 = `{
	"protocolSection": {
		"identificationModule": {"nctId": "NCT001", "briefTitle": "KRAS inhibitor study"},
		"conditionsModule": {"conditions": ["Pancreatic Cancer"]},
		"contactsLocationsModule": {"locations": [{"city": "Boston"}]}
	}
}`

const study2 = `{
	"protocolSection": {
		"identificationModule": {"nctId": "NCT002", "briefTitle": "Vaccine study"}
	}
}`

func TestLoadBareArray(t *testing.T) {
	got, err := Load([]byte("[" + study1 + "," + study2 + "]"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "NCT001", got[0].ID)
	assert.Equal(t, "KRAS inhibitor study", got[0].Title)
	assert.Equal(t, "NCT002", got[1].ID)
}

func TestLoadStudiesWrapper(t *testing.T) {
	got, err := Load([]byte(`{"studies": [` + study1 + `]}`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "NCT001", got[0].ID)
}

func TestLoadRejectsGarbage(t *testing.T) {
	_, err := Load([]byte(`{"nope": true}`))
	assert.Error(t, err)

	_, err = Load([]byte(`not json`))
	assert.Error(t, err)
}

func TestLoadKeepsRawRecord(t *testing.T) {
	got, err := Load([]byte("[" + study1 + "]"))
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(got[0].Raw, &rec))
	section := rec["protocolSection"].(map[string]any)
	assert.Contains(t, section, "conditionsModule")
	assert.Contains(t, section, "contactsLocationsModule")
}

func TestWithoutContacts(t *testing.T) {
	got, err := Load([]byte("[" + study1 + "]"))
	require.NoError(t, err)

	stripped, err := got[0].WithoutContacts()
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(stripped, &rec))
	section := rec["protocolSection"].(map[string]any)
	assert.NotContains(t, section, "contactsLocationsModule")
	assert.Contains(t, section, "identificationModule")
	assert.Contains(t, section, "conditionsModule")
}

func TestWithoutContactsNoSection(t *testing.T) {
	trial := Trial{ID: "NCT003", Raw: json.RawMessage(`{"hasResults": false}`)}
	stripped, err := trial.WithoutContacts()
	require.NoError(t, err)
	assert.JSONEq(t, `{"hasResults": false}`, string(stripped))
}

func TestPromptJSON(t *testing.T) {
	got, err := Load([]byte("[" + study2 + "]"))
	require.NoError(t, err)

	text, err := got[0].PromptJSON()
	require.NoError(t, err)
	assert.Contains(t, text, "NCT002")
	assert.Contains(t, text, "\n") // indented, not a single line
}
