package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NexeraDigital/get-shit-done/pkg/state"
)

func TestParseRoadmapFencedBlock(t *testing.T) {
	text := "Here is the roadmap.\n```json\n" +
		`{"phases": [{"number": 1, "name": "Setup"}, {"number": 2, "name": "Core engine"}]}` +
		"\n```\nGood luck."

	phases, err := ParseRoadmap(text)
	require.NoError(t, err)
	require.Len(t, phases, 2)

	assert.Equal(t, 1, phases[0].Number)
	assert.Equal(t, "Setup", phases[0].Name)
	assert.Equal(t, state.PhaseStatusPending, phases[0].Status)
	assert.Equal(t, state.StepStateIdle, phases[0].Steps[state.StepPlan])
	assert.Equal(t, 2, phases[1].Number)
}

func TestParseRoadmapBareJSON(t *testing.T) {
	phases, err := ParseRoadmap(`{"phases": [{"name": "Only phase"}]}`)
	require.NoError(t, err)
	require.Len(t, phases, 1)

	// Missing numbers are assigned sequentially.
	assert.Equal(t, 1, phases[0].Number)
}

func TestParseRoadmapErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"prose only", "I think we should start with the database."},
		{"no phases", "```json\n{\"phases\": []}\n```"},
		{"unnamed phase", "```json\n{\"phases\": [{\"number\": 1, \"name\": \"  \"}]}\n```"},
		{"non-increasing numbers", "```json\n{\"phases\": [{\"number\": 2, \"name\": \"a\"}, {\"number\": 2, \"name\": \"b\"}]}\n```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRoadmap(tt.text)
			assert.ErrorIs(t, err, ErrNoRoadmap)
		})
	}
}
