package analysis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseOutcomeValidResponse(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"contains_infringing": true, "confidence": 0.93, "categories": ["feature-film","trailer"]}`)
	outcome, err := ParseOutcome("vid-1", payload)
	require.NoError(t, err)
	require.Equal(t, "vid-1", outcome.VideoID)
	require.True(t, outcome.ContainsInfringing)
	require.Equal(t, 0.93, outcome.Confidence)
	require.Equal(t, []string{"feature-film", "trailer"}, outcome.Categories)
	require.Equal(t, payload, outcome.RawPayload)
}

func TestParseOutcomeStripsCodeFence(t *testing.T) {
	t.Parallel()

	payload := []byte("```json\n{\"contains_infringing\": false, \"confidence\": 0.4}\n```")
	outcome, err := ParseOutcome("vid-1", payload)
	require.NoError(t, err)
	require.False(t, outcome.ContainsInfringing)
}

func TestParseOutcomeRejectsMissingFields(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing verdict":      `{"confidence": 0.9}`,
		"missing confidence":   `{"contains_infringing": true}`,
		"confidence too large": `{"contains_infringing": true, "confidence": 1.5}`,
		"negative confidence":  `{"contains_infringing": true, "confidence": -0.1}`,
		"not json":             `the video looks fine to me`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseOutcome("vid-1", []byte(payload))
			require.Error(t, err)
		})
	}
}

func TestParseOutcomeFalseVerdictIsNotMissing(t *testing.T) {
	t.Parallel()

	outcome, err := ParseOutcome("vid-1", []byte(`{"contains_infringing": false, "confidence": 0}`))
	require.NoError(t, err)
	require.False(t, outcome.ContainsInfringing)
	require.Equal(t, 0.0, outcome.Confidence)
}
