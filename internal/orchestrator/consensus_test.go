package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectConsensus(t *testing.T) {
	tests := []struct {
		text     string
		expected bool
	}{
		{"I agree with Grace's proposal.", true},
		{"CONSENSUS REACHED on the queue design", true},
		{"We agree: ship it", true},
		{"I concur.", true},
		{"Agreed, let's move on", true},
		{"I think we have consensus now", true},
		{"We reached consensus on the schema", true},
		{"We are in agreement", true},
		{"I disagree with the premise", false},
		{"Let me build on Ada's point about caching", false},
		{"", false},
		// Substring matching has no negation handling.
		{"We reached consensus on nothing", true},
		{"I don't think we agree yet", true},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectConsensus(tt.text))
		})
	}
}

func TestConsensusPhrases_ReturnsCopy(t *testing.T) {
	phrases := ConsensusPhrases()
	assert.Len(t, phrases, 8)

	phrases[0] = "mutated"
	assert.Equal(t, "i agree", ConsensusPhrases()[0])
}
