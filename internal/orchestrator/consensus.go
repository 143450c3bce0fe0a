package orchestrator

import "strings"

// consensusPhrases are matched as lower-case substrings with no negation
// handling, so "we reached consensus on nothing" counts as agreement.
var consensusPhrases = []string{
	"i agree",
	"consensus reached",
	"we agree",
	"i concur",
	"agreed",
	"we have consensus",
	"we reached consensus",
	"in agreement",
}

// DetectConsensus reports whether text states agreement.
func DetectConsensus(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range consensusPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// ConsensusPhrases returns the recognised agreement phrases.
func ConsensusPhrases() []string {
	out := make([]string, len(consensusPhrases))
	copy(out, consensusPhrases)
	return out
}
