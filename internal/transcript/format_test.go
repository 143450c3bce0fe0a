package transcript

import (
	"testing"
	"time"

	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/stretchr/testify/assert"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{
		"": FormatText, "default": FormatText, "TEXT": FormatText,
		"json": FormatJSONL, "jsonl": FormatJSONL,
		"md": FormatMarkdown, "markdown": FormatMarkdown,
	} {
		got, err := ParseFormat(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("yaml")
	assert.EqualError(t, err, "unknown output format: yaml")
}

func TestFormatPreview(t *testing.T) {
	assert.Equal(t, "-", formatPreview("", 40))
	assert.Equal(t, "-", formatPreview("\n  \n", 40))
	assert.Equal(t, "second line", formatPreview("\n  second line\nthird", 40))
	assert.Equal(t, "abcdefg...", formatPreview("abcdefghijklmnop", 10))
}

func TestFormatRoster(t *testing.T) {
	assert.Equal(t, "-", formatRoster(nil))
	assert.Equal(t, "ada,grace", formatRoster([]string{"ada", "grace"}))
	assert.Equal(t, "barbara,edsger,linu...", formatRoster([]string{"barbara", "edsger", "linus", "ken"}))
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2025, 10, 29, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "-", formatAge(0, now))
	assert.Equal(t, "30s ago", formatAge(now.Add(-30*time.Second).UnixMilli(), now))
	assert.Equal(t, "5m ago", formatAge(now.Add(-5*time.Minute).UnixMilli(), now))
	assert.Equal(t, "3h ago", formatAge(now.Add(-3*time.Hour).UnixMilli(), now))
	assert.Equal(t, "2d ago", formatAge(now.Add(-49*time.Hour).UnixMilli(), now))
}

func TestFormatConsensus(t *testing.T) {
	assert.Equal(t, "yes", formatConsensus(&blackboard.Session{Status: blackboard.SessionStatusCompleted, ConsensusReached: true}))
	assert.Equal(t, "no", formatConsensus(&blackboard.Session{Status: blackboard.SessionStatusCancelled}))
	assert.Equal(t, "-", formatConsensus(&blackboard.Session{Status: blackboard.SessionStatusActive}))
}

func TestSpeakerName(t *testing.T) {
	s := &blackboard.Session{Experts: []*blackboard.Expert{{ID: "ada", Name: "Ada"}}}
	assert.Equal(t, "Ada", speakerName(s, &blackboard.Message{ExpertID: "ada", Role: blackboard.RoleAssistant}))
	assert.Equal(t, "gone", speakerName(s, &blackboard.Message{ExpertID: "gone", Role: blackboard.RoleAssistant}))
	assert.Equal(t, "User", speakerName(s, &blackboard.Message{Role: blackboard.RoleUser}))
	assert.Equal(t, "System", speakerName(s, &blackboard.Message{Role: blackboard.RoleSystem}))
}
