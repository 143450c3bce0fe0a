package commands

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/emilixs/Aicouncil/internal/config"
	"github.com/emilixs/Aicouncil/internal/orchestrator"
	"github.com/emilixs/Aicouncil/internal/testutil"
	"github.com/emilixs/Aicouncil/internal/watch"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestClient(t *testing.T) *blackboard.Client {
	_, client := testutil.NewBlackboard(t)
	return client
}

func testCouncilConfig() *config.CouncilConfig {
	return &config.CouncilConfig{
		Version: "1.0",
		Experts: map[string]config.Expert{
			"grace": {Name: "Grace", Specialty: "Systems", SystemPrompt: "You are Grace.", Provider: "mock", Config: map[string]any{"model": "m"}},
			"ada":   {Name: "Ada", Specialty: "Compilers", SystemPrompt: "You are Ada.", Provider: "mock", Config: map[string]any{"model": "m"}},
		},
	}
}

func TestLoadExperts(t *testing.T) {
	ctx := context.Background()
	client := setupTestClient(t)

	n, err := loadExperts(ctx, client, testCouncilConfig())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	experts, err := client.ListExperts(ctx)
	require.NoError(t, err)
	require.Len(t, experts, 2)
	assert.Equal(t, "ada", experts[0].ID)
	assert.Equal(t, "Grace", experts[1].Name)

	// Loading again replaces rather than duplicates
	n, err = loadExperts(ctx, client, testCouncilConfig())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	experts, err = client.ListExperts(ctx)
	require.NoError(t, err)
	assert.Len(t, experts, 2)
}

func TestCreateSession(t *testing.T) {
	ctx := context.Background()
	client := setupTestClient(t)
	_, err := loadExperts(ctx, client, testCouncilConfig())
	require.NoError(t, err)

	t.Run("trims and keeps roster order", func(t *testing.T) {
		session, err := createSession(ctx, client, "  Pick a queue  ", []string{" grace", "ada ", ""}, 6)
		require.NoError(t, err)

		stored, err := client.LoadSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, "Pick a queue", stored.ProblemStatement)
		assert.Equal(t, []string{"grace", "ada"}, stored.ExpertIDs)
		assert.Equal(t, 6, stored.MaxMessages)
		assert.Equal(t, blackboard.SessionStatusPending, stored.Status)
	})

	t.Run("unknown expert", func(t *testing.T) {
		_, err := createSession(ctx, client, "Pick a queue", []string{"ada", "hopper"}, 6)
		require.Error(t, err)
		assert.True(t, blackboard.IsNotFound(err))
	})

	t.Run("duplicate expert", func(t *testing.T) {
		_, err := createSession(ctx, client, "Pick a queue", []string{"ada", "ada"}, 6)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "appears twice")
	})

	t.Run("empty problem", func(t *testing.T) {
		_, err := createSession(ctx, client, "   ", []string{"ada", "grace"}, 6)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "problem statement cannot be empty")
	})
}

func TestFormatExpertTable(t *testing.T) {
	var buf bytes.Buffer
	formatExpertTable(&buf, nil, "prod")
	assert.Equal(t, "No experts found for instance 'prod'\n", buf.String())

	buf.Reset()
	formatExpertTable(&buf, []*blackboard.Expert{
		{ID: "ada", Name: "Ada", Provider: "openai", Config: map[string]any{"model": "gpt-4o"}, Specialty: "Compilers"},
		{ID: "grace", Name: "Grace", Provider: "mock"},
	}, "prod")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[0]), "PROVIDER")
	assert.Contains(t, string(lines[1]), "gpt-4o")
	assert.Contains(t, string(lines[1]), "Compilers")
	assert.Contains(t, string(lines[2]), "grace")
	assert.Contains(t, string(lines[2]), "-")
}

func TestParseWatchFormat(t *testing.T) {
	f, err := parseWatchFormat("default")
	require.NoError(t, err)
	assert.Equal(t, watch.OutputFormatDefault, f)

	f, err = parseWatchFormat("json")
	require.NoError(t, err)
	assert.Equal(t, watch.OutputFormatJSON, f)

	_, err = parseWatchFormat("yaml")
	assert.EqualError(t, err, "invalid output format")
}

func TestBuildTranscriptFilter(t *testing.T) {
	reset := func() {
		transcriptSince, transcriptUntil, transcriptExpert, transcriptRole = "", "", "", ""
		transcriptInterventions = false
	}
	t.Cleanup(reset)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	t.Run("flags map onto the filter", func(t *testing.T) {
		reset()
		transcriptSince = "1h"
		transcriptExpert = "gr*"
		transcriptRole = "assistant"
		transcriptInterventions = true

		filter, err := buildTranscriptFilter(now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(-time.Hour).UnixMilli(), filter.Window.SinceMs)
		assert.Zero(t, filter.Window.UntilMs)
		assert.Equal(t, "gr*", filter.ExpertGlob)
		assert.Equal(t, blackboard.RoleAssistant, filter.Role)
		assert.True(t, filter.InterventionsOnly)
	})

	t.Run("bad role", func(t *testing.T) {
		reset()
		transcriptRole = "robot"
		_, err := buildTranscriptFilter(now)
		assert.EqualError(t, err, "invalid role")
	})

	t.Run("bad glob", func(t *testing.T) {
		reset()
		transcriptExpert = "gr["
		_, err := buildTranscriptFilter(now)
		assert.EqualError(t, err, "invalid --expert pattern")
	})

	t.Run("inverted window", func(t *testing.T) {
		reset()
		transcriptSince = "1h"
		transcriptUntil = "2h"
		_, err := buildTranscriptFilter(now)
		assert.EqualError(t, err, "invalid time filter")
	})
}

func TestStartError(t *testing.T) {
	const id = "9f3c5a1e-0000-4000-8000-000000000000"

	err := startError(id, &orchestrator.ValidationError{SessionID: id, Reason: "needs at least 2 experts", Err: orchestrator.ErrNoParticipants})
	assert.EqualError(t, err, "session cannot start")

	err = startError(id, assert.AnError)
	assert.ErrorIs(t, err, assert.AnError)
}
