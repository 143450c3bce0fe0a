// Package testutil runs councils in-process for end-to-end tests: a
// miniredis-backed blackboard, a council.yml on disk and the environment a
// daemon or CLI would read.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// InstanceName is the instance every test environment runs as.
const InstanceName = "test-e2e"

// E2EEnvironment represents an isolated E2E test environment
type E2EEnvironment struct {
	T          *testing.T
	TmpDir     string
	ConfigPath string
	Redis      *miniredis.Miniredis
	BBClient   *blackboard.Client
	Ctx        context.Context
}

// SetupE2EEnvironment starts a private Redis, writes councilYML and points the
// council environment variables at both, in mock provider mode.
func SetupE2EEnvironment(t *testing.T, councilYML string) *E2EEnvironment {
	mr, client := NewBlackboard(t)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "council.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(councilYML), 0644), "Failed to write council.yml")

	t.Setenv("REDIS_URL", "redis://"+mr.Addr()+"/0")
	t.Setenv("COUNCIL_INSTANCE_NAME", InstanceName)
	t.Setenv("COUNCIL_CONFIG", configPath)
	t.Setenv("COUNCIL_MODE", "mock")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("COUNCIL_API_TOKEN", "")

	return &E2EEnvironment{
		T:          t,
		TmpDir:     tmpDir,
		ConfigPath: configPath,
		Redis:      mr,
		BBClient:   client,
		Ctx:        context.Background(),
	}
}

// NewBlackboard starts a miniredis server and connects a blackboard client to
// it. Both are closed when the test ends.
func NewBlackboard(t *testing.T) (*miniredis.Miniredis, *blackboard.Client) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start(), "Failed to start miniredis")
	t.Cleanup(mr.Close)

	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, InstanceName)
	require.NoError(t, err, "Failed to create blackboard client")
	t.Cleanup(func() { client.Close() })

	return mr, client
}

// WaitForStatus polls the session until it reaches status (up to 10 seconds).
func (env *E2EEnvironment) WaitForStatus(sessionID string, status blackboard.SessionStatus) *blackboard.Session {
	var last *blackboard.Session
	require.Eventually(env.T, func() bool {
		s, err := env.BBClient.LoadSession(env.Ctx, sessionID)
		if err != nil {
			return false
		}
		last = s
		return s.Status == status
	}, 10*time.Second, 20*time.Millisecond, "session %s never reached %s", sessionID, status)
	return last
}

// Transcript returns the session's messages in sequence order.
func (env *E2EEnvironment) Transcript(sessionID string) []*blackboard.Message {
	msgs, err := env.BBClient.ListMessages(env.Ctx, sessionID)
	require.NoError(env.T, err)
	return msgs
}

// DefaultCouncilYML returns two mock experts with no turn delay and no retries
func DefaultCouncilYML() string {
	return `version: "1.0"
orchestrator:
  turn_delay: 0s
  default_max_messages: 8
  retry:
    max_retries: 0
experts:
  ada:
    name: Ada
    specialty: Compilers
    provider: mock
    system_prompt: You are Ada.
    config: {model: mock-1}
  grace:
    name: Grace
    specialty: Systems
    provider: mock
    system_prompt: You are Grace.
    config: {model: mock-1}
`
}
