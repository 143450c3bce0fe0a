package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/emilixs/Aicouncil/internal/broadcast"
	"github.com/emilixs/Aicouncil/internal/orchestrator"
	"github.com/emilixs/Aicouncil/internal/provider"
	"github.com/emilixs/Aicouncil/internal/retry"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	client *blackboard.Client
	engine *orchestrator.Engine
	token  string
}

func setupTestClient(t *testing.T) *blackboard.Client {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

// setupTestServer runs the full stack in mock mode: every expert shares one
// scripted provider that agrees on its third reply.
func setupTestServer(t *testing.T, store blackboard.Store, client *blackboard.Client, opts Options) *testServer {
	engineOpts := orchestrator.DefaultOptions()
	engineOpts.InstanceName = "test-instance"
	engineOpts.TurnDelay = 0
	engineOpts.Retry = retry.Options{MaxRetries: 0}

	factory := provider.NewFactory(provider.Credentials{}, true)
	engine := orchestrator.NewEngine(client, factory, broadcast.NewPublisher(client), client, engineOpts)

	hub := broadcast.NewHub(client, 0)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	runCtx, stopRuns := context.WithCancel(context.Background())
	opts.AccessLog = false
	srv := httptest.NewServer(New(runCtx, store, engine, hub, opts).Echo())

	t.Cleanup(func() {
		srv.Close()
		stopRuns()
		engine.Wait()
		stopHub()
		<-hub.Done()
	})

	return &testServer{Server: srv, client: client, engine: engine, token: opts.APIToken}
}

func newTestServer(t *testing.T) *testServer {
	client := setupTestClient(t)
	return setupTestServer(t, client, client, Options{})
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func (ts *testServer) putExpert(t *testing.T, id string) {
	t.Helper()
	resp, body := ts.do(t, http.MethodPut, "/api/experts/"+id, ExpertRequest{
		Name:         strings.ToUpper(id[:1]) + id[1:],
		Specialty:    "Distributed systems",
		SystemPrompt: "You are a careful engineer.",
		Provider:     "openai",
		Config:       map[string]any{"model": "gpt-4o", "temperature": 0.3},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func (ts *testServer) createSession(t *testing.T, maxMessages int, roster ...string) *blackboard.Session {
	t.Helper()
	for _, id := range roster {
		ts.putExpert(t, id)
	}
	resp, body := ts.do(t, http.MethodPost, "/api/sessions", CreateSessionRequest{
		ProblemStatement: "How should we shard the event log?",
		ExpertIDs:        roster,
		MaxMessages:      maxMessages,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	return decode[*blackboard.Session](t, body)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health := decode[HealthResponse](t, body)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "ok", health.Store)
	assert.Empty(t, health.ActiveRuns)
}

type unreachableStore struct {
	blackboard.Store
}

func (unreachableStore) Ping(context.Context) error {
	return errors.Join(blackboard.ErrUnavailable, errors.New("connection refused"))
}

func TestHealth_StoreDown(t *testing.T) {
	client := setupTestClient(t)
	ts := setupTestServer(t, unreachableStore{Store: client}, client, Options{})

	resp, body := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	health := decode[HealthResponse](t, body)
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "unreachable", health.Store)
	assert.Contains(t, health.Error, "connection refused")
}

func TestAuth(t *testing.T) {
	client := setupTestClient(t)
	ts := setupTestServer(t, client, client, Options{APIToken: "s3cret"})

	get := func(path string, header string) int {
		req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		require.NoError(t, err)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, get("/healthz", ""))
	assert.Equal(t, http.StatusBadRequest, get("/api/experts", ""))
	assert.Equal(t, http.StatusUnauthorized, get("/api/experts", "Bearer wrong"))
	assert.Equal(t, http.StatusOK, get("/api/experts", "Bearer s3cret"))
	assert.Equal(t, http.StatusOK, get("/api/experts?token=s3cret", ""))
}

func TestExperts(t *testing.T) {
	ts := newTestServer(t)
	ts.putExpert(t, "ada")

	t.Run("list", func(t *testing.T) {
		resp, body := ts.do(t, http.MethodGet, "/api/experts", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		list := decode[map[string][]*blackboard.Expert](t, body)
		require.Len(t, list["experts"], 1)
		assert.Equal(t, "Ada", list["experts"][0].Name)
	})

	t.Run("get", func(t *testing.T) {
		resp, body := ts.do(t, http.MethodGet, "/api/experts/ada", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "gpt-4o", decode[*blackboard.Expert](t, body).Config["model"])
	})

	t.Run("unknown", func(t *testing.T) {
		resp, _ := ts.do(t, http.MethodGet, "/api/experts/nobody", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("rejected bodies", func(t *testing.T) {
		tests := []struct {
			name string
			req  ExpertRequest
			want string
		}{
			{"missing name", ExpertRequest{Provider: "openai", Config: map[string]any{"model": "gpt-4o"}}, "name"},
			{"unknown provider", ExpertRequest{Name: "X", Provider: "gemini", Config: map[string]any{"model": "m"}}, "gemini"},
			{"missing model", ExpertRequest{Name: "X", Provider: "openai", Config: map[string]any{}}, "model"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				resp, body := ts.do(t, http.MethodPut, "/api/experts/x", tt.req)
				assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
				assert.Contains(t, decode[ErrorResponse](t, body).Error, tt.want)
			})
		}
	})
}

func TestCreateSession(t *testing.T) {
	ts := newTestServer(t)

	t.Run("defaults max messages", func(t *testing.T) {
		s := ts.createSession(t, 0, "ada", "grace")
		assert.Equal(t, blackboard.SessionStatusPending, s.Status)
		assert.Equal(t, DefaultOptions().DefaultMaxMessages, s.MaxMessages)
		assert.Equal(t, []string{"ada", "grace"}, s.ExpertIDs)
	})

	t.Run("unknown expert", func(t *testing.T) {
		resp, body := ts.do(t, http.MethodPost, "/api/sessions", CreateSessionRequest{
			ProblemStatement: "P", ExpertIDs: []string{"ada", "ghost"},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Contains(t, decode[ErrorResponse](t, body).Error, "ghost")
	})

	t.Run("empty problem statement", func(t *testing.T) {
		resp, _ := ts.do(t, http.MethodPost, "/api/sessions", CreateSessionRequest{ExpertIDs: []string{"ada"}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("list and get", func(t *testing.T) {
		created := ts.createSession(t, 6, "linus", "ada")

		resp, body := ts.do(t, http.MethodGet, "/api/sessions", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		list := decode[map[string][]*blackboard.Session](t, body)
		var ids []string
		for _, listed := range list["sessions"] {
			ids = append(ids, listed.ID)
		}
		assert.Contains(t, ids, created.ID)

		resp, body = ts.do(t, http.MethodGet, "/api/sessions/"+created.ID, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		loaded := decode[*blackboard.Session](t, body)
		require.Len(t, loaded.Experts, 2)
		assert.Equal(t, "Linus", loaded.Experts[0].Name)
	})
}

func TestStartSession_Wait(t *testing.T) {
	ts := newTestServer(t)
	s := ts.createSession(t, 10, "ada", "grace")

	resp, body := ts.do(t, http.MethodPost, "/api/sessions/"+s.ID+"/start?wait=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	final := decode[*blackboard.Session](t, body)
	assert.Equal(t, blackboard.SessionStatusCompleted, final.Status)
	assert.True(t, final.ConsensusReached)

	resp, body = ts.do(t, http.MethodGet, "/api/sessions/"+s.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := decode[map[string][]*blackboard.Message](t, body)["messages"]
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"ada", "grace", "ada"}, []string{msgs[0].ExpertID, msgs[1].ExpertID, msgs[2].ExpertID})

	resp, _ = ts.do(t, http.MethodPost, "/api/sessions/"+s.ID+"/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStartSession_Background(t *testing.T) {
	ts := newTestServer(t)
	s := ts.createSession(t, 10, "ada", "grace")

	resp, body := ts.do(t, http.MethodPost, "/api/sessions/"+s.ID+"/start", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	assert.Equal(t, blackboard.SessionStatusActive, decode[*blackboard.Session](t, body).Status)

	assert.Eventually(t, func() bool {
		loaded, err := ts.client.LoadSession(context.Background(), s.ID)
		return err == nil && loaded.Status == blackboard.SessionStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStartSession_ValidationFailures(t *testing.T) {
	ts := newTestServer(t)

	t.Run("single expert", func(t *testing.T) {
		s := ts.createSession(t, 4, "ada")
		resp, body := ts.do(t, http.MethodPost, "/api/sessions/"+s.ID+"/start", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Contains(t, decode[ErrorResponse](t, body).Error, "at least 2 experts")
	})

	t.Run("unknown session", func(t *testing.T) {
		resp, _ := ts.do(t, http.MethodPost, "/api/sessions/9f3c5a1e-0000-4000-8000-000000000000/start", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("cancelled session", func(t *testing.T) {
		s := ts.createSession(t, 4, "ada", "grace")
		resp, _ := ts.do(t, http.MethodPost, "/api/sessions/"+s.ID+"/cancel", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, _ = ts.do(t, http.MethodPost, "/api/sessions/"+s.ID+"/start", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestCancelSession(t *testing.T) {
	ts := newTestServer(t)
	s := ts.createSession(t, 4, "ada", "grace")

	resp, body := ts.do(t, http.MethodPost, "/api/sessions/"+s.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, blackboard.SessionStatusCancelled, decode[*blackboard.Session](t, body).Status)

	resp, _ = ts.do(t, http.MethodPost, "/api/sessions/"+s.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSubmitIntervention(t *testing.T) {
	ts := newTestServer(t)
	s := ts.createSession(t, 4, "ada", "grace")

	t.Run("empty content", func(t *testing.T) {
		resp, _ := ts.do(t, http.MethodPost, "/api/sessions/"+s.ID+"/interventions", InterventionRequest{Content: "  "})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("pending session is not queued", func(t *testing.T) {
		resp, body := ts.do(t, http.MethodPost, "/api/sessions/"+s.ID+"/interventions", InterventionRequest{Content: "Consider cost."})
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, map[string]bool{"queued": false}, decode[map[string]bool](t, body))
	})

	t.Run("unknown session", func(t *testing.T) {
		resp, _ := ts.do(t, http.MethodPost, "/api/sessions/9f3c5a1e-0000-4000-8000-000000000000/interventions", InterventionRequest{Content: "hi"})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&orchestrator.ValidationError{Err: orchestrator.ErrNoParticipants}, http.StatusUnprocessableEntity},
		{&orchestrator.ValidationError{Err: orchestrator.ErrInvalidState}, http.StatusConflict},
		{&orchestrator.ValidationError{Err: orchestrator.ErrAlreadyRunning}, http.StatusConflict},
		{blackboard.ErrConflict, http.StatusConflict},
		{blackboard.ErrNotFound, http.StatusNotFound},
		{redis.Nil, http.StatusNotFound},
		{orchestrator.ErrEmptyIntervention, http.StatusBadRequest},
		{blackboard.ErrUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
