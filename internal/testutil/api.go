package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// APIClient drives a councild HTTP API from a test.
type APIClient struct {
	T       *testing.T
	BaseURL string
	Token   string
}

// Do sends a JSON request and returns the status code and raw body.
func (c *APIClient) Do(method, path string, body any) (int, []byte) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.T, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	require.NoError(c.T, err)
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.T, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(c.T, err)
	return resp.StatusCode, data
}

// CreateSession creates a PENDING session and fails the test on any other outcome.
func (c *APIClient) CreateSession(problem string, maxMessages int, experts ...string) *blackboard.Session {
	status, body := c.Do(http.MethodPost, "/api/sessions", map[string]any{
		"problem_statement": problem,
		"expert_ids":        experts,
		"max_messages":      maxMessages,
	})
	require.Equal(c.T, http.StatusCreated, status, string(body))

	var s blackboard.Session
	require.NoError(c.T, json.Unmarshal(body, &s))
	return &s
}

// Watch opens the session's WebSocket feed. The connection is closed when the
// test ends.
func (c *APIClient) Watch(sessionID string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(c.BaseURL, "http") + "/ws/sessions/" + sessionID
	if c.Token != "" {
		url += "?token=" + c.Token
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(c.T, err, "Failed to open WebSocket for session %s", sessionID)
	c.T.Cleanup(func() { conn.Close() })
	return conn
}

// ReadEvents reads events until the server closes the connection normally.
func ReadEvents(t *testing.T, conn *websocket.Conn) []blackboard.Event {
	t.Helper()

	var events []blackboard.Event
	for {
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		var ev blackboard.Event
		if err := conn.ReadJSON(&ev); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected read error: %v", err)
			return events
		}
		events = append(events, ev)
	}
}

// EventTypes lists the types of events in order.
func EventTypes(events []blackboard.Event) []blackboard.EventType {
	types := make([]blackboard.EventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}
