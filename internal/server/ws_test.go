package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (ts *testServer) dial(t *testing.T, sessionID string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/" + sessionID
	if ts.token != "" {
		url += "?token=" + ts.token
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

// observerCount reads the health endpoint without failing the test, so it can
// be polled from assert.Eventually.
func (ts *testServer) observerCount(sessionID string) int {
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		return -1
	}
	defer resp.Body.Close()

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return -1
	}
	return health.Observers[sessionID]
}

func readEvents(t *testing.T, conn *websocket.Conn) []blackboard.Event {
	t.Helper()

	var events []blackboard.Event
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var ev blackboard.Event
		if err := conn.ReadJSON(&ev); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected read error: %v", err)
			return events
		}
		events = append(events, ev)
	}
}

func TestWatchSession_StreamsDiscussion(t *testing.T) {
	ts := newTestServer(t)
	s := ts.createSession(t, 10, "ada", "grace")

	first, _, err := ts.dial(t, s.ID)
	require.NoError(t, err)
	second, _, err := ts.dial(t, s.ID)
	require.NoError(t, err)

	resp, body := ts.do(t, http.MethodPost, "/api/sessions/"+s.ID+"/start", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	want := []blackboard.EventType{
		blackboard.EventExpertTurnStart, blackboard.EventMessageCreated,
		blackboard.EventExpertTurnStart, blackboard.EventMessageCreated,
		blackboard.EventExpertTurnStart, blackboard.EventMessageCreated,
		blackboard.EventConsensusReached,
		blackboard.EventSessionEnded,
	}

	for _, conn := range []*websocket.Conn{first, second} {
		events := readEvents(t, conn)

		var types []blackboard.EventType
		for _, ev := range events {
			types = append(types, ev.Type)
			assert.Equal(t, s.ID, ev.SessionID)
		}
		require.Equal(t, want, types)

		assert.Equal(t, "grace", events[2].TurnStart.ExpertID)
		assert.Equal(t, 2, events[2].TurnStart.TurnNumber)
		assert.Equal(t, blackboard.SessionEnd{
			Reason:           blackboard.EndReasonConsensus,
			ConsensusReached: true,
			MessageCount:     3,
		}, *events[7].Ended)
	}
}

func TestWatchSession_UnknownSession(t *testing.T) {
	ts := newTestServer(t)

	_, resp, err := ts.dial(t, "9f3c5a1e-0000-4000-8000-000000000000")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWatchSession_RequiresToken(t *testing.T) {
	client := setupTestClient(t)
	ts := setupTestServer(t, client, client, Options{APIToken: "s3cret"})
	s := ts.createSession(t, 4, "ada", "grace")

	_, _, err := ts.dial(t, s.ID)
	require.NoError(t, err)

	ts.token = ""
	_, resp, err := ts.dial(t, s.ID)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWatchSession_DetachReleasesObserver(t *testing.T) {
	ts := newTestServer(t)
	s := ts.createSession(t, 4, "ada", "grace")

	conn, _, err := ts.dial(t, s.ID)
	require.NoError(t, err)

	resp, body := ts.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[HealthResponse](t, body).Observers[s.ID])

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()

	assert.Eventually(t, func() bool { return ts.observerCount(s.ID) == 0 }, 3*time.Second, 20*time.Millisecond)
}
