package server

import (
	"log"
	"net/http"
	"strconv"

	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/labstack/echo/v4"
)

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	ProblemStatement string   `json:"problem_statement"`
	ExpertIDs        []string `json:"expert_ids"`
	MaxMessages      int      `json:"max_messages,omitempty"`
}

// InterventionRequest is the body of POST /api/sessions/:id/interventions.
type InterventionRequest struct {
	Content     string `json:"content"`
	SubmitterID string `json:"submitter_id,omitempty"`
}

// CreateSession stores a PENDING session.
// POST /api/sessions
func (s *Server) CreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	maxMessages := req.MaxMessages
	if maxMessages == 0 {
		maxMessages = s.opts.DefaultMaxMessages
	}

	session := blackboard.NewSession(req.ProblemStatement, req.ExpertIDs, maxMessages)
	if err := session.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	if err := s.store.CreateSession(c.Request().Context(), session); err != nil {
		if blackboard.IsNotFound(err) {
			return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
		}
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, session)
}

// ListSessions returns every session, newest first.
// GET /api/sessions
func (s *Server) ListSessions(c echo.Context) error {
	sessions, err := s.store.ListSessions(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// GetSession returns a session with its resolved roster.
// GET /api/sessions/:id
func (s *Server) GetSession(c echo.Context) error {
	session, err := s.store.LoadSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// ListMessages returns the transcript in sequence order.
// GET /api/sessions/:id/messages
func (s *Server) ListMessages(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("id")

	if _, err := s.store.LoadSession(ctx, sessionID); err != nil {
		return writeError(c, err)
	}
	messages, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"messages": messages})
}

// StartSession validates and activates a session, then runs the discussion.
// By default the run continues in the background and 202 is returned at once.
// With ?wait=true the request blocks until the discussion ends.
// POST /api/sessions/:id/start
func (s *Server) StartSession(c echo.Context) error {
	wait, _ := strconv.ParseBool(c.QueryParam("wait"))

	run, err := s.engine.Prepare(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}

	if !wait {
		go func() {
			if _, err := run.Execute(s.runCtx); err != nil {
				log.Printf("[Server] Discussion %s aborted: %v", run.Session().ID, err)
			}
		}()
		return c.JSON(http.StatusAccepted, run.Session())
	}

	final, err := run.Execute(s.runCtx)
	if err != nil {
		return c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Session: final})
	}
	return c.JSON(http.StatusOK, final)
}

// CancelSession cancels a session that has not started.
// POST /api/sessions/:id/cancel
func (s *Server) CancelSession(c echo.Context) error {
	session, err := s.engine.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// SubmitIntervention queues a user message for the running discussion.
// queued is false when no run accepted it.
// POST /api/sessions/:id/interventions
func (s *Server) SubmitIntervention(c echo.Context) error {
	var req InterventionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	queued, err := s.engine.QueueIntervention(c.Request().Context(), c.Param("id"), req.Content, req.SubmitterID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]bool{"queued": queued})
}
