package server

import (
	"net/http"

	"github.com/emilixs/Aicouncil/internal/provider"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/labstack/echo/v4"
)

// ExpertRequest is the body of PUT /api/experts/:id.
type ExpertRequest struct {
	Name         string         `json:"name"`
	Specialty    string         `json:"specialty"`
	SystemPrompt string         `json:"system_prompt"`
	Provider     string         `json:"provider"`
	Config       map[string]any `json:"config"`
}

// ListExperts returns every configured expert.
// GET /api/experts
func (s *Server) ListExperts(c echo.Context) error {
	experts, err := s.store.ListExperts(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"experts": experts})
}

// GetExpert returns one expert.
// GET /api/experts/:id
func (s *Server) GetExpert(c echo.Context) error {
	expert, err := s.store.GetExpert(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, expert)
}

// PutExpert creates or replaces an expert. The provider and its config are
// checked here so a bad expert is rejected before any session uses it.
// PUT /api/experts/:id
func (s *Server) PutExpert(c echo.Context) error {
	var req ExpertRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	expert := &blackboard.Expert{
		ID:           c.Param("id"),
		Name:         req.Name,
		Specialty:    req.Specialty,
		SystemPrompt: req.SystemPrompt,
		Provider:     req.Provider,
		Config:       req.Config,
	}
	if err := expert.Validate(); err != nil {
		return badRequest(c, err.Error())
	}
	if _, err := provider.ParseID(expert.Provider); err != nil {
		return badRequest(c, err.Error())
	}
	if _, err := provider.ParseConfig(expert.Config); err != nil {
		return badRequest(c, err.Error())
	}

	if err := s.store.PutExpert(c.Request().Context(), expert); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, expert)
}
