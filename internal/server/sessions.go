package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/nkamali/faro/internal/research"
)

type sessionSearchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
	Mode  string `json:"mode,omitempty"` // keyword, vector or hybrid
}

func (s *Server) createSession(c echo.Context) error {
	if s.sessions == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "sessions not enabled")
	}
	sess, err := s.sessions.Create(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": sess.ID()})
}

func (s *Server) getSession(c echo.Context) error {
	if s.sessions == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "sessions not enabled")
	}
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": sess.ID(), "chunks": sess.Size()})
}

func (s *Server) deleteSession(c echo.Context) error {
	if s.sessions == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "sessions not enabled")
	}
	s.sessions.Delete(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

// searchSession answers a follow-up query over material already fetched into
// the session, without touching the network.
func (s *Server) searchSession(c echo.Context) error {
	if s.sessions == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "sessions not enabled")
	}
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	var req sessionSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	k := req.K
	if k <= 0 {
		k = 8
	}
	var hits []research.SearchHit
	switch req.Mode {
	case "keyword":
		hits, err = sess.KeywordSearch(req.Query, k)
	case "vector":
		hits, err = sess.VectorSearch(c.Request().Context(), req.Query, k)
	case "", "hybrid":
		hits, err = sess.HybridSearch(c.Request().Context(), req.Query, k)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown mode: "+req.Mode)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if hits == nil {
		hits = []research.SearchHit{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"hits": hits})
}
