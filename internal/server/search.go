package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nkamali/faro/internal/pipeline"
)

type searchResponse struct {
	ID string `json:"id,omitempty"`
	*pipeline.Answer
}

// handleSearch runs one full request synchronously. The only client error is
// an empty query; provider outages still produce a 200 with an honest answer.
func (s *Server) handleSearch(c echo.Context) error {
	var req pipeline.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	answer, err := s.orch.Run(c.Request().Context(), req, nil)
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyQuery) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := searchResponse{Answer: answer}
	if s.history != nil {
		id, err := s.history.SaveAnswer(c.Request().Context(), req.Query, req.Deep, answer)
		if err != nil {
			s.logger.Printf("save answer: %v", err)
		} else {
			resp.ID = id
		}
	}
	return c.JSON(http.StatusOK, resp)
}
