package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nkamali/faro/internal/pipeline"
)

// handleStream runs one request while streaming progress as Server-Sent
// Events: start, stage, metrics, answer, then done; error on failure.
// Periodic comment lines keep idle proxies from cutting the connection.
func (s *Server) handleStream(c echo.Context) error {
	req := streamRequest(c)
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	ctx := c.Request().Context()
	events := make(chan pipeline.Event, 64)
	done := make(chan struct{})

	go func() {
		defer close(done)
		answer, err := s.orch.Run(ctx, req, func(ev pipeline.Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
		if err != nil {
			select {
			case events <- pipeline.Event{Name: "error", Data: map[string]string{"error": err.Error()}}:
			case <-ctx.Done():
			}
			return
		}
		if s.history != nil {
			if _, err := s.history.SaveAnswer(ctx, req.Query, req.Deep, answer); err != nil {
				s.logger.Printf("save answer: %v", err)
			}
		}
	}()

	keepAlive := s.cfg.StreamKeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	errored := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := resp.Write([]byte(": keep-alive\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		case ev := <-events:
			if err := writeEvent(resp, ev); err != nil {
				return nil
			}
			errored = errored || ev.Name == "error"
			flusher.Flush()
		case <-done:
			// Drain anything emitted before the run goroutine finished.
			// An error event is terminal; done is not appended after it.
			for {
				select {
				case ev := <-events:
					if err := writeEvent(resp, ev); err != nil {
						return nil
					}
					errored = errored || ev.Name == "error"
				default:
					if !errored {
						_ = writeEvent(resp, pipeline.Event{Name: "done"})
					}
					flusher.Flush()
					return nil
				}
			}
		}
	}
}

func writeEvent(resp *echo.Response, ev pipeline.Event) error {
	if _, err := resp.Write([]byte("event: " + ev.Name + "\n")); err != nil {
		return err
	}
	data := []byte("{}")
	if ev.Data != nil {
		if b, err := json.Marshal(ev.Data); err == nil {
			data = b
		}
	}
	if _, err := resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
		return err
	}
	return nil
}

func streamRequest(c echo.Context) pipeline.Request {
	req := pipeline.Request{
		Query:     c.QueryParam("query"),
		Fast:      boolParam(c, "fast"),
		Deep:      boolParam(c, "deep"),
		SessionID: c.QueryParam("session"),
	}
	if n, err := strconv.Atoi(c.QueryParam("maxWeb")); err == nil && n > 0 {
		req.MaxWeb = n
	}
	if n, err := strconv.Atoi(c.QueryParam("topChunks")); err == nil && n > 0 {
		req.TopChunks = n
	}
	if v := c.QueryParam("verify"); v != "" {
		b := v == "true" || v == "1"
		req.Verify = &b
	}
	return req
}

func boolParam(c echo.Context, name string) bool {
	v := c.QueryParam(name)
	return v == "true" || v == "1"
}
