package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Connections map[string]int         `json:"connections"`
	Sessions    map[string]interface{} `json:"sessions,omitempty"`
	Hub         map[string]interface{} `json:"hub,omitempty"`
}

// healthCheck answers 503 when the database is unreachable or the hub has stopped.
func (s *Server) healthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now(),
		Database:    "healthy",
		Connections: s.deps.Presence.GetStats(),
	}

	if err := s.deps.Database.HealthCheck(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Database = fmt.Sprintf("error: %v", err)
	}
	if s.deps.SessionStats != nil {
		resp.Sessions = s.deps.SessionStats.GetStats()
	}
	if s.deps.Hub != nil {
		resp.Hub = s.deps.Hub.GetStats()
		if running, ok := resp.Hub["running"].(bool); ok && !running {
			resp.Status = "unhealthy"
		}
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}
