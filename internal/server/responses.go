// file: internal/server/responses.go
// version: 2.0.0
// guid: 8ef82c83-f04b-4a5e-aa69-07746c905831

package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jdfalk/video-autoprocessor/internal/processor"
)

// ErrorResponse provides a consistent error response format
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Status int    `json:"status"`
}

// ListResponse wraps a collection.
type ListResponse struct {
	Items any `json:"items"`
	Count int `json:"count"`
}

// MessageResponse provides a consistent format for status messages
type MessageResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Version   string           `json:"version"`
	StartedAt time.Time        `json:"started_at"`
	Status    processor.Status `json:"status"`
}

// RespondWithError sends a standardized error response and logs the error
func RespondWithError(c *gin.Context, logger zerolog.Logger, statusCode int, message string, code string) {
	event := logger.Warn()
	if statusCode >= 500 {
		event = logger.Error()
	}
	event.Str("method", c.Request.Method).Str("path", c.Request.URL.Path).Int("status", statusCode).Str("code", code).Msg(message)

	c.JSON(statusCode, ErrorResponse{
		Error:  message,
		Code:   code,
		Status: statusCode,
	})
}
