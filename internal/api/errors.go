package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"classpulse/internal/results"
	"classpulse/pkg/interfaces"
)

var (
	errInvalidID    = echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	errRateLimited  = echo.NewHTTPError(http.StatusTooManyRequests, "too many submissions, slow down")
	errWrongSession = interfaces.NewError(interfaces.ErrNotFound, "question does not belong to this session")
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Code      int               `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// handleError is the single place where errors become HTTP statuses.
func (s *Server) handleError(err error, c echo.Context) {
	resp := ErrorResponse{}

	var he *echo.HTTPError
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		resp.Code = http.StatusBadRequest
		resp.Message = "validation failed"
		resp.Fields = s.validator.fieldErrors(verrs)
	case errors.As(err, &he):
		if inner, ok := he.Internal.(*echo.HTTPError); ok {
			he = inner
		}
		resp.Code = he.Code
		resp.Message = fmt.Sprint(he.Message)
		resp.Retryable = he.Code == http.StatusTooManyRequests
	case errors.Is(err, results.ErrInvalidStudentName), errors.Is(err, results.ErrEmptyAnswer):
		resp.Code = http.StatusBadRequest
		resp.Message = err.Error()
	case errors.Is(err, interfaces.ErrNotFound):
		resp.Code = http.StatusNotFound
		resp.Message = err.Error()
	case errors.Is(err, interfaces.ErrInvalidState), errors.Is(err, interfaces.ErrConflict):
		resp.Code = http.StatusConflict
		resp.Message = err.Error()
	case errors.Is(err, results.ErrGradingTimeout):
		resp.Code = http.StatusGatewayTimeout
		resp.Message = err.Error()
		resp.Retryable = true
	case errors.Is(err, interfaces.ErrUpstreamFailure):
		resp.Code = http.StatusBadGateway
		resp.Message = err.Error()
		resp.Retryable = true
	default:
		log.Printf("Request failed: %s %s: %v", c.Request().Method, c.Path(), err)
		resp.Code = http.StatusInternalServerError
		resp.Message = "internal server error"
	}
	resp.Error = http.StatusText(resp.Code)

	if c.Response().Committed {
		return
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(resp.Code)
	} else {
		err = c.JSON(resp.Code, resp)
	}
	if err != nil {
		log.Printf("Failed to write error response: %v", err)
	}
}
