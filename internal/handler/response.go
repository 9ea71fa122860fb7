// Package handler maps the REST API onto the services.  Handlers bind
// and validate the request shape, call one service method and wrap the
// result in the success envelope.  Failures are returned as errors and
// rendered by the error handler built with NewErrorHandler.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/evee/internal/apperr"
)

// requestTimeout bounds the storage work of a single request.
const requestTimeout = 5 * time.Second

// envelope is the body of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Count   *int   `json:"count,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(c echo.Context, status int, data any) error {
	return c.JSON(status, envelope{Success: true, Data: data})
}

func okList[T any](c echo.Context, items []T) error {
	if items == nil {
		items = []T{}
	}
	n := len(items)
	return c.JSON(http.StatusOK, envelope{Success: true, Data: items, Count: &n})
}

func okMessage(c echo.Context, msg string) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Message: msg})
}

func requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// parseID reads a positive numeric path parameter.
func parseID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Invalidf("Invalid %s", name)
	}
	return id, nil
}

// bind decodes the request body, reporting malformed JSON as a client error.
func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return apperr.Wrap(apperr.InvalidRequest, "Invalid request body", err)
	}
	return nil
}

// NewErrorHandler renders every error returned by a handler or
// middleware as the failure envelope.  The underlying cause is only
// exposed outside production.  Server errors are logged.
func NewErrorHandler(production bool, logger *zap.Logger) echo.HTTPErrorHandler {
	log := logger.Named("http")
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, body := failure(err, c)
		if production {
			body.Error = ""
		}
		if status >= http.StatusInternalServerError {
			log.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Error(err))
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			log.Warn("write error response", zap.Error(werr))
		}
	}
}

func failure(err error, c echo.Context) (int, envelope) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body := envelope{Message: apperr.MessageOf(ae)}
		if ae.Err != nil {
			body.Error = ae.Err.Error()
		}
		return ae.Kind.Status(), body
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		body := envelope{}
		switch he.Code {
		case http.StatusNotFound:
			body.Message = fmt.Sprintf("Cannot %s %s", c.Request().Method, c.Request().URL.Path)
		case http.StatusMethodNotAllowed:
			body.Message = "Method not allowed"
		default:
			body.Message = http.StatusText(he.Code)
			if m, ok := he.Message.(string); ok && m != "" {
				body.Message = m
			}
		}
		if he.Internal != nil {
			body.Error = he.Internal.Error()
		}
		return he.Code, body
	}

	return http.StatusInternalServerError, envelope{Message: "Server error", Error: err.Error()}
}
