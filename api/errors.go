package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	gateway "github.com/chaoschain/gateway"
)

const timeLayout = time.RFC3339Nano

var timeNow = time.Now

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// httpError maps domain errors onto HTTP statuses.
func httpError(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	status := http.StatusInternalServerError
	var code gateway.Code
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, gateway.ErrTerminal):
		status = http.StatusConflict
	case errors.Is(err, gateway.ErrUnknownType):
		status = http.StatusBadRequest
	case errors.Is(err, gateway.ErrAlreadyExists):
		status = http.StatusConflict
	}
	if ge, ok := gateway.AsError(err); ok {
		code = ge.Code
		if ge.Kind == gateway.KindBusinessRule {
			status = http.StatusBadRequest
		}
	}
	return &echo.HTTPError{Code: status, Message: ErrorResponse{Error: err.Error(), Code: string(code)}, Internal: err}
}

func (a *API) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	he := httpError(err)
	body, ok := he.Message.(ErrorResponse)
	if !ok {
		body = ErrorResponse{Error: http.StatusText(he.Code)}
		if s, isString := he.Message.(string); isString {
			body.Error = s
		}
	}
	if he.Code >= http.StatusInternalServerError {
		// Store and adapter details stay in the log.
		body = ErrorResponse{Error: http.StatusText(he.Code)}
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(he.Code)
	} else {
		werr = c.JSON(he.Code, body)
	}
	if werr != nil {
		a.logger.Error("write error response", "error", werr)
	}
}

func badRequest(msg string) error {
	return &echo.HTTPError{Code: http.StatusBadRequest, Message: ErrorResponse{Error: msg}}
}

func notFound(msg string) error {
	return &echo.HTTPError{Code: http.StatusNotFound, Message: ErrorResponse{Error: msg}}
}
