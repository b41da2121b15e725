package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/community-auth/internal/apperr"
)

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type errorResp struct {
	Error errorBody `json:"error"`
}

// statusOf maps a failure kind to its HTTP status.
func statusOf(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindInvalidCredentials:
		return http.StatusUnauthorized
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindEmailSendFailed:
		return http.StatusBadGateway
	case apperr.KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as the JSON error envelope.  Internal causes are logged
// and never leave the process.
func fail(c echo.Context, err error) error {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal(err)
	}
	if e.Kind == apperr.KindInternal || e.Kind == apperr.KindEmailSendFailed {
		log.Printf("http: %s %s: %v", c.Request().Method, c.Path(), err)
	}
	return c.JSON(statusOf(e.Kind), errorResp{Error: errorBody{Code: e.Code, Message: e.Message, Fields: e.Fields}})
}

// ErrorHandler renders errors returned by middleware and echo itself in the
// same envelope as handler failures.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	if _, ok := apperr.As(err); ok {
		_ = fail(c, err)
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code < http.StatusInternalServerError {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		_ = c.JSON(he.Code, errorResp{Error: errorBody{Code: httpCode(he.Code), Message: msg}})
		return
	}
	_ = fail(c, err)
}

func httpCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusUnauthorized:
		return apperr.CodeInvalidAccessToken
	case http.StatusTooManyRequests:
		return apperr.CodeTooManyRequests
	case http.StatusBadRequest:
		return apperr.CodeValidationFailed
	}
	return "HTTP_" + strconv.Itoa(status)
}
