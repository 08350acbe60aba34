package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "golang-matching-service/pkg/errors"
	"golang-matching-service/pkg/logger"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	Category   string `json:"category,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// StatusCode maps an error to its HTTP status.
func StatusCode(err error) int {
	if matchErr, ok := apperrors.AsMatchError(err); ok {
		switch matchErr.Category {
		case apperrors.CategoryNotFound:
			return http.StatusNotFound
		case apperrors.CategoryValidation:
			return http.StatusUnprocessableEntity
		case apperrors.CategoryConcurrency:
			return http.StatusConflict
		case apperrors.CategoryStore:
			return http.StatusServiceUnavailable
		case apperrors.CategoryImport:
			return http.StatusBadRequest
		default:
			return http.StatusInternalServerError
		}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

func errorHandler(log logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := StatusCode(err)
		resp := ErrorResponse{
			Message:   http.StatusText(code),
			RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
		}

		var he *echo.HTTPError
		if matchErr, ok := apperrors.AsMatchError(err); ok {
			resp.Message = matchErr.Message
			resp.Code = string(matchErr.Code)
			resp.Category = string(matchErr.Category)
			resp.Suggestion = matchErr.Suggestion
		} else if errors.As(err, &he) {
			resp.Message = fmt.Sprint(he.Message)
		}

		entry := log.WithError(err).WithField("status", code)
		if code >= http.StatusInternalServerError {
			entry.Error("Request failed")
		} else {
			entry.Debug("Request rejected")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, resp)
	}
}
