package api

import (
	"net/http"

	apperrors "option-planner/internal/errors"
	"option-planner/internal/logging"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error  string                 `json:"error"`
	Fields []apperrors.FieldError `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, errorResponse{Error: message})
}

// statusFor maps a planner error to its HTTP status.
func statusFor(err error) int {
	var subErr *apperrors.SubmissionError
	var fieldErr *apperrors.FieldError
	switch {
	case apperrors.As(err, &subErr):
		return http.StatusUnprocessableEntity
	case apperrors.As(err, &fieldErr),
		apperrors.Is(err, apperrors.ErrInputMalformed),
		apperrors.Is(err, apperrors.ErrInvalidTime):
		return http.StatusBadRequest
	case apperrors.Is(err, apperrors.ErrDraftNotFound),
		apperrors.Is(err, apperrors.ErrPlanNotFound):
		return http.StatusNotFound
	case apperrors.Is(err, apperrors.ErrPlanStarted),
		apperrors.Is(err, apperrors.ErrPlanNotDue),
		apperrors.Is(err, apperrors.ErrRunFinished),
		apperrors.Is(err, apperrors.ErrNoOpenTrade),
		apperrors.Is(err, apperrors.ErrTradeOpen),
		apperrors.Is(err, apperrors.ErrStopLossPending),
		apperrors.Is(err, apperrors.ErrLotMismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Internal errors are logged and
// their detail withheld from the client.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	var subErr *apperrors.SubmissionError
	var fieldErr *apperrors.FieldError
	switch {
	case apperrors.As(err, &subErr):
		resp.Error = "submission refused"
		resp.Fields = subErr.Fields
	case apperrors.As(err, &fieldErr):
		resp.Fields = []apperrors.FieldError{*fieldErr}
	case status == http.StatusInternalServerError:
		reqLogger := logging.FromContext(r.Context())
		reqLogger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		resp.Error = "internal error"
	}

	writeJSON(w, status, resp)
}
