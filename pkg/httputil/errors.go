package httputil

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/lectern/pkg/apperr"
	"github.com/platinummonkey/lectern/pkg/observability"
	"github.com/platinummonkey/lectern/pkg/quota"
)

// StatusFor maps an error's kind to an HTTP status
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindPermissionDenied, apperr.KindQuotaExceeded:
		return http.StatusForbidden
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteServiceError writes the response for a failed service call. Internal
// errors are logged with the request logger and answered generically.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).
			WithField("path", r.URL.Path).Error("request failed")
		WriteErrorMessage(w, status, "internal server error")
		return
	}

	resp := ErrorResponse{Error: apperr.Message(err)}
	if qe, ok := quota.AsExceeded(err); ok {
		resp.Resource = string(qe.Resource)
		resp.Current = &qe.Current
		resp.Limit = &qe.Limit
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		resp.Field = ae.Field
	}
	WriteJSON(w, status, resp)
}
