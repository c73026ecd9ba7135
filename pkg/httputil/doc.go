/*
Package httputil holds the response, request and error helpers shared by the
lectern HTTP handlers.

Handlers call services and hand any error to WriteServiceError, which maps the
error's apperr kind to a status code:

	NotFound          404
	PermissionDenied  403
	QuotaExceeded     403, with resource, current and limit
	Validation        400, with field when known
	Conflict          409
	anything else     500, message logged and not returned

Example:

	inst, err := h.institutes.GetInstitute(r.Context(), principal.ID, id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, inst)
*/
package httputil
