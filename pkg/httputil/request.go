package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/lectern/pkg/apperr"
)

// ParseJSON decodes the request body into dest. Decode failures are
// validation errors so they map to 400.
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("body", "request body is required")
		}
		return &apperr.Error{Kind: apperr.KindValidation, Field: "body", Message: "invalid JSON", Err: err}
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes the error response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteServiceError(w, r, err)
		return false
	}
	return true
}

// ParsePathInt64 extracts an entity id from the path. Ids are positive.
func ParsePathInt64(r *http.Request, key string) (int64, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return 0, apperr.Validation(key, fmt.Sprintf("missing path parameter: %s", key))
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil || val <= 0 {
		return 0, apperr.Validation(key, fmt.Sprintf("invalid id for %s: %s", key, str))
	}
	return val, nil
}

// ParsePathInt64OrError extracts an id path parameter and writes error on failure
func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	val, err := ParsePathInt64(r, key)
	if err != nil {
		WriteServiceError(w, r, err)
		return 0, false
	}
	return val, true
}

// ParsePathString extracts a string path parameter
func ParsePathString(r *http.Request, key string) (string, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return "", apperr.Validation(key, fmt.Sprintf("missing path parameter: %s", key))
	}
	return str, nil
}

// ParseQueryString extracts a string query parameter
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	return val
}
