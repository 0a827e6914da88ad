package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"media-pipeline/internal/convert"
	"media-pipeline/internal/database"
	"media-pipeline/internal/identity"
	"media-pipeline/internal/ingest"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/probe"
	"media-pipeline/internal/transcode"
)

// writeJSON encodes v as JSON and writes it to the response writer.
// Any encoding or write errors are logged since we typically cannot
// recover from them in an HTTP handler context.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes an error response as JSON with the given status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		logging.Error("failed to encode JSON error response: %v", err)
	}
}

// callerFrom resolves the caller identity from the gateway-set headers.
// The gateway in front of this service authenticates requests and forwards
// the owner id; an absent header means the request bypassed it.
func callerFrom(r *http.Request) (identity.Caller, bool) {
	ownerID := r.Header.Get("X-Owner-Id")
	if ownerID == "" {
		return identity.Caller{}, false
	}
	return identity.Caller{
		OwnerID: ownerID,
		Admin:   r.Header.Get("X-Admin") == "true",
	}, true
}

// requireCaller is callerFrom plus the 401 response.
func requireCaller(w http.ResponseWriter, r *http.Request) (identity.Caller, bool) {
	caller, ok := callerFrom(r)
	if !ok {
		writeJSONError(w, "missing X-Owner-Id header", http.StatusUnauthorized)
	}
	return caller, ok
}

// writeDomainError maps domain errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var dup *transcode.DuplicateJobError
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeJSONError(w, "not found", http.StatusNotFound)
	case errors.Is(err, identity.ErrForbidden):
		writeJSONError(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, mediatypes.ErrUnsupportedType):
		writeJSONError(w, err.Error(), http.StatusUnsupportedMediaType)
	case errors.Is(err, ingest.ErrTooLarge):
		writeJSONError(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, probe.ErrProbeFailed):
		writeJSONError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, database.ErrStillReferenced):
		writeJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, database.ErrTerminalState):
		writeJSONError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &dup):
		writeJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, transcode.ErrNotCancellable), errors.Is(err, convert.ErrNotCancellable):
		writeJSONError(w, err.Error(), http.StatusConflict)
	default:
		logging.Error("internal error: %v", err)
		writeJSONError(w, "internal error", http.StatusInternalServerError)
	}
}
