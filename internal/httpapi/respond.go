package httpapi

import (
	"encoding/json"
	"net/http"

	"kbetl/internal/kberr"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, statusFromKind(kberr.KindOf(err)), map[string]any{"error": err.Error()})
}

// statusFromKind maps the pipeline's kberr.Kind taxonomy onto
// HTTP status codes.
func statusFromKind(kind kberr.Kind) int {
	switch kind {
	case kberr.InvalidArgument, kberr.DataError:
		return http.StatusBadRequest
	case kberr.NotFound:
		return http.StatusNotFound
	case kberr.Forbidden:
		return http.StatusForbidden
	case kberr.ConflictState, kberr.ProfileMismatch:
		return http.StatusConflict
	case kberr.ResourceExhausted:
		return http.StatusTooManyRequests
	case kberr.Transient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return kberr.Wrap(kberr.InvalidArgument, err, "decode request body")
	}
	return nil
}
