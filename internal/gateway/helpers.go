package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/mtzanidakis/hive/internal/orcherr"
)

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// jsonError writes err as a JSON error body, deriving the HTTP status from
// its orcherr.Kind when present, falling back to fallback otherwise.
func jsonError(w http.ResponseWriter, err error, fallback int) {
	status := fallback
	if k := orcherr.KindOf(err); k != orcherr.KindNone {
		status = httpStatusForKind(k)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func httpStatusForKind(k orcherr.Kind) int {
	switch k {
	case orcherr.KindNoRoute, orcherr.KindUnknownNode, orcherr.KindNotFound:
		return http.StatusNotFound
	case orcherr.KindValidation, orcherr.KindMailCorrupt:
		return http.StatusBadRequest
	case orcherr.KindAlreadyExists:
		return http.StatusConflict
	case orcherr.KindBusy:
		return http.StatusTooManyRequests
	case orcherr.KindCancelled:
		return http.StatusRequestTimeout
	case orcherr.KindContainerRuntime, orcherr.KindIO:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes r's JSON body into dst, writing a 400 and returning
// false on failure so callers can `if !decodeBody(...) { return }`.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		jsonError(w, orcherr.Wrap(orcherr.ErrValidation, "invalid request body"), http.StatusBadRequest)
		return false
	}
	return true
}
