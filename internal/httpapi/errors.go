package httpapi

import (
	"encoding/json"
	"net/http"

	hcerrors "github.com/hcproxy/hypercube-proxy/pkg/errors"
)

var (
	rateLimitedErr  = hcerrors.New(hcerrors.ErrRateLimited, http.StatusTooManyRequests, "rate limit exceeded")
	unauthorizedErr = hcerrors.New(hcerrors.ErrUnauthorized, http.StatusUnauthorized, "missing or invalid API key")
)

func writeJSONError(w http.ResponseWriter, err error) {
	status := hcerrors.HTTPStatusCode(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
