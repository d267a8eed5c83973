package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"nettie/internal/payload"
	"nettie/internal/service"
	"nettie/internal/store"
)

// errorResponse is the JSON envelope every failed request returns.
type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.Printf("failed to encode response: %v", err)
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondServiceError maps the service error taxonomy onto HTTP statuses.
// Anything unrecognized is a 500 with the detail kept in the log, not the
// response.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "invalid passcode")
	case errors.Is(err, service.ErrInvalidSession):
		respondError(w, http.StatusUnauthorized, "invalid or expired session")
	case errors.Is(err, service.ErrForbidden):
		respondError(w, http.StatusForbidden, "not permitted for this child")
	case errors.Is(err, service.ErrNotLinked):
		respondError(w, http.StatusNotFound, "child is not linked to this household")
	case errors.Is(err, service.ErrTokenNotFound):
		respondError(w, http.StatusNotFound, "pairing token not found")
	case errors.Is(err, service.ErrTokenRedeemed):
		respondError(w, http.StatusConflict, "pairing token already redeemed")
	case errors.Is(err, service.ErrTokenExpired):
		respondError(w, http.StatusGone, "pairing token expired")
	case errors.Is(err, payload.ErrMalformed):
		respondError(w, http.StatusBadRequest, "malformed link payload")
	case errors.Is(err, store.ErrUnavailable):
		log.Printf("store unavailable: %v", err)
		respondError(w, http.StatusServiceUnavailable, "state store unavailable")
	default:
		log.Printf("internal error: %v", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
