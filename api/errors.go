package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmcleod/gatewarden/challenge"
	"github.com/jmcleod/gatewarden/policy"
)

// Reason codes returned to clients. Policy and challenge outcomes are
// specific; everything infrastructure-shaped collapses to "try_again".
const (
	ReasonAccountNotFound    = "account_not_found"
	ReasonPasswordExpired    = "password_expired"
	ReasonUsageNotStarted    = "usage_period_not_started"
	ReasonUsageEnded         = "usage_period_ended"
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonInvalidSession     = "invalid_session"
	ReasonChallengeFailed    = "challenge_failed"
	ReasonTryAgain           = "try_again"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeReason(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, ErrorResponse{Error: reason})
}

// writeInternalError logs the cause and returns only the generic
// retryable reason to the client.
func (a *API) writeInternalError(w http.ResponseWriter, msg string, err error) {
	a.logger.Error(msg, slog.String("error", err.Error()))
	writeReason(w, http.StatusServiceUnavailable, ReasonTryAgain)
}

// mapPolicyError translates a policy gate rejection into a response.
// Returns false when err is nil.
func mapPolicyError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, policy.ErrAccountNotFound):
		writeReason(w, http.StatusForbidden, ReasonAccountNotFound)
	case errors.Is(err, policy.ErrPasswordExpired):
		writeReason(w, http.StatusForbidden, ReasonPasswordExpired)
	case errors.Is(err, policy.ErrUsageNotStarted):
		writeReason(w, http.StatusForbidden, ReasonUsageNotStarted)
	case errors.Is(err, policy.ErrUsageEnded):
		writeReason(w, http.StatusForbidden, ReasonUsageEnded)
	default:
		writeReason(w, http.StatusForbidden, ReasonAccountNotFound)
	}
	return true
}

// mapChallengeError translates challenge-creation failures. Delivery
// failures in strict mode are user-actionable; everything else is the
// generic retryable response.
func (a *API) mapChallengeError(w http.ResponseWriter, err error) {
	if errors.Is(err, challenge.ErrDeliveryFailed) {
		a.logger.Error("challenge delivery failed", slog.String("error", err.Error()))
		writeReason(w, http.StatusBadGateway, ReasonTryAgain)
		return
	}
	a.writeInternalError(w, "challenge creation failed", err)
}

// decodeJSON decodes a bounded JSON body into T, writing a 400 on failure.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, maxBytes int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		writeReason(w, http.StatusBadRequest, "invalid_request_body")
		return v, false
	}
	return v, true
}
