package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/jmcleod/gatewarden/challenge"
	"github.com/jmcleod/gatewarden/identity"
)

const maxAuthBodySize = 4 << 10

// Login handles POST /auth/login: the first round trip of a login
// attempt. The policy gate runs before anything else; only then is the
// password checked and a second-factor challenge created.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeReason(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	// De-duplicate client retries: a pending, unanswered session for the
	// same username reuses the outstanding challenge instead of minting
	// and delivering a second code (which would invalidate the first).
	if req.SessionToken != "" {
		if session, ok := a.sessions.Get(req.SessionToken); ok &&
			session.Username == req.Username && !session.Answered() {
			writeJSON(w, http.StatusOK, LoginResponse{
				SessionToken: req.SessionToken,
				Challenge: ChallengeInfo{
					Factor:            string(session.Factor),
					MaskedDestination: session.MaskedDestination,
				},
			})
			return
		}
	}

	account, err := a.store.Get(r.Context(), req.Username)
	notFound := errors.Is(err, identity.ErrNotFound)
	if err != nil && !notFound {
		a.writeInternalError(w, "identity lookup failed", err)
		return
	}

	if policyErr := a.gate.Evaluate(identity.PolicyAttributes(account, !notFound), a.now()); policyErr != nil {
		a.logger.Info("login rejected by policy",
			slog.String("username", req.Username),
			slog.String("reason", policyErr.Error()))
		mapPolicyError(w, policyErr)
		return
	}

	ok, err = identity.VerifyPassword(account, req.Password)
	if err != nil {
		a.writeInternalError(w, "password verification failed", err)
		return
	}
	if !ok {
		a.logger.Info("login rejected: bad password", slog.String("username", req.Username))
		writeReason(w, http.StatusUnauthorized, ReasonInvalidCredentials)
		return
	}

	// Fresh session, empty challenge history: the machine always asks
	// for the configured factor here.
	if decision := a.engine.DefineNext(account.Factor, nil); decision != challenge.DecideChallenge {
		a.writeInternalError(w, "unexpected transition on empty history", errors.New(decision.String()))
		return
	}

	attempt, err := a.engine.Create(r.Context(), account.Factor, identity.Subject(account))
	if err != nil {
		a.mapChallengeError(w, err)
		return
	}

	now := a.now()
	token := uuid.NewString()
	a.sessions.Put(token, LoginSession{
		Username:          account.Username,
		SubjectID:         account.SubjectID,
		Factor:            account.Factor,
		PendingAnswer:     attempt.Answer,
		MaskedDestination: attempt.Public.MaskedDestination,
		CreatedAt:         now,
		ExpiresAt:         now.Add(a.sessionTTL),
	})

	a.logger.Info("challenge issued",
		slog.String("subject_id", account.SubjectID),
		slog.String("factor", string(account.Factor)))
	writeJSON(w, http.StatusOK, LoginResponse{
		SessionToken: token,
		Challenge: ChallengeInfo{
			Factor:            string(account.Factor),
			MaskedDestination: attempt.Public.MaskedDestination,
		},
	})
}

// Respond handles POST /auth/respond: the challenge-answer round trip.
// The verification result is recorded in the session history before the
// next transition is evaluated, and any terminal outcome destroys the
// session.
func (a *API) Respond(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[RespondRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.SessionToken == "" || req.Answer == "" {
		writeReason(w, http.StatusBadRequest, "missing_answer")
		return
	}

	session, ok := a.sessions.Get(req.SessionToken)
	if !ok {
		writeReason(w, http.StatusUnauthorized, ReasonInvalidSession)
		return
	}

	var result challenge.Result
	switch session.Factor {
	case challenge.FactorAuthenticator:
		account, err := a.store.Get(r.Context(), session.Username)
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				a.sessions.Delete(req.SessionToken)
				writeReason(w, http.StatusForbidden, ReasonAccountNotFound)
				return
			}
			a.writeInternalError(w, "identity lookup failed", err)
			return
		}
		result = a.engine.VerifyAuthenticator(account.TOTPSecret, req.Answer)
	default:
		result = a.engine.Verify(session.PendingAnswer, req.Answer)
	}

	// Record before evaluating: the transition must never run against a
	// stale history.
	session.History = append(session.History, challenge.Step{Factor: session.Factor, Result: result})
	session.PendingAnswer = ""
	a.sessions.Put(req.SessionToken, session)

	switch a.engine.DefineNext(session.Factor, session.History) {
	case challenge.DecideIssueTokens:
		a.sessions.Delete(req.SessionToken)
		access, err := a.issuer.Issue(session.SubjectID, a.now())
		if err != nil {
			a.writeInternalError(w, "token issuance failed", err)
			return
		}
		a.logger.Info("login accepted", slog.String("subject_id", session.SubjectID))
		writeJSON(w, http.StatusOK, TokenResponse{
			AccessToken: access,
			TokenType:   "Bearer",
			ExpiresIn:   int64(a.issuer.TTL().Seconds()),
		})

	case challenge.DecideReject:
		a.sessions.Delete(req.SessionToken)
		a.logger.Info("login rejected: challenge failed", slog.String("subject_id", session.SubjectID))
		writeReason(w, http.StatusUnauthorized, ReasonChallengeFailed)

	default:
		a.writeInternalError(w, "unexpected transition after answer", errors.New("challenge"))
	}
}
