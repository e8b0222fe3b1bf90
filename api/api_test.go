package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/gatewarden/challenge"
	"github.com/jmcleod/gatewarden/identity"
	"github.com/jmcleod/gatewarden/identity/memory"
	"github.com/jmcleod/gatewarden/notify"
	"github.com/jmcleod/gatewarden/policy"
)

type testEnv struct {
	api      *API
	router   http.Handler
	accounts *memory.Store
	notifier *notify.Memory
	issuer   *TokenIssuer
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	accounts := memory.NewStore()
	notifier := notify.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := challenge.NewEngine(notifier, challenge.WithLogger(logger))
	issuer := NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), "gatewarden", time.Hour)

	opts = append([]Option{
		WithLogger(logger),
		WithTokenIssuer(issuer),
	}, opts...)
	a := New(accounts, engine, opts...)
	return &testEnv{
		api:      a,
		router:   a.Router(),
		accounts: accounts,
		notifier: notifier,
		issuer:   issuer,
	}
}

func (e *testEnv) addAccount(t *testing.T, username, password string, factor challenge.Factor, mutate func(*identity.Account)) identity.Account {
	t.Helper()
	account, err := identity.NewAccount(username, "subj-"+username, password, factor)
	require.NoError(t, err)
	account.Destination = username + "@example.com"
	if mutate != nil {
		mutate(&account)
	}
	require.NoError(t, e.accounts.Put(t.Context(), account))
	return account
}

func (e *testEnv) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

// lastCode pulls the one-time code out of the most recent delivery.
func (e *testEnv) lastCode(t *testing.T) string {
	t.Helper()
	msgs := e.notifier.Messages()
	require.NotEmpty(t, msgs)
	body := msgs[len(msgs)-1].Body
	idx := strings.LastIndex(body, " ")
	require.Positive(t, idx)
	return body[idx+1:]
}

func TestLoginRespond_HappyPath(t *testing.T) {
	env := newTestEnv(t)
	env.addAccount(t, "jane", "passphrase-123", challenge.FactorEmailCode, nil)

	rec := env.post(t, "/auth/login", LoginRequest{Username: "jane", Password: "passphrase-123"})
	require.Equal(t, http.StatusOK, rec.Code)
	login := decodeBody[LoginResponse](t, rec)
	require.NotEmpty(t, login.SessionToken)
	assert.Equal(t, "email_code", login.Challenge.Factor)
	assert.Equal(t, "j***@example.com", login.Challenge.MaskedDestination)

	code := env.lastCode(t)
	rec = env.post(t, "/auth/respond", RespondRequest{SessionToken: login.SessionToken, Answer: code})
	require.Equal(t, http.StatusOK, rec.Code)
	tokens := decodeBody[TokenResponse](t, rec)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.Equal(t, int64(3600), tokens.ExpiresIn)

	subject, err := env.issuer.Verify(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "subj-jane", subject)
}

func TestRespond_WrongCodeIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.addAccount(t, "jane", "passphrase-123", challenge.FactorEmailCode, nil)

	rec := env.post(t, "/auth/login", LoginRequest{Username: "jane", Password: "passphrase-123"})
	login := decodeBody[LoginResponse](t, rec)

	rec = env.post(t, "/auth/respond", RespondRequest{SessionToken: login.SessionToken, Answer: "000000"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ReasonChallengeFailed, decodeBody[ErrorResponse](t, rec).Error)

	// The session is destroyed; the correct code no longer helps.
	code := env.lastCode(t)
	rec = env.post(t, "/auth/respond", RespondRequest{SessionToken: login.SessionToken, Answer: code})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ReasonInvalidSession, decodeBody[ErrorResponse](t, rec).Error)
}

func TestLogin_PolicyRejections(t *testing.T) {
	env := newTestEnv(t)

	expired := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	env.addAccount(t, "old", "passphrase-123", challenge.FactorEmailCode, func(a *identity.Account) {
		a.PasswordSetAt = &expired
	})
	future := time.Now().AddDate(0, 0, 7)
	env.addAccount(t, "early", "passphrase-123", challenge.FactorEmailCode, func(a *identity.Account) {
		a.UsageStartAt = &future
	})
	past := time.Now().AddDate(0, 0, -7)
	env.addAccount(t, "late", "passphrase-123", challenge.FactorEmailCode, func(a *identity.Account) {
		a.UsageEndAt = &past
	})

	cases := []struct {
		username string
		reason   string
	}{
		{"old", ReasonPasswordExpired},
		{"early", ReasonUsageNotStarted},
		{"late", ReasonUsageEnded},
		{"nobody", ReasonAccountNotFound},
	}
	for _, tc := range cases {
		rec := env.post(t, "/auth/login", LoginRequest{Username: tc.username, Password: "passphrase-123"})
		require.Equal(t, http.StatusForbidden, rec.Code, tc.username)
		assert.Equal(t, tc.reason, decodeBody[ErrorResponse](t, rec).Error, tc.username)
	}

	// Policy rejection happens before any challenge is created.
	assert.Empty(t, env.notifier.Messages())
}

func TestLogin_BadPassword(t *testing.T) {
	env := newTestEnv(t)
	env.addAccount(t, "jane", "passphrase-123", challenge.FactorEmailCode, nil)

	rec := env.post(t, "/auth/login", LoginRequest{Username: "jane", Password: "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ReasonInvalidCredentials, decodeBody[ErrorResponse](t, rec).Error)
	assert.Empty(t, env.notifier.Messages())
}

func TestLogin_RetryReusesOutstandingChallenge(t *testing.T) {
	env := newTestEnv(t)
	env.addAccount(t, "jane", "passphrase-123", challenge.FactorEmailCode, nil)

	rec := env.post(t, "/auth/login", LoginRequest{Username: "jane", Password: "passphrase-123"})
	first := decodeBody[LoginResponse](t, rec)
	require.Len(t, env.notifier.Messages(), 1)

	rec = env.post(t, "/auth/login", LoginRequest{
		Username:     "jane",
		Password:     "passphrase-123",
		SessionToken: first.SessionToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeBody[LoginResponse](t, rec)

	assert.Equal(t, first.SessionToken, second.SessionToken)
	assert.Len(t, env.notifier.Messages(), 1, "retry must not deliver a second code")

	// The original code still works.
	code := env.lastCode(t)
	rec = env.post(t, "/auth/respond", RespondRequest{SessionToken: first.SessionToken, Answer: code})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginRespond_AuthenticatorFactor(t *testing.T) {
	env := newTestEnv(t)
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "gatewarden", AccountName: "jane"})
	require.NoError(t, err)
	env.addAccount(t, "jane", "passphrase-123", challenge.FactorAuthenticator, func(a *identity.Account) {
		a.TOTPSecret = key.Secret()
	})

	rec := env.post(t, "/auth/login", LoginRequest{Username: "jane", Password: "passphrase-123"})
	require.Equal(t, http.StatusOK, rec.Code)
	login := decodeBody[LoginResponse](t, rec)
	assert.Equal(t, "authenticator", login.Challenge.Factor)
	assert.Empty(t, env.notifier.Messages(), "authenticator factor has no out-of-band delivery")

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)
	rec = env.post(t, "/auth/respond", RespondRequest{SessionToken: login.SessionToken, Answer: code})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRespond_ExpiredSession(t *testing.T) {
	env := newTestEnv(t, WithSessionTTL(time.Millisecond))
	env.addAccount(t, "jane", "passphrase-123", challenge.FactorEmailCode, nil)

	rec := env.post(t, "/auth/login", LoginRequest{Username: "jane", Password: "passphrase-123"})
	login := decodeBody[LoginResponse](t, rec)

	time.Sleep(10 * time.Millisecond)

	code := env.lastCode(t)
	rec = env.post(t, "/auth/respond", RespondRequest{SessionToken: login.SessionToken, Answer: code})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ReasonInvalidSession, decodeBody[ErrorResponse](t, rec).Error)
}

func TestRespond_UnknownSession(t *testing.T) {
	env := newTestEnv(t)
	rec := env.post(t, "/auth/respond", RespondRequest{SessionToken: "nope", Answer: "123456"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin_CustomPolicyGate(t *testing.T) {
	env := newTestEnv(t, WithPolicyGate(policy.NewGate(policy.WithExpirationDays(1))))
	twoDaysAgo := time.Now().AddDate(0, 0, -2)
	env.addAccount(t, "jane", "passphrase-123", challenge.FactorEmailCode, func(a *identity.Account) {
		a.PasswordSetAt = &twoDaysAgo
	})

	rec := env.post(t, "/auth/login", LoginRequest{Username: "jane", Password: "passphrase-123"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, ReasonPasswordExpired, decodeBody[ErrorResponse](t, rec).Error)
}

func TestOpenAPISpecServed(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Gatewarden Authentication API")
}
