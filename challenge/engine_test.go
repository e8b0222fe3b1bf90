package challenge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (n *captureNotifier) Send(_ context.Context, destination, _, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, destination+": "+body)
	return nil
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func newTestEngine(t *testing.T, notifier Notifier, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewEngine(notifier, opts...)
}

func TestDefineNext_EmptyHistoryAlwaysChallenges(t *testing.T) {
	e := newTestEngine(t, &captureNotifier{})
	for _, factor := range []Factor{FactorEmailCode, FactorSMSCode, FactorAuthenticator} {
		assert.Equal(t, DecideChallenge, e.DefineNext(factor, nil))
		assert.Equal(t, DecideChallenge, e.DefineNext(factor, []Step{}))
	}
}

func TestDefineNext_SatisfiedChallengeIssuesTokens(t *testing.T) {
	e := newTestEngine(t, &captureNotifier{})
	history := []Step{{Factor: FactorEmailCode, Result: ResultSatisfied}}
	assert.Equal(t, DecideIssueTokens, e.DefineNext(FactorEmailCode, history))
}

func TestDefineNext_FailedOrMismatchedChallengeRejects(t *testing.T) {
	e := newTestEngine(t, &captureNotifier{})

	failed := []Step{{Factor: FactorEmailCode, Result: ResultFailed}}
	assert.Equal(t, DecideReject, e.DefineNext(FactorEmailCode, failed))

	// Satisfied, but not the configured factor.
	wrongFactor := []Step{{Factor: FactorSMSCode, Result: ResultSatisfied}}
	assert.Equal(t, DecideReject, e.DefineNext(FactorEmailCode, wrongFactor))

	// Pending answers never advance to accept.
	pending := []Step{{Factor: FactorEmailCode, Result: ResultPending}}
	assert.Equal(t, DecideReject, e.DefineNext(FactorEmailCode, pending))
}

func TestCreate_OutOfBandCodeShape(t *testing.T) {
	notifier := &captureNotifier{}
	e := newTestEngine(t, notifier)

	attempt, err := e.Create(context.Background(), FactorEmailCode, Subject{
		ID:          "subj-1",
		Destination: "jane@example.com",
	})
	require.NoError(t, err)

	require.Len(t, attempt.Answer, 6)
	n, err := strconv.Atoi(attempt.Answer)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 100000)
	assert.LessOrEqual(t, n, 999999)

	assert.Equal(t, "j***@example.com", attempt.Public.MaskedDestination)
	assert.Equal(t, 1, notifier.count(), "exactly one notification per Create")
}

func TestCreate_DeliveryFailureToleratedByDefault(t *testing.T) {
	notifier := &captureNotifier{err: errors.New("smtp relay down")}
	e := newTestEngine(t, notifier)

	attempt, err := e.Create(context.Background(), FactorSMSCode, Subject{
		ID:          "subj-1",
		Destination: "+15551234567",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, attempt.Answer, "session still expects the code")
}

func TestCreate_StrictDeliveryFailsAttempt(t *testing.T) {
	notifier := &captureNotifier{err: errors.New("smtp relay down")}
	e := newTestEngine(t, notifier, WithStrictDelivery(true))

	_, err := e.Create(context.Background(), FactorEmailCode, Subject{
		ID:          "subj-1",
		Destination: "jane@example.com",
	})
	require.ErrorIs(t, err, ErrDeliveryFailed)
}

func TestCreate_AuthenticatorNeedsNoDelivery(t *testing.T) {
	notifier := &captureNotifier{}
	e := newTestEngine(t, notifier)

	attempt, err := e.Create(context.Background(), FactorAuthenticator, Subject{ID: "subj-1"})
	require.NoError(t, err)
	assert.Empty(t, attempt.Answer)
	assert.Equal(t, 0, notifier.count())
}

func TestCreate_UnknownFactor(t *testing.T) {
	e := newTestEngine(t, &captureNotifier{})
	_, err := e.Create(context.Background(), Factor("carrier_pigeon"), Subject{ID: "subj-1"})
	require.ErrorIs(t, err, ErrUnknownFactor)
}

func TestVerify_ExactMatchOnly(t *testing.T) {
	e := newTestEngine(t, &captureNotifier{})

	assert.Equal(t, ResultSatisfied, e.Verify("483920", "483920"))
	assert.Equal(t, ResultFailed, e.Verify("483920", "483921"))
	assert.Equal(t, ResultFailed, e.Verify("483920", "48392"))
	assert.Equal(t, ResultFailed, e.Verify("483920", ""))
	assert.Equal(t, ResultFailed, e.Verify("", ""), "empty expected answer never satisfies")
}

func TestVerifyAuthenticator(t *testing.T) {
	e := newTestEngine(t, &captureNotifier{})

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "gatewarden", AccountName: "jane"})
	require.NoError(t, err)

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, ResultSatisfied, e.VerifyAuthenticator(key.Secret(), code))
	assert.Equal(t, ResultSatisfied, e.VerifyAuthenticator(key.Secret(), " "+code+" "), "whitespace is normalized")
	assert.Equal(t, ResultFailed, e.VerifyAuthenticator(key.Secret(), "000000"))
}

func TestMaskDestination(t *testing.T) {
	assert.Equal(t, "j***@example.com", MaskDestination("jane@example.com"))
	assert.Equal(t, "*********567", MaskDestination("+15551234567"))
	assert.Equal(t, "***", MaskDestination("abc"))
	assert.Equal(t, "", MaskDestination(""))
}
