package challenge

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/jmcleod/gatewarden/internal/util"
)

const codeDigits = 6

// Notifier delivers a one-time code to the subject over an out-of-band
// channel. Implementations live outside this package (webhook, email
// relay, test capture); the engine only requests delivery.
type Notifier interface {
	Send(ctx context.Context, destination, subject, body string) error
}

// Engine builds and verifies challenges for login sessions. It is safe
// for concurrent use; all per-session state is caller-supplied.
type Engine struct {
	notifier       Notifier
	logger         *slog.Logger
	strictDelivery bool
	now            func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to a JSON logger on stderr.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithStrictDelivery makes Create fail the attempt when the out-of-band
// send fails, instead of logging and proceeding. Off by default to match
// the historical behavior; see the package tests for the tradeoff.
func WithStrictDelivery(strict bool) Option {
	return func(e *Engine) {
		e.strictDelivery = strict
	}
}

// WithClock overrides the engine's clock. Test hook.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates a challenge engine that delivers out-of-band codes
// through notifier.
func NewEngine(notifier Notifier, opts ...Option) *Engine {
	e := &Engine{
		notifier: notifier,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return e
}

// DefineNext decides the next transition for a session whose configured
// second factor is factor.
//
// The machine is strict two-state: an empty history always yields a
// challenge, and the first recorded answer is terminal. There is no
// retry within a session; a failed answer means the client must restart
// sign-in.
func (e *Engine) DefineNext(factor Factor, history []Step) Decision {
	if len(history) == 0 {
		return DecideChallenge
	}
	last := history[len(history)-1]
	if last.Factor == factor && last.Result == ResultSatisfied {
		return DecideIssueTokens
	}
	return DecideReject
}

// Create builds a challenge of the given factor for subject. For
// out-of-band factors it generates a fresh 6-digit code and requests
// exactly one delivery. A delivery failure is logged and tolerated
// unless strict delivery is enabled; any other failure is returned so
// the caller holds the session at challenge-pending rather than
// advancing it.
func (e *Engine) Create(ctx context.Context, factor Factor, subject Subject) (Attempt, error) {
	attempt := Attempt{
		Factor:    factor,
		CreatedAt: e.now(),
		Public:    PublicParams{Factor: factor},
	}

	switch factor {
	case FactorEmailCode, FactorSMSCode:
		code, err := util.RandomDigits(codeDigits)
		if err != nil {
			return Attempt{}, fmt.Errorf("generating challenge code: %w", err)
		}
		attempt.Answer = code
		attempt.Public.MaskedDestination = MaskDestination(subject.Destination)

		body := fmt.Sprintf("Your verification code is %s", code)
		if err := e.notifier.Send(ctx, subject.Destination, "Verification code", body); err != nil {
			e.logger.Error("challenge code delivery failed",
				slog.String("subject_id", subject.ID),
				slog.String("factor", string(factor)),
				slog.String("error", err.Error()))
			if e.strictDelivery {
				return Attempt{}, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
			}
		}
		return attempt, nil

	case FactorAuthenticator:
		// Nothing to generate or deliver; the answer is checked against
		// the subject's TOTP secret at verification time.
		return attempt, nil

	case FactorNewPassword:
		return attempt, nil

	default:
		return Attempt{}, fmt.Errorf("%w: %q", ErrUnknownFactor, factor)
	}
}

// Verify compares the expected answer with the submitted one. Exact
// equality only, compared in constant time; a single-character
// difference fails. No side effects.
func (e *Engine) Verify(expected, submitted string) Result {
	if expected == "" {
		return ResultFailed
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(submitted)) == 1 {
		return ResultSatisfied
	}
	return ResultFailed
}

// VerifyAuthenticator validates a TOTP code against the subject's shared
// secret at the engine's current clock reading.
func (e *Engine) VerifyAuthenticator(secret, submitted string) Result {
	code := strings.TrimSpace(strings.ReplaceAll(submitted, " ", ""))
	if totp.Validate(code, secret) {
		return ResultSatisfied
	}
	return ResultFailed
}

// MaskDestination hides most of a delivery destination so it can be
// shown to the client. Emails keep the first rune of the local part and
// the domain; other destinations keep the last three characters.
func MaskDestination(dest string) string {
	if dest == "" {
		return ""
	}
	if at := strings.LastIndex(dest, "@"); at > 0 {
		local := []rune(dest[:at])
		return string(local[0]) + strings.Repeat("*", len(local)-1) + dest[at:]
	}
	if len(dest) <= 3 {
		return strings.Repeat("*", len(dest))
	}
	return strings.Repeat("*", len(dest)-3) + dest[len(dest)-3:]
}
