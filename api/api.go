package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/gatewarden/challenge"
	"github.com/jmcleod/gatewarden/identity"
	"github.com/jmcleod/gatewarden/internal/util"
	"github.com/jmcleod/gatewarden/policy"
)

// defaultSessionTTL bounds how long a pending login session (issued
// challenge, no answer yet) stays valid.
const defaultSessionTTL = 5 * time.Minute

//go:embed openapi.yaml
var openapiSpec []byte

// API holds the dependencies needed by the REST handlers.
type API struct {
	store      identity.Store
	engine     *challenge.Engine
	gate       *policy.Gate
	sessions   SessionStore
	issuer     *TokenIssuer
	logger     *slog.Logger
	sessionTTL time.Duration
	now        func() time.Time
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithPolicyGate overrides the default policy gate.
func WithPolicyGate(gate *policy.Gate) Option {
	return func(a *API) {
		if gate != nil {
			a.gate = gate
		}
	}
}

// WithSessionStore overrides the default in-memory session store.
func WithSessionStore(sessions SessionStore) Option {
	return func(a *API) {
		if sessions != nil {
			a.sessions = sessions
		}
	}
}

// WithTokenIssuer overrides the default token issuer.
func WithTokenIssuer(issuer *TokenIssuer) Option {
	return func(a *API) {
		if issuer != nil {
			a.issuer = issuer
		}
	}
}

// WithSessionTTL overrides the pending-session lifetime.
func WithSessionTTL(ttl time.Duration) Option {
	return func(a *API) {
		if ttl > 0 {
			a.sessionTTL = ttl
		}
	}
}

// WithClock overrides the API clock. Test hook.
func WithClock(now func() time.Time) Option {
	return func(a *API) {
		if now != nil {
			a.now = now
		}
	}
}

// New creates a new API instance around the identity store and
// challenge engine.
func New(store identity.Store, engine *challenge.Engine, opts ...Option) *API {
	a := &API{
		store:      store,
		engine:     engine,
		gate:       policy.NewGate(),
		sessionTTL: defaultSessionTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if a.sessions == nil {
		a.sessions = NewMemorySessionStore()
	}
	if a.issuer == nil {
		// Per-boot random signing secret. Fine for a single instance;
		// deployments that verify tokens elsewhere must configure one.
		secret, err := util.RandomBytes(32)
		if err != nil {
			panic("api: unable to generate token signing secret: " + err.Error())
		}
		a.issuer = NewTokenIssuer(secret, "gatewarden", time.Hour)
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Post("/auth/login", a.Login)
	r.Post("/auth/respond", a.Respond)

	return r
}
