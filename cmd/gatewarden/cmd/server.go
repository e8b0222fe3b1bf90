package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	"github.com/jmcleod/gatewarden/api"
	"github.com/jmcleod/gatewarden/challenge"
	"github.com/jmcleod/gatewarden/credcache"
	identitybbolt "github.com/jmcleod/gatewarden/identity/bbolt"
	"github.com/jmcleod/gatewarden/notify"
	"github.com/jmcleod/gatewarden/policy"
	"github.com/jmcleod/gatewarden/secrets"
)

// serverConfig is populated from the environment (and an optional .env
// file) at startup.
type serverConfig struct {
	Addr           string        `env:"GATEWARDEN_ADDR,default=:8080"`
	DataDir        string        `env:"GATEWARDEN_DATA_DIR,default=./data"`
	SecretsFile    string        `env:"GATEWARDEN_SECRETS_FILE,default=./secrets.yaml"`
	TokenSecret    string        `env:"GATEWARDEN_TOKEN_SECRET"`
	TokenTTL       time.Duration `env:"GATEWARDEN_TOKEN_TTL,default=1h"`
	WebhookSecret  string        `env:"GATEWARDEN_WEBHOOK_SECRET"`
	StrictDelivery bool          `env:"GATEWARDEN_STRICT_DELIVERY,default=false"`
	SessionTTL     time.Duration `env:"GATEWARDEN_SESSION_TTL,default=5m"`
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the authentication gate server",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Optional .env for local development; the environment wins.
		_ = godotenv.Load()

		var cfg serverConfig
		if err := envdecode.Decode(&cfg); err != nil {
			return fmt.Errorf("reading server configuration: %w", err)
		}

		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		doc, err := secrets.Load(cfg.SecretsFile)
		if err != nil {
			return fmt.Errorf("failed to load secrets document: %w", err)
		}

		accounts, err := identitybbolt.NewStoreFromFile(filepath.Join(cfg.DataDir, "identity.db"), nil)
		if err != nil {
			return fmt.Errorf("failed to open identity store: %w", err)
		}
		defer accounts.Close()

		sessionsDB, err := bbolt.Open(filepath.Join(cfg.DataDir, "sessions.db"), 0600, nil)
		if err != nil {
			return fmt.Errorf("failed to open session store: %w", err)
		}
		defer sessionsDB.Close()
		sessions, err := api.NewBoltSessionStore(sessionsDB)
		if err != nil {
			return fmt.Errorf("failed to initialize session store: %w", err)
		}

		gate, err := policyGate(doc)
		if err != nil {
			return err
		}

		creds := credcache.New()
		defer creds.Close()
		notifier, err := buildNotifier(cfg, doc, creds, logger)
		if err != nil {
			return err
		}

		engine := challenge.NewEngine(notifier,
			challenge.WithLogger(logger),
			challenge.WithStrictDelivery(cfg.StrictDelivery))

		apiOpts := []api.Option{
			api.WithLogger(logger),
			api.WithPolicyGate(gate),
			api.WithSessionStore(sessions),
			api.WithSessionTTL(cfg.SessionTTL),
		}
		if cfg.TokenSecret != "" {
			apiOpts = append(apiOpts, api.WithTokenIssuer(
				api.NewTokenIssuer([]byte(cfg.TokenSecret), "gatewarden", cfg.TokenTTL)))
		}
		a := api.New(accounts, engine, apiOpts...)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Mount("/api/v1", a.Router())

		server := &http.Server{
			Addr:              cfg.Addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logger.Info("server listening", slog.String("addr", cfg.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("server stopped")
		return nil
	},
}

// policyGate builds the gate from the secrets document, falling back to
// the hardcoded defaults when keys are missing.
func policyGate(doc *secrets.Document) (*policy.Gate, error) {
	opts := []policy.Option{
		policy.WithExpirationDays(doc.Int(secrets.KeyExpirationDays, policy.DefaultExpirationDays)),
	}
	if tz := doc.String(secrets.KeyPolicyTimezone, ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid policy timezone %q: %w", tz, err)
		}
		opts = append(opts, policy.WithLocation(loc))
	}
	return policy.NewGate(opts...), nil
}

// buildNotifier picks the delivery channel. With a webhook URL
// configured, outbound requests authenticate with a short-lived service
// token reused through the credential cache; without one, deliveries
// are logged only (development mode).
func buildNotifier(cfg serverConfig, doc *secrets.Document, creds *credcache.Cache, logger *slog.Logger) (challenge.Notifier, error) {
	url := doc.String(secrets.KeyWebhookURL, "")
	if url == "" {
		logger.Warn("no notifier webhook configured; codes will only be logged")
		return notify.NewLogger(logger), nil
	}
	if cfg.WebhookSecret == "" {
		return notify.NewWebhook(url), nil
	}

	svcIssuer := api.NewTokenIssuer([]byte(cfg.WebhookSecret), "gatewarden", credcache.DefaultTTL)
	provider := func(ctx context.Context) (string, error) {
		cred, err := creds.Acquire(ctx, "notifier/webhook", func(ctx context.Context) (credcache.Issued, error) {
			token, err := svcIssuer.Issue("gatewarden-notifier", time.Now())
			if err != nil {
				return credcache.Issued{}, err
			}
			return credcache.Issued{Secret: token, TTL: credcache.DefaultTTL}, nil
		})
		if err != nil {
			return "", err
		}
		return cred.Secret()
	}
	return notify.NewWebhook(url, notify.WithAuthTokenProvider(provider)), nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
