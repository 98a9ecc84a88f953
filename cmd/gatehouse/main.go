// Command gatehouse runs the authorization server: the OAuth2 endpoints, the
// login UI, and the bot identity bridge, backed by SQLite or an in-memory
// store.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/gatehouse-auth/gatehouse"
	"github.com/gatehouse-auth/gatehouse/bridge"
	"github.com/gatehouse-auth/gatehouse/instrumentation"
	"github.com/gatehouse-auth/gatehouse/security"
	"github.com/gatehouse-auth/gatehouse/storage"
	"github.com/gatehouse-auth/gatehouse/storage/memory"
	"github.com/gatehouse-auth/gatehouse/storage/sqlite"
)

type appConfig struct {
	ListenAddr string `env:"GATEHOUSE_LISTEN_ADDR" envDefault:":8080"`
	Issuer     string `env:"GATEHOUSE_ISSUER" envDefault:"gatehouse"`

	// DatabasePath selects the SQLite file. Empty runs on the in-memory
	// store, which loses everything on restart.
	DatabasePath  string `env:"GATEHOUSE_DB_PATH"`
	BridgeKeyPath string `env:"GATEHOUSE_BRIDGE_KEY_PATH" envDefault:"bridge.key"`

	LogFormat string `env:"GATEHOUSE_LOG_FORMAT" envDefault:"text"`
	LogLevel  string `env:"GATEHOUSE_LOG_LEVEL" envDefault:"info"`

	AuthorizationCodeTTL time.Duration `env:"GATEHOUSE_CODE_TTL" envDefault:"10m"`
	AccessTokenTTL       time.Duration `env:"GATEHOUSE_ACCESS_TOKEN_TTL" envDefault:"1h"`

	TrustProxy        bool `env:"GATEHOUSE_TRUST_PROXY"`
	TrustedProxyCount int  `env:"GATEHOUSE_TRUSTED_PROXY_COUNT" envDefault:"1"`
	AuditLogging      bool `env:"GATEHOUSE_AUDIT_LOGGING" envDefault:"true"`

	RateLimitRate  int `env:"GATEHOUSE_RATE_LIMIT_RATE" envDefault:"10"`
	RateLimitBurst int `env:"GATEHOUSE_RATE_LIMIT_BURST" envDefault:"20"`

	Telemetry bool `env:"GATEHOUSE_TELEMETRY"`

	CleanupInterval time.Duration `env:"GATEHOUSE_CLEANUP_INTERVAL" envDefault:"1h"`

	ShutdownTimeout time.Duration `env:"GATEHOUSE_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func main() {
	// A missing .env file is fine; the environment wins either way.
	_ = godotenv.Load()

	var cfg appConfig
	if err := env.Parse(&cfg); err != nil {
		slog.Error("Failed to parse configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg appConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func run(cfg appConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// The bridge key exists only while the server runs; the bot peer reads
	// it live, and outstanding assertions die with the process.
	b, err := bridge.Open(cfg.BridgeKeyPath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("Removing bridge key failed", "error", err)
		}
	}()

	srv, err := gatehouse.NewServer(store, &gatehouse.ServerConfig{
		Issuer:               cfg.Issuer,
		AuthorizationCodeTTL: cfg.AuthorizationCodeTTL,
		AccessTokenTTL:       cfg.AccessTokenTTL,
		TrustProxy:           cfg.TrustProxy,
		TrustedProxyCount:    cfg.TrustedProxyCount,
		EnableAuditLogging:   cfg.AuditLogging,
	}, logger)
	if err != nil {
		return err
	}
	srv.SetBridge(b)

	if cfg.Telemetry {
		inst, err := instrumentation.New(instrumentation.Config{
			ServiceName: "gatehouse",
			Enabled:     true,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := inst.Shutdown(context.Background()); err != nil {
				logger.Warn("Telemetry shutdown failed", "error", err)
			}
		}()
		srv.SetInstrumentation(inst)
	}

	handler := gatehouse.NewHandler(srv, logger)
	if cfg.RateLimitRate > 0 {
		rl := security.NewRateLimiter(cfg.RateLimitRate, cfg.RateLimitBurst, logger)
		defer rl.Stop()
		handler.SetRateLimiter(rl)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", cfg.ListenAddr, "issuer", cfg.Issuer)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// openStore selects the persistence backend. SQLite gets a periodic cleanup
// ticker; the memory store runs its own.
func openStore(ctx context.Context, cfg appConfig, logger *slog.Logger) (storage.Store, func(), error) {
	if cfg.DatabasePath == "" {
		logger.Warn("No database path configured, using the in-memory store")
		store := memory.New()
		store.SetLogger(logger)
		return store, store.Close, nil
	}

	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Opened database", "path", cfg.DatabasePath)

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := store.CleanupExpired(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("Session cleanup failed", "error", err)
				}
			case <-done:
				return
			}
		}
	}()

	closeStore := func() {
		close(done)
		if err := store.Close(); err != nil {
			logger.Warn("Closing database failed", "error", err)
		}
	}
	return store, closeStore, nil
}
