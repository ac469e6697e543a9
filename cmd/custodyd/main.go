package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/emperorhan/rwa-custody/internal/admin"
	"github.com/emperorhan/rwa-custody/internal/alert"
	"github.com/emperorhan/rwa-custody/internal/config"
	"github.com/emperorhan/rwa-custody/internal/custody"
	"github.com/emperorhan/rwa-custody/internal/domain/model"
	"github.com/emperorhan/rwa-custody/internal/reconciliation"
	"github.com/emperorhan/rwa-custody/internal/retry"
	"github.com/emperorhan/rwa-custody/internal/store"
	"github.com/emperorhan/rwa-custody/internal/store/memory"
	"github.com/emperorhan/rwa-custody/internal/store/postgres"
	redispkg "github.com/emperorhan/rwa-custody/internal/store/redis"
	"github.com/emperorhan/rwa-custody/internal/tracing"
)

const dbPoolLabel = "custody"

var (
	newStreamFactory = func(redisURL string, maxLen int64) (redispkg.MessageTransport, error) {
		return redispkg.NewStream(redisURL, redispkg.WithMaxLen(maxLen))
	}
	newPostgresFactory = func(cfg config.DBConfig) (*postgres.DB, error) {
		return postgres.New(postgres.Config{
			URL:                cfg.URL,
			MaxOpenConns:       cfg.MaxOpenConns,
			MaxIdleConns:       cfg.MaxIdleConns,
			ConnMaxLifetime:    cfg.ConnMaxLifetime,
			StatementTimeoutMS: cfg.StatementTimeoutMS,
		})
	}
)

func main() {
	issueToken := flag.String("issue-token", "", "print a bearer token for the given base58 address and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of a token printed by -issue-token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	if *issueToken != "" {
		tok, err := issueOperatorToken(cfg.Auth, *issueToken, *tokenTTL, logger)
		if err != nil {
			logger.Error("failed to issue token", "error", err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("custodyd exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("custodyd shut down gracefully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting rwa-custody",
		"store_backend", cfg.Custody.StoreBackend,
		"custody_program", cfg.Custody.CustodyProgram,
		"gate_program", cfg.Custody.GateProgram,
		"ledger_program", cfg.Custody.LedgerProgram,
		"stream_enabled", cfg.Custody.StreamEnabled,
		"api_port", cfg.Server.APIPort,
		"health_port", cfg.Server.HealthPort,
	)

	// Initialize OpenTelemetry tracing
	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(context.Background(), "rwa-custody", tracingEndpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint, "sample_ratio", cfg.Tracing.SampleRatio)
	}

	programs, err := parsePrograms(cfg.Custody)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	var genesis *custody.Genesis
	if cfg.Custody.BootstrapFile != "" {
		if genesis, err = custody.LoadGenesis(cfg.Custody.BootstrapFile); err != nil {
			return err
		}
	}

	alerter := buildAlerter(cfg.Alert, logger)
	opts := []custody.Option{custody.WithAlerter(alerter)}

	var relay *redispkg.EventRelay
	if cfg.Custody.StreamEnabled {
		var transport redispkg.MessageTransport
		err := retry.Do(ctx, retry.Policy{MaxAttempts: cfg.Redis.ConnectAttempts}, logRetry(logger, "redis"), func(context.Context) error {
			var err error
			transport, err = newStreamFactory(cfg.Redis.URL, cfg.Redis.StreamMaxLen)
			return err
		})
		if err != nil {
			return fmt.Errorf("initialize redis stream transport: %w", err)
		}
		defer transport.Close()
		assets, err := relayAssets(ctx, st, genesis)
		if err != nil {
			return err
		}
		relay = redispkg.NewEventRelay(transport, st, cfg.Custody.StreamName, logger, assets...)
		opts = append(opts, custody.WithPublisher(relay))
		logger.Info("redis event stream enabled", "redis_url", cfg.Redis.URL, "stream", cfg.Custody.StreamName)
	}

	svc := custody.New(programs, st, logger, opts...)

	if genesis != nil {
		if err := svc.Apply(ctx, genesis); err != nil {
			return fmt.Errorf("apply bootstrap file: %w", err)
		}
		logger.Info("bootstrap applied", "file", cfg.Custody.BootstrapFile, "assets", len(genesis.Assets))
	}

	auth := admin.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, logger,
		admin.WithVerifiedTokenCache(cfg.Auth.TokenCacheSize, cfg.Auth.TokenCacheTTL))
	limiter := admin.NewRateLimitMiddleware(logger, cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	defer limiter.Stop()
	reconciler := reconciliation.NewService(st, alerter, logger)
	api := admin.NewServer(svc, auth, logger, admin.WithRateLimiter(limiter), admin.WithReconciler(reconciler))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	grace := time.Duration(cfg.Custody.ShutdownGraceMillis) * time.Millisecond
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return serveHTTP(gCtx, "health", healthServer(cfg.Server.HealthPort, logger), grace, logger)
	})
	g.Go(func() error {
		return serveHTTP(gCtx, "api", &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.APIPort),
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}, grace, logger)
	})
	if relay != nil {
		g.Go(func() error {
			return relay.Run(gCtx, time.Duration(cfg.Custody.RelayIntervalMS)*time.Millisecond)
		})
	}
	if cfg.Custody.ReconcileIntervalMS > 0 {
		g.Go(func() error {
			return reconciler.RunPeriodic(gCtx, time.Duration(cfg.Custody.ReconcileIntervalMS)*time.Millisecond)
		})
	}
	if db != nil {
		startDBPoolStatsPump(gCtx, db, cfg.DB.PoolStatsIntervalMS, logger)
	}

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func parsePrograms(cfg config.CustodyConfig) (model.Programs, error) {
	var p model.Programs
	for _, f := range []struct {
		env string
		raw string
		dst *model.Address
	}{
		{"CUSTODY_PROGRAM_ID", cfg.CustodyProgram, &p.Custody},
		{"CUSTODY_GATE_PROGRAM_ID", cfg.GateProgram, &p.Gate},
		{"CUSTODY_LEDGER_PROGRAM_ID", cfg.LedgerProgram, &p.Ledger},
	} {
		a, err := model.ParseAddress(strings.TrimSpace(f.raw))
		if err != nil {
			return model.Programs{}, fmt.Errorf("%s: %w", f.env, err)
		}
		*f.dst = a
	}
	if p.Custody == p.Gate || p.Custody == p.Ledger || p.Gate == p.Ledger {
		return model.Programs{}, fmt.Errorf("custody, gate and ledger program ids must be distinct")
	}
	return p, nil
}

// openStore returns the configured store. db is non-nil only for the postgres
// backend.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, *postgres.DB, error) {
	switch cfg.Custody.StoreBackend {
	case config.StoreBackendMemory:
		logger.Warn("using in-memory store; state is lost on restart")
		return memory.New(), nil, nil
	case config.StoreBackendPostgres:
		var db *postgres.DB
		err := retry.Do(ctx, retry.Policy{MaxAttempts: cfg.DB.ConnectAttempts}, logRetry(logger, "postgres"), func(context.Context) error {
			var err error
			db, err = newPostgresFactory(cfg.DB)
			return err
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := db.RunMigrations(ctx, cfg.DB.MigrationsDir); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("connected to database", "migrations_dir", cfg.DB.MigrationsDir)
		return postgres.NewStore(db), db, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store backend %q", cfg.Custody.StoreBackend)
	}
}

func buildAlerter(cfg config.AlertConfig, logger *slog.Logger) alert.Alerter {
	var sinks []alert.Alerter
	if cfg.SlackWebhookURL != "" {
		sinks = append(sinks, alert.NewSlackAlerter(cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, alert.NewWebhookAlerter(cfg.WebhookURL))
	}
	if len(sinks) == 0 {
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Cooldown, logger, sinks...)
}

func logRetry(logger *slog.Logger, target string) retry.OnRetry {
	return func(attempt int, err error, d retry.Decision, wait time.Duration) {
		logger.Warn("connection attempt failed, retrying",
			"target", target,
			"attempt", attempt,
			"reason", d.Reason,
			"wait", wait,
			"error", err,
		)
	}
}

// relayAssets is every asset already in the store plus those the bootstrap
// file is about to create. Assets initialized later are picked up on publish.
func relayAssets(ctx context.Context, st store.Store, g *custody.Genesis) ([]model.Address, error) {
	var stored []model.Address
	if err := st.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		stored, err = tx.ListAssets(ctx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("list stored assets: %w", err)
	}
	seen := make(map[model.Address]struct{}, len(stored))
	out := make([]model.Address, 0, len(stored))
	for _, a := range append(stored, genesisAssets(g)...) {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out, nil
}

func genesisAssets(g *custody.Genesis) []model.Address {
	if g == nil {
		return nil
	}
	out := make([]model.Address, 0, len(g.Assets))
	for _, ga := range g.Assets {
		if a, err := model.ParseAddress(ga.Asset); err == nil {
			out = append(out, a)
		}
	}
	return out
}

func issueOperatorToken(cfg config.AuthConfig, subject string, ttl time.Duration, logger *slog.Logger) (string, error) {
	addr, err := model.ParseAddress(strings.TrimSpace(subject))
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive")
	}
	return admin.NewAuthenticator(cfg.JWTSecret, cfg.Issuer, logger).Issue(addr, ttl)
}

type poolStatsReporter interface {
	ReportPoolStats(label string)
}

func startDBPoolStatsPump(ctx context.Context, db poolStatsReporter, intervalMS int, logger *slog.Logger) {
	if db == nil || intervalMS <= 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(intervalMS) * time.Millisecond)

	go func() {
		defer ticker.Stop()
		db.ReportPoolStats(dbPoolLabel)
		for {
			select {
			case <-ctx.Done():
				logger.Info("db pool stats sampler stopped", "cause", "context_done")
				return
			case <-ticker.C:
				db.ReportPoolStats(dbPoolLabel)
			}
		}
	}()
}

func healthServer(port int, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// serveHTTP runs server until ctx is done, then drains it within grace.
func serveHTTP(ctx context.Context, name string, server *http.Server, grace time.Duration, logger *slog.Logger) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("server shutdown error", "server", name, "error", err)
		}
	}()

	logger.Info("server started", "server", name, "addr", server.Addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
