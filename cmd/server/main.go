package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-dispatcher/internal/api"
	"github.com/ignite/campaign-dispatcher/internal/attachments"
	"github.com/ignite/campaign-dispatcher/internal/auth"
	"github.com/ignite/campaign-dispatcher/internal/config"
	"github.com/ignite/campaign-dispatcher/internal/dispatch"
	"github.com/ignite/campaign-dispatcher/internal/metrics"
	"github.com/ignite/campaign-dispatcher/internal/pkg/backoff"
	"github.com/ignite/campaign-dispatcher/internal/pkg/distlock"
	"github.com/ignite/campaign-dispatcher/internal/pkg/logger"
	"github.com/ignite/campaign-dispatcher/internal/progress"
	"github.com/ignite/campaign-dispatcher/internal/quota"
	"github.com/ignite/campaign-dispatcher/internal/render"
	"github.com/ignite/campaign-dispatcher/internal/repository/postgres"
	"github.com/ignite/campaign-dispatcher/internal/service/campaign"
	"github.com/ignite/campaign-dispatcher/internal/service/sending"
	"github.com/ignite/campaign-dispatcher/internal/service/suppression"
	"github.com/ignite/campaign-dispatcher/internal/transmit"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	migrate := flag.Bool("migrate", true, "apply pending schema migrations on startup")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fatal("failed to load config", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.Redact())
	if err := cfg.Validate(); err != nil {
		fatal("invalid config", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openDB(ctx, cfg.Database)
	if err != nil {
		fatal("failed to connect to database", err)
	}
	defer db.Close()
	logger.Info("database connected", "host", extractHost(cfg.Database.URL))

	if *migrate {
		applied, err := postgres.Migrate(ctx, db)
		if err != nil {
			fatal("migration failed", err)
		}
		logger.Info("schema up to date", "applied", len(applied))
	}

	redisClient := openRedis(ctx, cfg.Redis.URL)
	if redisClient != nil {
		defer redisClient.Close()
	}

	policy, err := quota.PolicyFromConfig(cfg.Quota)
	if err != nil {
		fatal("invalid quota policy", err)
	}
	var tracker quota.Tracker
	var broker progress.Broker
	if redisClient != nil {
		tracker = quota.NewRedisTracker(redisClient, policy)
		broker = progress.NewRedisBroker(redisClient)
		logger.Info("using Redis for quota, progress and dispatch locks")
	} else {
		tracker = quota.NewMemoryTracker(policy)
		pg := progress.NewPGBroker(db)
		if err := pg.Listen(ctx, cfg.Database.URL); err != nil {
			fatal("failed to listen for progress notifications", err)
		}
		broker = pg
		logger.Warn("Redis not configured: quota is per-process, locks use PG advisory locks")
	}

	blobs, err := openAttachments(ctx, cfg.Attachments)
	if err != nil {
		fatal("failed to initialize attachment store", err)
	}

	accounts := postgres.NewAccountRepo(db)
	var (
		authProvider sending.AuthProvider
		transmitter  sending.Transmitter
		google       *auth.GoogleProvider
	)
	switch cfg.Transmitter.Provider {
	case "ses":
		ses, err := transmit.NewSESFromConfig(ctx, cfg.SES)
		if err != nil {
			fatal("failed to initialize SES", err)
		}
		transmitter = ses
		authProvider = auth.StaticProvider{Sender: cfg.SES.FromAddress}
		logger.Info("transmitter: SES", "region", cfg.SES.Region)
	default:
		google = auth.NewGoogleProvider(cfg.Google, accounts)
		if err := google.ValidateCredentials(ctx); err != nil {
			fatal("Google OAuth pre-flight failed", err)
		}
		google.CleanupExpiredStates(ctx)
		transmitter = transmit.NewGmail(cfg.Google.APIBaseURL, cfg.Transmitter.Timeout())
		authProvider = google
		logger.Info("transmitter: Gmail", "callback", cfg.Google.RedirectURL)
	}

	campaigns := postgres.NewCampaignRepo(db)
	recipients := postgres.NewRecipientRepo(db)
	suppressions := suppression.NewService(postgres.NewSuppressionRepo(db))
	engine := render.NewEngine()

	dispatcher := dispatch.New(dispatch.Deps{
		Campaigns:   campaigns,
		Recipients:  recipients,
		Quota:       tracker,
		Renderer:    engine,
		Auth:        authProvider,
		Transmitter: transmitter,
		Attachments: blobs,
		Suppressor:  suppressions,
		Broker:      broker,
		Locks:       distlock.NewFactory(redisClient, db, cfg.Dispatch.LockTTL()),
		Metrics:     metrics.PrometheusMetrics{},
	}, dispatch.Config{
		Concurrency: cfg.Dispatch.Concurrency,
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		Backoff:     backoff.Policy{Base: cfg.Dispatch.BackoffBase(), Max: cfg.Dispatch.BackoffMax()},
		LockTTL:     cfg.Dispatch.LockTTL(),
	})

	recoverer := dispatch.NewRecoverer(dispatcher, cfg.Dispatch.AutoResume, cfg.Dispatch.AutoResumeInterval())
	go recoverer.Start(ctx)

	deps := api.Deps{
		Campaigns: campaign.NewService(campaign.Deps{
			Campaigns:    campaigns,
			Recipients:   recipients,
			Suppressions: suppressions,
			Templates:    engine,
			Attachments:  blobs,
			Dispatcher:   dispatcher,
		}),
		Suppressions:   suppressions,
		Quota:          tracker,
		Broker:         broker,
		Accounts:       accounts,
		DB:             db,
		MaxUploadBytes: cfg.Attachments.MaxBytes,
	}
	if google != nil {
		deps.OAuth = google
	}
	handlers := api.NewHandlers(deps)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.SetupRoutes(handlers, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server error", err)
		}
	}()

	<-done
	logger.Info("shutting down")

	// Stop background tasks first so the recoverer does not relaunch loops
	// while they drain.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warn("dispatcher shutdown incomplete; campaigns stay in sending for recovery", "error", err)
	}
	logger.Info("server stopped")
}

func openDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())
	db.SetConnMaxIdleTime(30 * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// openRedis returns nil when Redis is not configured or unreachable; callers
// fall back to in-process and PostgreSQL backends.
func openRedis(ctx context.Context, url string) *redis.Client {
	if url == "" {
		return nil
	}
	var client *redis.Client
	if opts, err := redis.ParseURL(url); err == nil {
		client = redis.NewClient(opts)
	} else {
		client = redis.NewClient(&redis.Options{Addr: url})
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Redis connection failed, falling back", "error", err)
		client.Close()
		return nil
	}
	return client
}

func openAttachments(ctx context.Context, cfg config.AttachmentsConfig) (attachments.Store, error) {
	if cfg.Type == "s3" {
		logger.Info("attachments: S3", "bucket", cfg.S3Bucket)
		return attachments.NewS3StoreFromConfig(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region)
	}
	logger.Info("attachments: local", "path", cfg.LocalPath)
	return attachments.NewLocalStore(cfg.LocalPath)
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func fatal(msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
