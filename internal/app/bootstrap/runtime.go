package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	cacheadapter "github.com/castellan/identity-engine/internal/adapters/cache"
	eventadapter "github.com/castellan/identity-engine/internal/adapters/events"
	mailadapter "github.com/castellan/identity-engine/internal/adapters/mail"
	"github.com/castellan/identity-engine/internal/adapters/postgres"
	"github.com/castellan/identity-engine/internal/adapters/security"
	"github.com/castellan/identity-engine/internal/application"
)

// Runtime wires storage, cache, mail, and the services into a runnable unit.
type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	service    *application.Service
	mailWorker *eventadapter.MailWorker
	cleanupFn  func(context.Context)
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("bootstrapping identity engine", "service_id", cfg.ServiceID)

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := pool.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	redisClient, err := cacheadapter.Connect(ctx, cfg.RedisURL)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	repos := postgres.NewRepositories(pool)
	mailer := mailadapter.NewSMTPMailer(mailadapter.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})

	svc := application.NewService(application.Dependencies{
		Identities:  repos.Identities,
		Credentials: repos.Credentials,
		Sessions:    repos.Sessions,
		Invitations: repos.Invitations,
		ResetTokens: repos.ResetTokens,
		TwoFactor:   repos.TwoFactor,
		Attempts:    repos.Attempts,
		MailOutbox:  repos.MailOutbox,
		Limiter:     cacheadapter.NewRedisRateLimiter(redisClient),
		Hasher:      security.NewBcryptHasher(cfg.BcryptCost),
		TOTP:        security.NewTOTP(cfg.TOTPIssuer, cfg.TOTPSkew),
		Settings:    NewSettings(cfg),
		Logger:      logger,
	})

	mailWorker := eventadapter.NewMailWorker(
		logger,
		repos.MailOutbox,
		mailer,
		cfg.MailPollInterval,
		cfg.MailBatchSize,
		cfg.MailClaimTTL,
		cfg.MailMaxRetries,
	)

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		service:    svc,
		mailWorker: mailWorker,
		cleanupFn: func(ctx context.Context) {
			_ = redisClient.Close()
			_ = sqlDB.Close()
		},
	}, nil
}

// Service exposes the wired application service to embedding hosts.
func (r *Runtime) Service() *application.Service {
	return r.service
}

// RunWorker runs the mail outbox dispatcher until a shutdown signal.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.logger.Info("mail worker started")
	err := r.mailWorker.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	return nil
}
