// Package app wires repositories and services into one object graph shared
// by the API server and the queue worker.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"osiris/internal/config"
	"osiris/internal/core/apperror"
	"osiris/internal/domain/audit"
	"osiris/internal/domain/cartera"
	"osiris/internal/domain/documents/purchase"
	"osiris/internal/domain/documents/sale"
	"osiris/internal/domain/documents/withholding"
	"osiris/internal/domain/electronic"
	"osiris/internal/domain/history"
	"osiris/internal/domain/kardex"
	"osiris/internal/domain/reference"
	"osiris/internal/domain/sequence"
	"osiris/internal/domain/sriqueue"
	"osiris/internal/infrastructure/cache"
	"osiris/internal/infrastructure/notify"
	"osiris/internal/infrastructure/storage/postgres"
	"osiris/internal/infrastructure/storage/postgres/document_repo"
	"osiris/internal/infrastructure/storage/postgres/register_repo"
	"osiris/pkg/logger"
)

// App is the wired object graph.
type App struct {
	Config *config.Config
	Pool   *postgres.Pool
	TxM    *postgres.TxManager
	Refs   *cache.ReferenceCache

	// Redis and Notifier are nil when Redis is not configured.
	Redis    *redis.Client
	Notifier *notify.Notifier

	Audit        *audit.Service
	Recorder     *history.Recorder
	Sequences    *sequence.Service
	Kardex       *kardex.Service
	Accounts     *cartera.Service
	Electronic   *electronic.Service
	Sales        *sale.Service
	Purchases    *purchase.Service
	Withholdings *withholding.Service
	// QueueRepo is shared by the producer side and the worker.
	QueueRepo *postgres.SRIQueueRepo
}

// Options tune Build.
type Options struct {
	// Migrate applies the embedded schema before wiring.
	Migrate bool
}

// Build connects to PostgreSQL (and Redis when configured) and wires every
// service. The caller owns the result and must call Close.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	poolCfg := postgres.DefaultPoolConfig(cfg.DB.DSN())
	if cfg.DB.MaxConns > 0 {
		poolCfg.MaxConns = cfg.DB.MaxConns
	}
	if cfg.DB.MinConns > 0 {
		poolCfg.MinConns = cfg.DB.MinConns
	}
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a := &App{Config: cfg, Pool: pool}

	if opts.Migrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info(ctx, "database schema up to date")
	}

	if cfg.Redis.Enabled() {
		client, err := notify.NewClient(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = client
		a.Notifier = notify.NewNotifier(client)
	}

	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	a.TxM = postgres.NewTxManager(a.Pool)

	auditRepo, err := postgres.NewAuditRepo(a.TxM)
	if err != nil {
		return fmt.Errorf("audit repo: %w", err)
	}
	a.Audit = audit.NewService(auditRepo)
	a.Recorder = history.NewRecorder(postgres.NewHistoryRepo(a.TxM), a.Audit)
	a.Refs = cache.NewReferenceCache(postgres.NewReferenceRepo(a.TxM), a.Pool.Pool)

	a.Sequences = sequence.NewService(postgres.NewSequenceRepo(a.TxM), a.Refs, a.TxM, a.Audit)
	a.Kardex = kardex.NewService(register_repo.NewKardexRepo(a.TxM), a.Refs, a.TxM, a.Audit)
	a.Accounts = cartera.NewService(register_repo.NewCarteraRepo(a.TxM), a.TxM, a.Audit)

	a.QueueRepo = postgres.NewSRIQueueRepo(a.TxM)
	var notifier sriqueue.Notifier
	if a.Notifier != nil {
		notifier = a.Notifier
	}
	enqueuer := sriqueue.NewQueue(a.QueueRepo, notifier, a.Config.Queue.MaxAttempts)
	a.Electronic = electronic.NewService(document_repo.NewElectronicRepo(a.TxM), a.Refs, a.TxM, a.Recorder, a.Audit, enqueuer)

	a.Sales = sale.NewService(sale.ServiceConfig{
		Repo:       document_repo.NewSaleRepo(a.TxM),
		Refs:       a.Refs,
		TxManager:  a.TxM,
		Sequences:  a.Sequences,
		Kardex:     a.Kardex,
		Electronic: a.Electronic,
		Recorder:   a.Recorder,
		Audit:      a.Audit,
		Accounts:   a.Accounts,
	})
	a.Purchases = purchase.NewService(purchase.ServiceConfig{
		Repo:      document_repo.NewPurchaseRepo(a.TxM),
		Refs:      a.Refs,
		TxManager: a.TxM,
		Sequences: a.Sequences,
		Kardex:    a.Kardex,
		Recorder:  a.Recorder,
		Audit:     a.Audit,
		Accounts:  a.Accounts,
	})
	a.Withholdings = withholding.NewService(withholding.ServiceConfig{
		Repo:       document_repo.NewWithholdingRepo(a.TxM),
		Purchases:  a.Purchases,
		Refs:       a.Refs,
		TxManager:  a.TxM,
		Sequences:  a.Sequences,
		Electronic: a.Electronic,
		Recorder:   a.Recorder,
		Audit:      a.Audit,
		Accounts:   a.Accounts,
	})
	a.Purchases.SetWithholdingLookup(a.Withholdings)
	a.Electronic.Subscribe(electronic.ParentWithholding, a.Withholdings)
	return nil
}

// QueueService builds the queue consumer. authority may be nil for
// processes that only list and requeue items.
func (a *App) QueueService(authority sriqueue.Authority) *sriqueue.Service {
	c := sriqueue.ServiceConfig{
		Repo:       a.QueueRepo,
		TxManager:  a.TxM,
		Electronic: a.Electronic,
		Authority:  authority,
		Audit:      a.Audit,
		Config: sriqueue.Config{
			BatchSize:   a.Config.Queue.BatchSize,
			BaseBackoff: a.Config.Queue.BaseBackoff,
			MaxBackoff:  a.Config.Queue.MaxBackoff,
			Lease:       a.Config.Queue.Lease,
			Environment: a.Config.SRI.EnvironmentCode(),
		},
	}
	if a.Notifier != nil {
		c.Notifier = a.Notifier
		c.DeadLetter = a.Notifier
	}
	return sriqueue.NewService(c)
}

// CheckEnvironment fails when the issuer settings, which go into every access
// key, name another environment than the configured SRI endpoints.
func (a *App) CheckEnvironment(ctx context.Context) error {
	settings, err := a.Refs.Settings(ctx)
	if err != nil {
		return fmt.Errorf("load issuer settings: %w", err)
	}
	return matchEnvironment(settings, a.Config.SRI)
}

func matchEnvironment(settings reference.Settings, cfg config.SRIConfig) error {
	if settings.Environment != cfg.EnvironmentCode() {
		return apperror.NewPreconditionFailed("issuer settings", settings.RUC,
			fmt.Sprintf("environment %q does not match sri.environment %q (%s)",
				settings.Environment, cfg.EnvironmentCode(), cfg.Environment))
	}
	return nil
}

// Close releases connections. Safe on a partially built App.
func (a *App) Close() {
	if a.Refs != nil {
		a.Refs.Stop()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
