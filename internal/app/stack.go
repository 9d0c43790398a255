package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/jvledger/internal/accounting/accounts"
	"github.com/odyssey-erp/jvledger/internal/accounting/periods"
	"github.com/odyssey-erp/jvledger/internal/accounting/vouchers"
	"github.com/odyssey-erp/jvledger/internal/platform/cache"
	"github.com/odyssey-erp/jvledger/internal/platform/db"
	"github.com/odyssey-erp/jvledger/internal/shared"
	"github.com/odyssey-erp/jvledger/internal/store/sqlite"
	"github.com/odyssey-erp/jvledger/jobs"
)

// Stack holds the services wired against the configured storage driver.
type Stack struct {
	Accounts    *accounts.Service
	Periods     *periods.Service
	Vouchers    *vouchers.Service
	VoucherRepo vouchers.Repository
	Purger      jobs.KeyPurger
	Storage     Pinger

	closers []func()
}

// NewStack opens storage and the account cache and builds the services.
// metrics may be nil.
func NewStack(ctx context.Context, cfg *Config, logger *slog.Logger, metrics vouchers.MetricsPort) (*Stack, error) {
	var (
		stack      = &Stack{}
		accRepo    accounts.Repository
		periodRepo periods.Repository
		audit      vouchers.AuditPort
	)

	switch cfg.StorageDriver {
	case DriverPostgres:
		if cfg.AutoMigrate {
			if err := db.MigratePostgres(cfg.PGDSN); err != nil {
				return nil, fmt.Errorf("app: migrate postgres: %w", err)
			}
		}
		pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, err
		}
		stack.closers = append(stack.closers, pool.Close)
		accRepo = accounts.NewRepository(pool)
		periodRepo = periods.NewRepository(pool)
		stack.VoucherRepo = vouchers.NewRepository(pool)
		audit = shared.NewAuditLogger(pool)
		stack.Purger = shared.NewIdempotencyStore(pool)
		stack.Storage = pool
	case DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		stack.closers = append(stack.closers, func() {
			if err := store.Close(); err != nil {
				logger.Warn("sqlite close", slog.Any("error", err))
			}
		})
		accRepo = store.Accounts()
		periodRepo = store.Periods()
		stack.VoucherRepo = store.Vouchers()
		audit = store
		stack.Purger = store
		stack.Storage = store
	default:
		return nil, fmt.Errorf("app: unknown storage driver %q", cfg.StorageDriver)
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	switch {
	case err == nil:
		stack.closers = append(stack.closers, func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		})
	case errors.Is(err, cache.ErrDisabled):
		logger.Info("account cache disabled")
	default:
		logger.Warn("account cache disabled", slog.Any("error", err))
	}

	stack.Accounts = accounts.NewService(accRepo, accounts.NewCache(redisClient, cfg.AccountCacheTTL), logger)
	stack.Periods = periods.NewService(periodRepo)
	stack.Vouchers = vouchers.NewService(stack.VoucherRepo, stack.Accounts, stack.Periods, audit)
	stack.Vouchers.WithLogger(logger)
	if metrics != nil {
		stack.Vouchers.WithMetrics(metrics)
	}
	return stack, nil
}

// Close releases storage and cache connections in reverse order.
func (s *Stack) Close() {
	if s == nil {
		return
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}
