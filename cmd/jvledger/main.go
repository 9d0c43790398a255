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
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/jvledger/cmd/jvledger/cli"
	"github.com/odyssey-erp/jvledger/internal/accounting/vouchers"
	"github.com/odyssey-erp/jvledger/internal/app"
	"github.com/odyssey-erp/jvledger/internal/observability"
	"github.com/odyssey-erp/jvledger/internal/platform/db"
	"github.com/odyssey-erp/jvledger/jobs"
)

const usage = `usage: jvledger <command> [flags]

commands:
  serve                     run the HTTP API
  migrate [up|down]         apply or roll back the postgres schema
  seed -file accounts.yaml  upsert accounts and period locks
  scan [-batch n]           run the voucher integrity scan in-process
  jobs trigger <name>       enqueue integrity or purge
  jobs stats                print default queue statistics`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = migrate(cfg, args)
	case "seed":
		err = seed(ctx, cfg, logger, args)
	case "scan":
		err = scan(ctx, cfg, logger, args)
	case "jobs":
		err = jobsCommand(ctx, cfg, args)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(cmd, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()
	stack, err := app.NewStack(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer stack.Close()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Storage:        stack.Storage,
		VoucherHandler: vouchers.NewHandler(logger, stack.Vouchers),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr), slog.String("storage", cfg.StorageDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}

func migrate(cfg *app.Config, args []string) error {
	if cfg.StorageDriver != app.DriverPostgres {
		return fmt.Errorf("migrate: the %s store migrates itself on open", cfg.StorageDriver)
	}
	direction := "up"
	if len(args) > 0 {
		direction = args[0]
	}
	switch direction {
	case "up":
		return db.MigratePostgres(cfg.PGDSN)
	case "down":
		return db.MigratePostgresDown(cfg.PGDSN)
	default:
		return fmt.Errorf("migrate: unknown direction %q", direction)
	}
}

func seed(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	file := fs.String("file", "scripts/seed/accounts.yaml", "YAML seed file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	doc, err := cli.LoadSeedFile(*file)
	if err != nil {
		return err
	}
	stack, err := app.NewStack(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer stack.Close()

	result, err := cli.ApplySeed(ctx, doc, stack.Accounts, stack.Periods)
	if err != nil {
		return err
	}
	logger.Info("seed complete", slog.Int("accounts", result.Accounts), slog.Int("period_locks", result.Locks))
	return nil
}

func scan(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	batch := fs.Int("batch", 0, "vouchers per page")
	if err := fs.Parse(args); err != nil {
		return err
	}
	stack, err := app.NewStack(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer stack.Close()

	report, err := jobs.NewIntegrityScanJob(stack.VoucherRepo, logger, nil).Run(ctx, jobs.IntegrityScanPayload{BatchSize: *batch})
	if err != nil {
		return err
	}
	if len(report.Findings) > 0 {
		return fmt.Errorf("scan: %d finding(s) across %d voucher(s)", len(report.Findings), report.Scanned)
	}
	return nil
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("jobs: expected trigger or stats")
	}
	c, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("jobs trigger: job name required")
		}
		info, err := c.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		return fmt.Errorf("jobs: unknown subcommand %q", args[0])
	}
	return nil
}
