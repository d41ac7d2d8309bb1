package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/spendledger/internal/clock"
	"github.com/smallbiznis/spendledger/internal/config"
	"github.com/smallbiznis/spendledger/internal/errs"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	"github.com/smallbiznis/spendledger/internal/ledger"
	"github.com/smallbiznis/spendledger/internal/migration"
	"github.com/smallbiznis/spendledger/internal/observability"
	reconciledomain "github.com/smallbiznis/spendledger/internal/reconcile/domain"
	"github.com/smallbiznis/spendledger/internal/scheduler"
	"github.com/smallbiznis/spendledger/internal/server"
	"github.com/smallbiznis/spendledger/pkg/db"
	"go.uber.org/fx"
)

const usage = `usage: spendledger <command> [flags]

commands:
  serve       run the HTTP API and the scheduler (default)
  reconcile   run one full reconciliation and print the report
  migrate     apply schema migrations and exit
`

func main() {
	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		serve()
	case "reconcile":
		os.Exit(reconcile(args))
	case "migrate":
		os.Exit(migrate())
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
	)
}

func serve() {
	app := fx.New(
		infrastructure(),
		migration.Module,
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func reconcile(args []string) int {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	types := fs.String("types", "", "comma separated entity types (default: all)")
	batchSize := fs.Int("batch-size", 0, "rows per batch (default: tuning file)")
	concurrency := fs.Int("concurrency", 0, "parallel batches (default: tuning file)")
	timeout := fs.Duration("timeout", 2*time.Hour, "overall run timeout")
	_ = fs.Parse(args)

	opts := reconciledomain.Options{BatchSize: *batchSize, Concurrency: *concurrency}
	for _, raw := range strings.Split(*types, ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		entityType, err := inventorydomain.ParseEntityType(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid entity type %q\n", raw)
			return 2
		}
		opts.Types = append(opts.Types, entityType)
	}

	var svc reconciledomain.Service
	app := fx.New(
		infrastructure(),
		migration.Module,
		ledger.Module,
		fx.Populate(&svc),
		fx.NopLogger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "start: %v\n", err)
		return 1
	}
	defer func() { _ = app.Stop(context.Background()) }()

	runCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	report, err := svc.ReconcileAll(runCtx, opts)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errs.ErrPartialBatchFailure):
		fmt.Fprintf(os.Stderr, "reconcile finished with %d row failures\n", len(report.Failures))
		return 3
	default:
		fmt.Fprintf(os.Stderr, "reconcile: %v\n", err)
		return 1
	}
}

func migrate() int {
	app := fx.New(
		infrastructure(),
		migration.Module,
		fx.NopLogger,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}
	_ = app.Stop(ctx)
	return 0
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
