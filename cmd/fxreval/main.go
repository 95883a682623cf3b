package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/fxreval/cmd/fxreval/cli"
	"github.com/odyssey-erp/fxreval/internal/app"
	"github.com/odyssey-erp/fxreval/internal/observability"
	"github.com/odyssey-erp/fxreval/internal/platform/cache"
	"github.com/odyssey-erp/fxreval/internal/platform/db"
	revaluationhttp "github.com/odyssey-erp/fxreval/internal/revaluation/http"
	"github.com/odyssey-erp/fxreval/jobs"
	"github.com/odyssey-erp/fxreval/migrations"
)

const usage = `usage: fxreval <command> [flags]

commands:
  run                        revalue and translate a company's ledgers
  rates import|validate      load or check exchange rates
  runs show|cleanup|abort    inspect and maintain run records
  functional-currency change record a prospective functional-currency change
  cta dispose                recycle CTA on disposal of a foreign operation
  migrate up|down|version    manage the database schema
  serve                      start the HTTP API
  version                    print the build version
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return cli.ExitError
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return cli.ExitError
	}
	e := &env{cfg: cfg, logger: app.NewLogger(cfg, stderr), stdout: stdout, stderr: stderr}
	defer e.close()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		return e.runCommand(ctx, rest)
	case "rates":
		return e.ratesCommand(ctx, rest)
	case "runs":
		return e.runsCommand(ctx, rest)
	case "functional-currency":
		return e.functionalCommand(ctx, rest)
	case "cta":
		return e.ctaCommand(ctx, rest)
	case "migrate":
		return e.migrateCommand(rest)
	case "serve":
		return e.serveCommand(ctx)
	case "version":
		_, _ = fmt.Fprintf(stdout, "fxreval %s\n", app.Version())
		return cli.ExitOK
	case "help", "-h", "--help":
		_, _ = fmt.Fprint(stdout, usage)
		return cli.ExitOK
	}
	_, _ = fmt.Fprintf(stderr, "unknown command %q\n%s", cmd, usage)
	return cli.ExitError
}

// env lazily opens the backing stores a command needs.
type env struct {
	cfg    *app.Config
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer

	pool    *pgxpool.Pool
	redis   *redis.Client
	svc     *app.Services
	metrics *observability.Metrics
}

func (e *env) services(ctx context.Context) (*app.Services, error) {
	if e.svc != nil {
		return e.svc, nil
	}
	pool, err := db.New(ctx, e.cfg.PGDSN, e.cfg.PoolOptions())
	if err != nil {
		return nil, err
	}
	e.pool = pool
	e.redis, err = cache.New(ctx, e.cfg.RedisAddr)
	if err != nil {
		e.logger.Warn("redis unavailable", slog.Any("error", err))
	}
	e.svc = app.NewServices(e.cfg, e.logger, e.pool, e.redis, e.metrics)
	return e.svc, nil
}

func (e *env) close() {
	if e.svc != nil {
		if err := e.svc.Close(); err != nil {
			e.logger.Warn("event producer close", slog.Any("error", err))
		}
	}
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			e.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if e.pool != nil {
		e.pool.Close()
	}
}

func (e *env) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

func (e *env) runCommand(ctx context.Context, args []string) int {
	fs := e.flagSet("run")
	company := fs.String("company", "", "company code")
	date := fs.String("date", time.Now().UTC().Format("2006-01-02"), "revaluation date (YYYY-MM-DD)")
	year := fs.Int("year", 0, "fiscal year (defaults from --date)")
	period := fs.Int("period", 0, "fiscal period (defaults from --date)")
	runType := fs.String("type", "ADHOC", "run type: PERIOD_END, MONTH_END, ADHOC or LEDGER_SPECIFIC")
	ledgers := fs.String("ledgers", "", "comma-separated ledger subset")
	journals := fs.Bool("journals", true, "post DRAFT journal documents")
	actor := fs.String("actor", "", "actor recorded in the audit trail")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return cli.ExitError
	}
	if strings.TrimSpace(*company) == "" {
		_, _ = fmt.Fprintln(e.stderr, "fx run: --company is required")
		return cli.ExitError
	}
	svc, err := e.services(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(e.stderr, "fx run: %v\n", err)
		return cli.ExitError
	}
	return cli.NewRunCLI(svc.Orchestrator).RunCommand(ctx, cli.RunOptions{
		Company:        *company,
		Date:           *date,
		FiscalYear:     *year,
		FiscalPeriod:   *period,
		RunType:        *runType,
		Ledgers:        cli.SplitList(*ledgers),
		CreateJournals: *journals,
		Actor:          *actor,
		JSONOutput:     *asJSON,
		Stdout:         e.stdout,
		Stderr:         e.stderr,
	})
}

func (e *env) ratesCommand(ctx context.Context, args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(e.stderr, "usage: fxreval rates import|validate [flags]")
		return cli.ExitError
	}
	switch args[0] {
	case "import":
		fs := e.flagSet("rates import")
		file := fs.String("file", "", "CSV file (from,to,date,type,rate[,source[,official]]), - for stdin")
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return cli.ExitError
		}
		svc, err := e.services(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(e.stderr, "rates import: %v\n", err)
			return cli.ExitError
		}
		code := cli.NewRatesCLI(svc.Rates, svc.Rates, svc.Orchestrator).ImportCommand(ctx, cli.RatesImportOptions{
			Source: *file, Stdin: os.Stdin, JSONOutput: *asJSON, Stdout: e.stdout, Stderr: e.stderr,
		})
		svc.Resolver.Invalidate()
		return code
	case "validate":
		fs := e.flagSet("rates validate")
		company := fs.String("company", "", "derive requirements from the company's ledgers")
		ledgers := fs.String("ledgers", "", "comma-separated ledger subset")
		date := fs.String("date", time.Now().UTC().Format("2006-01-02"), "as-of date (YYYY-MM-DD)")
		pairs := fs.String("pair", "", "comma-separated pairs, e.g. EURUSD,GBPUSD")
		types := fs.String("types", "", "comma-separated rate types (default CLOSING,AVERAGE)")
		file := fs.String("file", "", "validate a CSV instead of the rate store")
		asJSON := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return cli.ExitError
		}
		cmd := cli.NewRatesCLI(nil, nil, nil)
		if *company != "" || *file == "" {
			svc, err := e.services(ctx)
			if err != nil {
				_, _ = fmt.Fprintf(e.stderr, "rates validate: %v\n", err)
				return cli.ExitError
			}
			cmd = cli.NewRatesCLI(svc.Rates, svc.Rates, svc.Orchestrator)
		}
		return cmd.ValidateCommand(ctx, cli.RatesValidateOptions{
			Company:    *company,
			Ledgers:    cli.SplitList(*ledgers),
			Date:       *date,
			Pairs:      cli.SplitList(*pairs),
			Types:      cli.SplitList(*types),
			File:       *file,
			JSONOutput: *asJSON,
			Stdout:     e.stdout,
			Stderr:     e.stderr,
		})
	}
	_, _ = fmt.Fprintf(e.stderr, "unknown rates command %q\n", args[0])
	return cli.ExitError
}

func (e *env) runsCommand(ctx context.Context, args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(e.stderr, "usage: fxreval runs show|cleanup|abort --id <run id>")
		return cli.ExitError
	}
	sub := args[0]
	fs := e.flagSet("runs " + sub)
	id := fs.String("id", "", "run id")
	details := fs.Bool("details", false, "include detail rows")
	errorsOnly := fs.Bool("errors", false, "only failed detail rows")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args[1:]); err != nil {
		return cli.ExitError
	}
	svc, err := e.services(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(e.stderr, "runs %s: %v\n", sub, err)
		return cli.ExitError
	}
	cmd := cli.NewRunsCLI(svc.Runs, svc.Locker)
	opts := cli.RunsOptions{RunID: *id, WithDetails: *details, ErrorsOnly: *errorsOnly, JSONOutput: *asJSON, Stdout: e.stdout, Stderr: e.stderr}
	switch sub {
	case "show":
		return cmd.ShowCommand(ctx, opts)
	case "cleanup":
		return cmd.CleanupCommand(ctx, opts)
	case "abort":
		return cmd.AbortCommand(ctx, opts)
	}
	_, _ = fmt.Fprintf(e.stderr, "unknown runs command %q\n", sub)
	return cli.ExitError
}

func (e *env) functionalCommand(ctx context.Context, args []string) int {
	if len(args) == 0 || args[0] != "change" {
		_, _ = fmt.Fprintln(e.stderr, "usage: fxreval functional-currency change [flags]")
		return cli.ExitError
	}
	fs := e.flagSet("functional-currency change")
	entity := fs.String("entity", "", "entity id")
	currency := fs.String("currency", "", "new functional currency (ISO 4217)")
	effective := fs.String("effective", "", "effective date (YYYY-MM-DD)")
	methodology := fs.String("methodology", "", "assessment methodology")
	conclusion := fs.String("conclusion", "", "assessment conclusion")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args[1:]); err != nil {
		return cli.ExitError
	}
	svc, err := e.services(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(e.stderr, "functional-currency change: %v\n", err)
		return cli.ExitError
	}
	return cli.NewFunctionalCLI(svc.Functional).ChangeCommand(ctx, cli.FunctionalChangeOptions{
		Entity: *entity, Currency: *currency, Effective: *effective, Methodology: *methodology, Conclusion: *conclusion,
		JSONOutput: *asJSON, Stdout: e.stdout, Stderr: e.stderr,
	})
}

func (e *env) ctaCommand(ctx context.Context, args []string) int {
	if len(args) == 0 || args[0] != "dispose" {
		_, _ = fmt.Fprintln(e.stderr, "usage: fxreval cta dispose [flags]")
		return cli.ExitError
	}
	fs := e.flagSet("cta dispose")
	entity := fs.String("entity", "", "entity id")
	ledger := fs.String("ledger", "", "ledger id")
	standard := fs.String("standard", "", "US_GAAP_ASC830 or IFRS_IAS21")
	year := fs.Int("year", 0, "fiscal year of the disposal")
	period := fs.Int("period", 0, "fiscal period of the disposal")
	kind := fs.String("type", "FULL", "FULL, PARTIAL or LOSS_OF_CONTROL")
	pct := fs.String("percentage", "", "percentage disposed for PARTIAL")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args[1:]); err != nil {
		return cli.ExitError
	}
	svc, err := e.services(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(e.stderr, "cta dispose: %v\n", err)
		return cli.ExitError
	}
	return cli.NewCTACLI(svc.CTA).DisposeCommand(ctx, cli.CTADisposeOptions{
		Entity: *entity, Ledger: *ledger, Standard: *standard, FiscalYear: *year, FiscalPeriod: *period,
		Type: *kind, Percentage: *pct, JSONOutput: *asJSON, Stdout: e.stdout, Stderr: e.stderr,
	})
}

func (e *env) migrateCommand(args []string) int {
	direction := "up"
	if len(args) > 0 {
		direction = args[0]
	}
	switch direction {
	case "up":
		if err := db.Migrate(migrations.FS, e.cfg.PGDSN); err != nil {
			_, _ = fmt.Fprintf(e.stderr, "migrate up: %v\n", err)
			return cli.ExitError
		}
		_, _ = fmt.Fprintln(e.stdout, "migrations applied")
	case "down":
		fs := e.flagSet("migrate down")
		steps := fs.Int("steps", 1, "number of migrations to roll back")
		if err := fs.Parse(args[1:]); err != nil {
			return cli.ExitError
		}
		if err := db.MigrateDown(migrations.FS, e.cfg.PGDSN, *steps); err != nil {
			_, _ = fmt.Fprintf(e.stderr, "migrate down: %v\n", err)
			return cli.ExitError
		}
		_, _ = fmt.Fprintf(e.stdout, "rolled back %d migration(s)\n", *steps)
	case "version":
		version, dirty, err := db.MigrationVersion(migrations.FS, e.cfg.PGDSN)
		if err != nil {
			_, _ = fmt.Fprintf(e.stderr, "migrate version: %v\n", err)
			return cli.ExitError
		}
		_, _ = fmt.Fprintf(e.stdout, "version %d dirty=%t\n", version, dirty)
	default:
		_, _ = fmt.Fprintf(e.stderr, "unknown migrate direction %q\n", direction)
		return cli.ExitError
	}
	return cli.ExitOK
}

func (e *env) serveCommand(ctx context.Context) int {
	if app.InTestMode() {
		e.logger.Info("test mode detected, skipping runtime startup")
		return cli.ExitOK
	}
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	e.metrics = observability.NewMetrics()
	svc, err := e.services(ctx)
	if err != nil {
		e.logger.Error("connect postgres", slog.Any("error", err))
		return cli.ExitError
	}

	redisOpts := asynq.RedisClientOpt{Addr: e.cfg.RedisAddr}
	client, err := jobs.NewClient(redisOpts)
	if err != nil {
		e.logger.Error("init job client", slog.Any("error", err))
		return cli.ExitError
	}
	defer func() {
		if err := client.Close(); err != nil {
			e.logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			e.logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             e.logger,
		Config:             e.cfg,
		RevaluationHandler: revaluationhttp.NewHandler(e.logger, svc.Runs, client, svc.Locker, svc.Orchestrator),
		JobHandler:         jobs.NewHandler(inspector, e.logger),
		Metrics:            e.metrics,
		Checks: map[string]app.Pinger{
			"postgres": app.PingFunc(e.pool.Ping),
			"redis":    app.PingFunc(func(ctx context.Context) error { return e.redis.Ping(ctx).Err() }),
		},
	})

	server := &http.Server{
		Addr:         e.cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  e.cfg.AppReadTimeout,
		WriteTimeout: e.cfg.AppWriteTimeout,
	}

	go func() {
		e.logger.Info("starting http server", slog.String("addr", e.cfg.AppAddr), slog.String("version", app.Version()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	e.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		e.logger.Error("graceful shutdown", slog.Any("error", err))
		return cli.ExitError
	}
	return cli.ExitOK
}

