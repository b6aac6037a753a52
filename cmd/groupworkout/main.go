package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/myrjola/groupworkout/internal/allocation"
	"github.com/myrjola/groupworkout/internal/envstruct"
	"github.com/myrjola/groupworkout/internal/errors"
	"github.com/myrjola/groupworkout/internal/flightrecorder"
	"github.com/myrjola/groupworkout/internal/logging"
	"github.com/myrjola/groupworkout/internal/metrics"
	"github.com/myrjola/groupworkout/internal/refine"
	"github.com/myrjola/groupworkout/internal/runstore"
	"github.com/myrjola/groupworkout/internal/sqlite"
	"github.com/openai/openai-go/v3/option"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type config struct {
	// CatalogPath is the optional path to a TOML workout type catalog. The embedded catalog is used when empty.
	CatalogPath string `env:"GROUPWORKOUT_CATALOG_PATH" envDefault:""`
	// SqliteURL is the URL to the SQLite database. You can use ":memory:" for an ethereal in-memory database.
	SqliteURL string `env:"GROUPWORKOUT_SQLITE_URL" envDefault:"./groupworkout.sqlite3"`
	// Seed makes tie-breaking reproducible. Runs with the same seed and roster produce the same blueprint.
	Seed uint64 `env:"GROUPWORKOUT_SEED" envDefault:"1"`
	// SharedMinScore is the minimum individual score for an exercise to count as shared.
	SharedMinScore float64 `env:"GROUPWORKOUT_SHARED_MIN_SCORE" envDefault:"5.0"`
	// SharedCoreMinScore is the minimum for core and capacity exercises.
	SharedCoreMinScore float64 `env:"GROUPWORKOUT_SHARED_CORE_MIN_SCORE" envDefault:"6.0"`
	// OpenAIAPIKey enables model refinement. Selections fall back to the highest scores without it.
	OpenAIAPIKey string `env:"OPENAI_API_KEY" envDefault:""`
	// OpenAIBaseURL overrides the API endpoint, e.g. for a compatible local server.
	OpenAIBaseURL string `env:"GROUPWORKOUT_OPENAI_BASE_URL" envDefault:""`
	// OpenAIModel is the chat model used for refinement.
	OpenAIModel string `env:"GROUPWORKOUT_OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	// RefineTimeout bounds the refinement of a single client.
	RefineTimeout time.Duration `env:"GROUPWORKOUT_REFINE_TIMEOUT" envDefault:"30s"`
	// TracesDirectory enables the flight recorder. Traces of timed out refinements and slow assemblies are
	// written there.
	TracesDirectory string `env:"GROUPWORKOUT_TRACES_DIRECTORY" envDefault:""`
	// SlowAssemblyThreshold is the assembly duration above which a trace is captured.
	SlowAssemblyThreshold time.Duration `env:"GROUPWORKOUT_SLOW_ASSEMBLY_THRESHOLD" envDefault:"2s"`
	// MetricsPath is the optional path of a Prometheus textfile written after every command.
	MetricsPath string `env:"GROUPWORKOUT_METRICS_PATH" envDefault:""`
}

type application struct {
	logger   *slog.Logger
	cfg      config
	stdin    io.Reader
	metrics  *metrics.Manager
	registry *prometheus.Registry
}

func run(
	ctx context.Context,
	logger *slog.Logger,
	lookupEnv func(string) (string, bool),
	args []string,
	stdin io.Reader,
	stdout io.Writer,
) (err error) {
	var cancel context.CancelFunc
	ctx, cancel = signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	var cfg config
	if err = envstruct.Populate(&cfg, lookupEnv); err != nil {
		return errors.Wrap(err, "populate config")
	}

	registry := prometheus.NewRegistry()
	app := &application{
		logger:   logger,
		cfg:      cfg,
		stdin:    stdin,
		metrics:  metrics.NewManager("groupworkout", "", registry),
		registry: registry,
	}
	defer func() {
		err = errors.Join(err, app.writeMetrics())
	}()

	root := app.rootCommand()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	if err = root.ExecuteContext(ctx); err != nil {
		return errors.Wrap(err, "execute command")
	}
	return nil
}

func (app *application) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "groupworkout",
		Short: "Allocate exercises for group training sessions",
		Long: `Allocate exercises for every client of a group training session.

Configuration is read from GROUPWORKOUT_* environment variables. Set OPENAI_API_KEY to let a
chat model pick the final exercises from each client's candidates.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored allocation runs",
	}
	runsCmd.AddCommand(app.runsListCommand(), app.runsShowCommand())
	root.AddCommand(app.allocateCommand(), runsCmd)
	return root
}

// openStore opens the run store. The returned function closes the database.
func (app *application) openStore(ctx context.Context) (*runstore.Store, func() error, error) {
	db, err := sqlite.NewDatabase(ctx, app.cfg.SqliteURL, app.logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open db", slog.String("url", app.cfg.SqliteURL))
	}
	app.logger.LogAttrs(ctx, slog.LevelDebug, "connected to db")
	return runstore.New(db, app.logger), db.Close, nil
}

func (app *application) loadCatalog() (*allocation.Catalog, error) {
	if app.cfg.CatalogPath == "" {
		return allocation.DefaultCatalog(), nil
	}
	catalog, err := allocation.LoadCatalogFile(app.cfg.CatalogPath)
	if err != nil {
		return nil, errors.Wrap(err, "load catalog")
	}
	if err = catalog.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate catalog", slog.String("path", app.cfg.CatalogPath))
	}
	return catalog, nil
}

func (app *application) newRefiner() refine.Refiner {
	if app.cfg.OpenAIAPIKey == "" {
		return nil
	}
	var opts []option.RequestOption
	if app.cfg.OpenAIBaseURL != "" {
		opts = append(opts, option.WithBaseURL(app.cfg.OpenAIBaseURL))
	}
	return refine.NewOpenAIRefiner(app.cfg.OpenAIAPIKey, app.cfg.OpenAIModel, app.logger, opts...)
}

// startRecorder starts the flight recorder when a traces directory is configured. The returned function stops it.
func (app *application) startRecorder(ctx context.Context) (*flightrecorder.Recorder, func(), error) {
	if app.cfg.TracesDirectory == "" {
		return nil, func() {}, nil
	}
	recorder, err := flightrecorder.New(flightrecorder.Config{
		MinAge:          0,
		MaxBytes:        0,
		Cooldown:        0,
		TracesDirectory: app.cfg.TracesDirectory,
	}, app.logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "new flight recorder")
	}
	if err = recorder.Start(ctx); err != nil {
		return nil, nil, errors.Wrap(err, "start flight recorder")
	}
	return recorder, func() { recorder.Stop(ctx) }, nil
}

// writeMetrics writes the registry for the node exporter textfile collector.
func (app *application) writeMetrics() error {
	if app.cfg.MetricsPath == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(app.cfg.MetricsPath, app.registry); err != nil {
		return errors.Wrap(err, "write metrics", slog.String("path", app.cfg.MetricsPath))
	}
	return nil
}

func main() {
	ctx := context.Background()
	// Logs go to stderr because stdout carries the JSON output.
	loggerHandler := logging.NewContextHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		AddSource:   false,
		Level:       slog.LevelInfo,
		ReplaceAttr: nil,
	}))
	logger := slog.New(loggerHandler)
	if err := run(ctx, logger, os.LookupEnv, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "command failed", errors.SlogError(err))
		os.Exit(1)
	}
}
