package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/jonboulle/clockwork"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/lox/extremetemps/internal/climate"
	"github.com/lox/extremetemps/internal/ingest"
	"github.com/lox/extremetemps/internal/insight"
	"github.com/lox/extremetemps/internal/logging"
	"github.com/lox/extremetemps/internal/models"
	"github.com/lox/extremetemps/internal/store"
)

type CLI struct {
	EnvFile   kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to a .env file.'"`
	DB        string                   `help:"Path to the SQLite database." default:"data/extremetemps.db" env:"EXTREMETEMPS_DB"`
	LogLevel  string                   `help:"Log level (debug, info, warn, error)." default:"info" env:"EXTREMETEMPS_LOG_LEVEL"`
	LogFormat string                   `help:"Log format (text, json)." default:"text" enum:"text,json" env:"EXTREMETEMPS_LOG_FORMAT"`

	Serve    ServeCmd    `cmd:"" help:"Run the HTTP API and the daily refresh scheduler."`
	Ingest   IngestCmd   `cmd:"" help:"Ingest daily observations for one station."`
	Compute  ComputeCmd  `cmd:"" help:"Rebuild climatology, records and window aggregates."`
	Refresh  RefreshCmd  `cmd:"" help:"Run one incremental ingest and recompute latest insights."`
	Stations StationsCmd `cmd:"" help:"Manage the station registry."`
	Latest   LatestCmd   `cmd:"" help:"Print the latest insights for a station."`
}

// app holds what every command needs once global flags are resolved.
type app struct {
	store  *store.Store
	clock  clockwork.Clock
	logger *slog.Logger
}

func openStore(path string, logger *slog.Logger) (*store.Store, *sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	if v, err := st.MigrationVersion(); err == nil {
		logger.Debug("database migrated", "path", path, "version", v)
	}
	return st, db, nil
}

func (a *app) insights() *insight.Service {
	return insight.NewService(a.store, a.clock, a.logger)
}

func (a *app) orchestrator() *ingest.Orchestrator {
	return ingest.NewOrchestrator(a.store,
		ingest.NewGHCNClient(""),
		ingest.NewGSODClient(""),
		ingest.NewOpenMeteoClient(""),
		a.clock, a.logger)
}

type IngestCmd struct {
	Station     string `required:"" help:"Station ID."`
	Full        bool   `xor:"mode" help:"Re-fetch the complete history."`
	Incremental bool   `xor:"mode" help:"Fetch only what is newer than the last authoritative day (default)."`
}

func (c *IngestCmd) Run(ctx context.Context, a *app) error {
	orch := a.orchestrator()
	var (
		res *ingest.Result
		err error
	)
	if c.Full {
		res, err = orch.IngestFull(ctx, c.Station)
	} else {
		res, err = orch.IngestIncremental(ctx, c.Station)
	}
	if err != nil {
		return err
	}
	for _, e := range res.Errors {
		a.logger.Warn("ingest: source error", "station", res.StationID, "error", e)
	}
	a.logger.Info("ingest: done", "station", res.StationID, "rows", res.RowsInserted,
		"source", res.Source(), "duration", res.Duration)
	return nil
}

type ComputeCmd struct {
	Station   string `required:"" help:"Station ID."`
	All       bool   `help:"Rebuild every metric and window size."`
	Metric    string `help:"Metric to rebuild." default:"tavg_c" enum:"tavg_c,tmax_c,tmin_c,prcp_mm"`
	Window    int    `help:"Window size in days." default:"7"`
	Halfwidth int    `help:"Day-of-year halfwidth for sampling. Insights read the default only." default:"7"`
}

func (c *ComputeCmd) Run(ctx context.Context, a *app) error {
	svc := a.insights()
	if c.All {
		sum, err := svc.ComputeAll(ctx, c.Station, nil)
		if err != nil {
			return err
		}
		for _, e := range sum.Errors {
			a.logger.Warn("compute: error", "station", c.Station, "error", e)
		}
		a.logger.Info("compute: done", "station", c.Station, "quantile_rows", sum.QuantileRows,
			"records", sum.Records, "aggregates", sum.Aggregates, "duration", sum.Duration)
		return nil
	}

	n, err := svc.ComputeClimatology(ctx, c.Station, climate.Metric(c.Metric), c.Window, c.Halfwidth)
	if err != nil {
		return err
	}
	a.logger.Info("compute: climatology", "station", c.Station, "metric", c.Metric, "window", c.Window,
		"halfwidth", c.Halfwidth, "rows", n)
	return nil
}

type RefreshCmd struct{}

func (c *RefreshCmd) Run(ctx context.Context, a *app) error {
	refresh := ingest.NewRefreshManager(a.orchestrator(), a.insights(), a.clock, a.logger)
	status, err := refresh.Run(ctx)
	if err != nil {
		return err
	}
	if status.Error != "" {
		return errors.New(status.Error)
	}
	return nil
}

type StationsCmd struct {
	Seed StationsSeedCmd `cmd:"" help:"Upsert stations from a JSON registry file."`
	Add  StationsAddCmd  `cmd:"" help:"Add a station from the GHCN station catalog."`
}

type StationsSeedCmd struct {
	File string `required:"" type:"existingfile" help:"Registry JSON file."`
}

func (c *StationsSeedCmd) Run(a *app) error {
	entries, err := ingest.LoadRegistry(c.File)
	if err != nil {
		return err
	}
	_, err = ingest.SeedStations(a.store, entries, a.logger)
	return err
}

type StationsAddCmd struct {
	ID   string `required:"" help:"GHCN station ID."`
	WBAN string `help:"GSOD station number used to fill gaps."`
}

func (c *StationsAddCmd) Run(ctx context.Context, a *app) error {
	entry, err := ingest.NewCatalog("", "").Lookup(ctx, c.ID)
	if err != nil {
		return err
	}
	st := entry.Station()
	if c.WBAN != "" {
		st.WBAN = sql.NullString{String: c.WBAN, Valid: true}
	}
	if err := a.store.UpsertStation(st); err != nil {
		return err
	}
	a.logger.Info("stations: added", "station", st.StationID, "name", st.Name)
	return nil
}

type LatestCmd struct {
	Station   string `required:"" help:"Station ID."`
	SinceYear *int   `help:"Only use history from this year onward."`
}

func (c *LatestCmd) Run(ctx context.Context, a *app) error {
	insights, err := a.insights().Latest(ctx, c.Station, nil, c.SinceYear)
	if err != nil {
		return err
	}
	for _, in := range insights {
		pct := "-"
		if in.Percentile != nil {
			pct = fmt.Sprintf("p%.1f", *in.Percentile)
		}
		fmt.Printf("%3dd  %s  %-8s %-7s %-6s %s\n", in.WindowDays, in.EndDate.Format(models.DateLayout),
			in.Severity, in.Direction, pct, in.PrimaryStatement)
	}
	return nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("extremetemps"),
		kong.Description("Station climatology and extreme temperature insights."),
		kong.UsageOnError(),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)

	logger, err := logging.New(cli.LogLevel, cli.LogFormat)
	kctx.FatalIfErrorf(err)
	slog.SetDefault(logger)

	st, db, err := openStore(cli.DB, logger)
	kctx.FatalIfErrorf(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := &app{store: st, clock: clockwork.NewRealClock(), logger: logger}
	kctx.BindTo(ctx, (*context.Context)(nil))
	if err := kctx.Run(a); err != nil {
		logger.Error("command failed", "command", kctx.Command(), "error", err)
		db.Close()
		os.Exit(1)
	}
}
