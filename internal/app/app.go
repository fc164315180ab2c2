package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stirandas/nfd-visualizations/internal/config"
	"github.com/stirandas/nfd-visualizations/internal/flows"
	"github.com/stirandas/nfd-visualizations/internal/server"
	"github.com/stirandas/nfd-visualizations/internal/service"
	"github.com/stirandas/nfd-visualizations/internal/version"
	"github.com/stirandas/nfd-visualizations/internal/warehouse"
	"github.com/stirandas/nfd-visualizations/internal/warehouse/memory"
	"github.com/stirandas/nfd-visualizations/internal/warehouse/postgres"
	"github.com/stirandas/nfd-visualizations/internal/warehouse/snowflake"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newBackend(ctx context.Context) (warehouse.Backend, error) {
	q := a.Config.Query
	switch a.Config.Warehouse.Driver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, a.Config.Postgres)
		if err != nil {
			return nil, err
		}
		closeAt, err := q.MarketCloseOffset()
		if err != nil {
			pool.Close()
			return nil, err
		}
		return postgres.New(pool, postgres.Options{
			Table:       a.Config.Warehouse.Table,
			Timezone:    q.Timezone,
			MarketClose: closeAt,
		}, a.Logger), nil
	case config.DriverSnowflake:
		backend, err := snowflake.Open(a.Config.Snowflake, a.Config.Warehouse.Table, a.Logger)
		if err != nil {
			return nil, err
		}
		return backend, nil
	case config.DriverCSV:
		backend, err := memory.FromCSV(a.Config.Fixture.Path)
		if err != nil {
			return nil, err
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unsupported warehouse driver %q", a.Config.Warehouse.Driver)
	}
}

func (a *App) newShaper() (*flows.Shaper, error) {
	loc, err := a.Config.Query.Location()
	if err != nil {
		return nil, err
	}
	closeAt, err := a.Config.Query.MarketCloseOffset()
	if err != nil {
		return nil, err
	}
	return flows.NewShaper(loc, closeAt), nil
}

func (a *App) openService(ctx context.Context) (*service.Service, func(), error) {
	projection, err := warehouse.ParseProjection(a.Config.Query.Projection)
	if err != nil {
		return nil, nil, err
	}
	shaper, err := a.newShaper()
	if err != nil {
		return nil, nil, err
	}
	backend, err := a.newBackend(ctx)
	if err != nil {
		return nil, nil, err
	}

	svc := service.New(backend, shaper, projection, a.Logger)
	return svc, backend.Close, nil
}

// Serve runs the HTTP API until SIGINT or SIGTERM.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, closeBackend, err := a.openService(ctx)
	if err != nil {
		return err
	}
	defer closeBackend()

	srv := server.New(svc, server.Options{
		Host:            a.Config.Server.Host,
		Port:            a.Config.Server.Port,
		AppName:         a.Config.App.Name,
		ExposeErrors:    a.Config.Server.ExposeErrors,
		ShutdownTimeout: 10 * time.Second,
	}, a.Logger)

	a.Logger.Info().
		Str("version", version.String()).
		Str("driver", a.Config.Warehouse.Driver).
		Str("table", a.Config.Warehouse.Table).
		Str("projection", svc.Projection().String()).
		Msg("starting flow api")
	err = srv.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("http server terminated with error")
		return err
	}

	a.Logger.Info().Msg("flow api stopped")
	return nil
}

// ExportOptions hold parameters for exporting snapshots.
type ExportOptions struct {
	From        *time.Time
	To          *time.Time
	PNGPath     string
	CSVPath     string
	ParquetPath string
	JSONPath    string
	MaxPoints   int
	Upload      bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// InspectOptions configure the inspect command.
type InspectOptions struct {
	Sample int
}
