package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/DavNight89/adminEstate/internal/config"
	"github.com/DavNight89/adminEstate/internal/estate/backend"
	"github.com/DavNight89/adminEstate/internal/estate/daemon"
	"github.com/DavNight89/adminEstate/internal/estate/server"
	"github.com/DavNight89/adminEstate/internal/estate/sync"
	"github.com/DavNight89/adminEstate/internal/ui"
)

func authoritativeSide(cmd *cobra.Command) (sync.Side, error) {
	authFlag, _ := cmd.Flags().GetString("authoritative")
	if !cmd.Flags().Changed("authoritative") {
		authFlag = cfg.Sync.Authoritative
	}
	return sync.ParseSide(authFlag)
}

// newDaemon wires the file watcher to a json (A) and csv (B) reconciler.
func newDaemon(r *sync.Reconciler, auth sync.Side, initial bool, onSync func(*sync.Result, error)) (*daemon.Daemon, error) {
	return daemon.New(r, cfg.Data.JSONPath, cfg.Data.CSVDir, &daemon.Config{
		Debounce:      cfg.Watch.Debounce,
		Authoritative: auth,
		InitialSync:   initial,
		Logger:        logger,
		OnSync:        onSync,
	})
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "server",
	Short:   "Sync the JSON document and CSV files whenever either changes",
	Long: `Watch the JSON document and the CSV directory. When a collection changes
in one of them, and stays unchanged for the debounce period, it is merged
both ways. Runs until interrupted.

Examples:
  estate watch
  estate watch --no-initial --authoritative a`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		auth, err := authoritativeSide(cmd)
		if err != nil {
			return err
		}
		a, b, err := registry.Pair(cmd.Context(), backend.JSON, backend.CSV)
		if err != nil {
			return err
		}
		noInitial, _ := cmd.Flags().GetBool("no-initial")
		out := cmd.OutOrStdout()
		d, err := newDaemon(sync.New(a, b, sync.WithLogger(logger)), auth, !noInitial, func(res *sync.Result, err error) {
			if err != nil {
				fmt.Fprintf(out, "%s %v\n", ui.RenderFailIcon(), err)
				return
			}
			fmt.Fprintf(out, "%s %s %s: %d merged, %d duplicates dropped\n",
				ui.RenderPassIcon(), time.Now().Format("15:04:05"), res.Kind, res.Merged, res.DuplicatesDropped)
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		fmt.Fprintf(out, "%s Watching %s and %s (Ctrl+C to stop)\n",
			ui.RenderAccent("👀"), cfg.Data.JSONPath, cfg.Data.CSVDir)
		if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// serveOptions are the serve flags resolved before the app is built.
type serveOptions struct {
	Port          int
	Store         string
	Authoritative sync.Side
	Watch         bool
}

func newServer(opts serveOptions, cfg *config.Config, reg *backend.Registry, logger *zap.Logger) (*server.Server, error) {
	st, err := reg.Get(context.Background(), opts.Store)
	if err != nil {
		return nil, err
	}
	port := cfg.Server.Port
	if opts.Port > 0 {
		port = opts.Port
	}
	return server.New(server.Config{
		Port:          port,
		Store:         st,
		Registry:      reg,
		Authoritative: opts.Authoritative,
		Logger:        logger,
	})
}

// registerServerHooks starts the listener with the app and drains it on stop.
func registerServerHooks(lc fx.Lifecycle, srv *server.Server, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := srv.Start(); err != nil {
				return err
			}
			logger.Info("api listening", zap.String("addr", srv.Addr()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			logger.Info("shutting down api")
			return srv.Stop(shutdownCtx)
		},
	})
}

// registerWatchHooks runs the file watcher alongside the API when --watch
// is set. Its syncs go through the server's reconciler so they reach the
// metrics and WebSocket clients.
func registerWatchHooks(lc fx.Lifecycle, opts serveOptions, srv *server.Server, logger *zap.Logger) {
	if !opts.Watch {
		return
	}
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			r, _, err := srv.Reconciler(ctx, sync.Route{From: backend.JSON, To: backend.CSV, Direction: sync.Bidirectional})
			if err != nil {
				return err
			}
			d, err := newDaemon(r, opts.Authoritative, true, nil)
			if err != nil {
				return err
			}
			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())
			done = make(chan struct{})
			go func() {
				defer close(done)
				if err := d.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("watcher stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

// registerScheduleHooks runs sync.schedule and the daily backup prune when
// configured.
func registerScheduleHooks(lc fx.Lifecycle, cfg *config.Config, opts serveOptions, srv *server.Server, logger *zap.Logger) error {
	if cfg.Sync.Schedule == "" && cfg.Data.BackupRetention <= 0 {
		return nil
	}
	sched := daemon.NewScheduler(logger)
	if cfg.Sync.Schedule != "" {
		r, req, err := srv.Reconciler(context.Background(), sync.Route{From: backend.JSON, To: backend.CSV, Direction: sync.Bidirectional})
		if err != nil {
			return err
		}
		if err := sched.AddSync(cfg.Sync.Schedule, r, req); err != nil {
			return err
		}
	}
	if cfg.Data.BackupRetention > 0 {
		if err := sched.AddPrune("@daily", cfg.Data.BackupDir, cfg.Data.BackupRetention); err != nil {
			return err
		}
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			sched.Start()
			logger.Info("scheduler started", zap.Int("jobs", sched.Len()))
			return nil
		},
		OnStop: sched.Stop,
	})
	return nil
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Serve the REST API, WebSocket updates and metrics",
	Long: `Serve the CRUD API over one store, on-demand syncs, dashboard figures,
WebSocket change notifications and Prometheus metrics. When sync.schedule is
set the JSON document and CSV files are also merged on that cron schedule,
and data.backup_retention prunes old backups daily.

Endpoints:
  GET    /health
  GET    /metrics
  GET    /ws
  GET    /api/stats
  GET    /api/analytics/portfolio
  GET    /api/changes?limit=50
  POST   /api/sync/{kind}?direction=json-to-csv
  GET    /api/{kind}            POST /api/{kind}
  GET    /api/{kind}/{id}       PUT  /api/{kind}/{id}    DELETE /api/{kind}/{id}

Examples:
  estate serve
  estate serve --port 8080 --store db --watch`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		auth, err := authoritativeSide(cmd)
		if err != nil {
			return err
		}
		opts := serveOptions{Authoritative: auth}
		opts.Port, _ = cmd.Flags().GetInt("port")
		opts.Store, _ = cmd.Flags().GetString("store")
		opts.Watch, _ = cmd.Flags().GetBool("watch")

		app := fx.New(
			fx.WithLogger(func() fxevent.Logger {
				return &fxevent.ZapLogger{Logger: logger.Named("fx")}
			}),
			fx.Supply(opts, cfg, registry, logger),
			fx.Provide(newServer),
			fx.Invoke(registerServerHooks, registerWatchHooks, registerScheduleHooks),
		)

		startCtx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		if err := app.Start(startCtx); err != nil {
			return fmt.Errorf("failed to start: %w", err)
		}

		select {
		case sig := <-app.Done():
			logger.Info("received signal", zap.String("signal", sig.String()))
		case <-cmd.Context().Done():
		}

		stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelStop()
		if err := app.Stop(stopCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to stop cleanly: %w", err)
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().Bool("no-initial", false, "skip the full merge on start")
	watchCmd.Flags().String("authoritative", "", "side that wins conflicts: a (json), b (csv) or none")

	serveCmd.Flags().Int("port", 0, "port to listen on (default: server.port from config)")
	serveCmd.Flags().String("store", backend.JSON, "store behind the CRUD endpoints: json, csv or db")
	serveCmd.Flags().Bool("watch", false, "also run the JSON/CSV file watcher")
	serveCmd.Flags().String("authoritative", "", "side that wins conflicts: a, b or none")

	rootCmd.AddCommand(watchCmd, serveCmd)
}
