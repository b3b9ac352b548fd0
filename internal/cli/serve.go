package cli

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wardenhq/warden/internal/access"
	"github.com/wardenhq/warden/internal/auth"
	"github.com/wardenhq/warden/internal/authz"
	"github.com/wardenhq/warden/internal/catalog"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/heartbeat"
	"github.com/wardenhq/warden/internal/scheduler"
	"github.com/wardenhq/warden/internal/store"
	"github.com/wardenhq/warden/internal/toolserver"
	"github.com/wardenhq/warden/internal/weather"
)

func newServeCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP tool server and the alarm scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sqlStore, err := store.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer sqlStore.Close()
			if err := sqlStore.AutoMigrate(ctx); err != nil {
				return err
			}

			if err := catalog.Seed(ctx, sqlStore, logger); err != nil {
				return err
			}
			overlay := catalog.NewOverlay(cfg.CatalogOverlayPath, sqlStore, logger)
			if err := overlay.Load(ctx); err != nil {
				return err
			}

			engine := authz.NewEngine(sqlStore)
			tokens := auth.NewTokens(cfg.JWTSecret, time.Duration(cfg.TokenTTLHrs)*time.Hour)
			accessService := access.NewService(sqlStore, engine, logger)
			weatherClient := weather.New(weather.Config{
				GeocodeURL:  cfg.WeatherGeocodeURL,
				ForecastURL: cfg.WeatherForecastURL,
				Units:       cfg.WeatherUnits,
				Timeout:     time.Duration(cfg.WeatherTimeoutSec) * time.Second,
			})

			server := toolserver.New(toolserver.Deps{
				Store:   sqlStore,
				Engine:  engine,
				Access:  accessService,
				Tokens:  tokens,
				Weather: weatherClient,
				Logger:  logger,
			})

			registry := heartbeat.NewRegistry()
			staleAfter := time.Duration(cfg.HeartbeatStaleSec) * time.Second

			sweeper := scheduler.New(sqlStore, time.Duration(cfg.AlarmPollSec)*time.Second, logger)
			sweeper.SetHeartbeatReporter(registry)

			mux := http.NewServeMux()
			mux.Handle("/mcp", server.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(registry.Snapshot(staleAfter))
			})

			httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error {
				registry.Starting("http", "listening on "+cfg.HTTPAddr)
				logger.Info("tool server listening", "addr", cfg.HTTPAddr, "env", cfg.Environment)
				err := httpServer.ListenAndServe()
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			})
			group.Go(func() error {
				<-groupCtx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				registry.Stopped("http", "shutting down")
				return httpServer.Shutdown(shutdownCtx)
			})
			group.Go(func() error {
				return sweeper.Start(groupCtx)
			})
			group.Go(func() error {
				return overlay.Watch(groupCtx)
			})
			if cfg.HeartbeatEnabled {
				monitor := heartbeat.NewMonitor(registry, heartbeat.MonitorConfig{
					Interval:   time.Duration(cfg.HeartbeatIntervalSec) * time.Second,
					StaleAfter: staleAfter,
					Logger:     logger,
				})
				group.Go(func() error {
					return monitor.Start(groupCtx)
				})
			}

			return group.Wait()
		},
	}
}
