package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/terraconstructs/viewbridge/internal/db/bunx"
	"github.com/terraconstructs/viewbridge/internal/repository"
	"github.com/terraconstructs/viewbridge/internal/server"
	"github.com/terraconstructs/viewbridge/internal/telemetry"
)

// sessionSweepInterval is how often expired host sign-ins are deleted.
const sessionSweepInterval = 15 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the viewbridge server",
	Long: `Starts the HTTP server with the host login endpoints and the viewer mounted
behind the gatekeeper.

SIGHUP reloads the viewer component, which retires every viewer object held in
existing sessions, and re-reads the access rules.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		shutdownTracing, err := telemetry.Init(ctx, cfg.Observability)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if err := shutdownTracing(sctx); err != nil {
				log.WithError(err).Warn("tracer shutdown")
			}
		}()

		db, err := bunx.NewDB(ctx, cfg.DatabaseURL, bunx.Options{MaxConns: cfg.MaxDBConnections})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)
		log.WithField("type", bunx.DetectDatabaseType(cfg.DatabaseURL)).Info("connected to database")

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		app, err := server.NewApp(cfg, db, reg)
		if err != nil {
			return err
		}
		app.Authorizer.StartAutoReload(cfg.Host.PolicyRefresh)
		defer app.Authorizer.StopAutoReload()

		go sweepHostSessions(ctx, repository.NewBunHostSessionRepository(db))

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      app.Handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			log.WithFields(log.Fields{
				"addr": cfg.ServerAddr,
				"url":  cfg.ServerURL,
			}).Info("starting server")
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		reload := make(chan os.Signal, 1)
		signal.Notify(reload, syscall.SIGHUP)

		for {
			select {
			case err := <-serverErrors:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server error: %w", err)

			case sig := <-reload:
				log.WithField("signal", sig).Info("reloading viewer component")
				app.Component.Reload()
				if err := app.Authorizer.Reload(); err != nil {
					log.WithError(err).Error("access rule reload failed")
				}

			case sig := <-shutdown:
				log.WithField("signal", sig).Info("shutting down gracefully")

				sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer scancel()

				if err := srv.Shutdown(sctx); err != nil {
					srv.Close()
					return fmt.Errorf("graceful shutdown failed: %w", err)
				}

				log.Info("server stopped")
				return nil
			}
		}
	},
}

func sweepHostSessions(ctx context.Context, sessions repository.HostSessionRepository) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := sessions.DeleteExpired(ctx)
			if err != nil {
				log.WithError(err).Error("expired host session sweep failed")
				continue
			}
			if n > 0 {
				log.WithField("deleted", n).Debug("expired host sessions removed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
