// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package server assembles and runs the account API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"codeberg.org/oliverandrich/feedtools/internal/config"
	"codeberg.org/oliverandrich/feedtools/internal/logging"
)

// Run starts the server with the given CLI command.
func Run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	logCloser := logging.Setup(cfg.Log)
	defer logCloser.Close()

	slog.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"database", cfg.Database.Driver,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(context.Background()); closeErr != nil {
			slog.Error("failed to close resources", "error", closeErr)
		}
	}()

	if app.Store.NativeTTL() {
		slog.Info("sweeper disabled", "reason", "store expires unverified accounts itself")
	} else {
		go app.Sweeper.Run(ctx)
	}

	return startWithGracefulShutdown(ctx, app.Echo, cfg)
}

func startWithGracefulShutdown(ctx context.Context, e *echo.Echo, cfg *config.Config) error {
	errChan := make(chan error, 2)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		var err error
		if cfg.Server.UseTLS() {
			slog.Info("server running", "addr", addr, "tls", true)
			err = e.StartTLS(addr, cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("server running", "addr", addr, "tls", false)
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var metricsServer *echo.Echo
	if cfg.Metrics.Addr != "" {
		metricsServer = newMetricsServer()
		go func() {
			slog.Info("metrics listener running", "addr", cfg.Metrics.Addr)
			if err := metricsServer.Start(cfg.Metrics.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		slog.Info("shutting down server")
	case err := <-errChan:
		slog.Error("server error", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown main server", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shutdown metrics listener", "error", err)
		}
	}

	slog.Info("server stopped")
	return nil
}

func newMetricsServer() *echo.Echo {
	m := echo.New()
	m.HideBanner = true
	m.HidePort = true
	m.GET("/metrics", echoprometheus.NewHandler())
	return m
}
