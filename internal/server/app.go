// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"codeberg.org/oliverandrich/feedtools/internal/config"
	"codeberg.org/oliverandrich/feedtools/internal/handlers"
	"codeberg.org/oliverandrich/feedtools/internal/i18n"
	"codeberg.org/oliverandrich/feedtools/internal/repository"
	"codeberg.org/oliverandrich/feedtools/internal/services/auth"
	"codeberg.org/oliverandrich/feedtools/internal/services/email"
	"codeberg.org/oliverandrich/feedtools/internal/services/enrichment"
	"codeberg.org/oliverandrich/feedtools/internal/services/loginctx"
	"codeberg.org/oliverandrich/feedtools/internal/services/maintenance"
	"codeberg.org/oliverandrich/feedtools/internal/services/otp"
	"codeberg.org/oliverandrich/feedtools/internal/services/profile"
	"codeberg.org/oliverandrich/feedtools/internal/services/session"
	"codeberg.org/oliverandrich/feedtools/internal/steamapi"
)

// App is the assembled API: the echo instance plus the background jobs
// that share its store.
type App struct {
	Echo    *echo.Echo
	Store   repository.Store
	Sweeper *maintenance.Sweeper

	closers []CloseFunc
}

// New wires the store, the services and the HTTP stack. HTTP metrics are
// registered with reg.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	if err := i18n.Init(); err != nil {
		return nil, fmt.Errorf("failed to init i18n: %w", err)
	}

	app := &App{}

	store, closeStore, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	app.Store = store
	app.closers = append(app.closers, closeStore)

	h, sessions, err := app.buildHandlers(cfg)
	if err != nil {
		_ = app.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handlers.ErrorHandler

	if err := setupMiddleware(e, cfg, reg); err != nil {
		_ = app.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	setupRoutes(e, h, sessions, store)

	app.Echo = e
	app.Sweeper = maintenance.NewSweeper(store, cfg.Maintenance.SweepInterval)
	return app, nil
}

func (a *App) buildHandlers(cfg *config.Config) (*handlers.Handlers, *session.Manager, error) {
	notifier, err := email.New(&cfg.SMTP)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up email: %w", err)
	}

	hasher, err := auth.NewHasher(0)
	if err != nil {
		return nil, nil, err
	}

	sessions, err := session.NewManager(cfg.Session)
	if err != nil {
		return nil, nil, err
	}

	geo, err := loginctx.OpenGeoIP(cfg.GeoIP.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	var resolver *loginctx.Resolver
	if geo != nil {
		a.closers = append(a.closers, func(context.Context) error { return geo.Close() })
		resolver = loginctx.NewResolver(geo, cfg.GeoIP.FallbackIP)
	} else {
		resolver = loginctx.NewResolver(nil, cfg.GeoIP.FallbackIP)
	}

	otpCfg := otp.DefaultConfig()
	otpCfg.CodeTTL = cfg.OTP.CodeTTL
	otpCfg.Cooldown = cfg.OTP.Cooldown
	otpSvc := otp.NewService(otp.Deps{
		Store:    a.Store,
		Notifier: notifier,
		Hasher:   hasher,
		Policy:   auth.DefaultPasswordValidator(),
		Sessions: sessions,
		Resolver: resolver,
	}, otpCfg)

	steam := steamapi.New(steamapi.Options{
		BaseURL:           cfg.Steam.BaseURL,
		APIKey:            cfg.Steam.APIKey,
		Timeout:           cfg.Steam.HTTPTimeout,
		RequestsPerSecond: cfg.Steam.RequestsPerSecond,
	})
	aggregator := enrichment.NewAggregator(steam)
	aggregator.TopGames = cfg.Steam.TopGames
	aggregator.Concurrency = cfg.Steam.Concurrency
	if cfg.Steam.AchievementTimeout > 0 {
		aggregator.AchievementTimeout = cfg.Steam.AchievementTimeout
	}
	if cfg.Steam.APIKey == "" {
		slog.Warn("steam_api_key_missing", "hint", "profile enrichment will fail until --steam-api-key is set")
	}

	return handlers.New(otpSvc, profile.NewService(a.Store, aggregator)), sessions, nil
}

// Close releases the store and the GeoIP database.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
