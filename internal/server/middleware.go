// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"codeberg.org/oliverandrich/feedtools/internal/config"
	appmw "codeberg.org/oliverandrich/feedtools/internal/middleware"
)

func setupMiddleware(e *echo.Echo, cfg *config.Config, reg prometheus.Registerer) error {
	extractor, err := ipExtractor(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}
	e.IPExtractor = extractor

	metricsMiddleware, err := echoprometheus.MiddlewareConfig{
		Namespace:  "feedtools",
		Subsystem:  "http",
		Registerer: reg,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health"
		},
	}.ToMiddleware()
	if err != nil {
		return fmt.Errorf("failed to register http metrics: %w", err)
	}

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(appmw.RequestID())
	e.Use(appmw.Locale())
	e.Use(appmw.RequestLogger())
	e.Use(metricsMiddleware)
	e.Use(middleware.Secure())
	e.Use(corsMiddleware(cfg.Server.CORSOrigins))
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", cfg.Server.MaxBodySize)))
	if cfg.Server.RateLimit > 0 {
		e.Use(rateLimiter(cfg.Server.RateLimit, cfg.Server.RateWindow))
	}
	return nil
}

// ipExtractor decides where c.RealIP comes from. Without trusted proxies
// forwarding headers are ignored; with them, X-Forwarded-For is walked
// back to the first hop outside the given ranges.
func ipExtractor(cidrs []string) (echo.IPExtractor, error) {
	if len(cidrs) == 0 {
		return echo.ExtractIPDirect(), nil
	}

	options := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy range %q: %w", cidr, err)
		}
		options = append(options, echo.TrustIPRange(ipNet))
	}
	return echo.ExtractIPFromXFFHeader(options...), nil
}

func corsMiddleware(origins []string) echo.MiddlewareFunc {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
	})
}

// rateLimiter allows limit requests per client address and window.
func rateLimiter(limit int, window time.Duration) echo.MiddlewareFunc {
	if window <= 0 {
		window = 10 * time.Minute
	}
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(float64(limit) / window.Seconds()),
		Burst:     limit,
		ExpiresIn: window,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health"
		},
		Store: store,
	})
}
