// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/urfave/cli/v3"
)

func TestIsLocalhost(t *testing.T) {
	tests := []struct {
		host     string
		expected bool
	}{
		{"", true},
		{"localhost", true},
		{"127.0.0.1", true},
		{"::1", true},
		{"app.localhost", true},
		{"example.com", false},
		{"192.168.1.1", false},
		{"localhost.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsLocalhost(tt.host))
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"*"}, splitList("*"))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, splitList(" https://a.example, ,https://b.example "))
}

func TestUseTLS(t *testing.T) {
	assert.False(t, (&ServerConfig{}).UseTLS())
	assert.False(t, (&ServerConfig{TLSCertFile: "cert.pem"}).UseTLS())
	assert.True(t, (&ServerConfig{TLSCertFile: "cert.pem", TLSKeyFile: "key.pem"}).UseTLS())
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}

	applyDefaults(cfg)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 1, cfg.Server.MaxBodySize)
	assert.Equal(t, 10, cfg.Steam.TopGames)
	assert.Equal(t, 1, cfg.Steam.Concurrency)
	assert.Equal(t, "FeedTools", cfg.SMTP.FromName)
}

func TestFlags(t *testing.T) {
	flags := Flags()

	assert.NotEmpty(t, flags)

	flagNames := make(map[string]bool)
	for _, f := range flags {
		for _, name := range f.Names() {
			flagNames[name] = true
		}
	}

	for _, name := range []string{
		"host", "port", "trusted-proxies", "log-level", "database-driver", "database-dsn", "mongo-uri",
		"smtp-host", "otp-code-ttl", "otp-cooldown", "session-secret",
		"steam-api-key", "steam-top-games", "steam-achievement-timeout",
		"geoip-database", "sweep-interval", "metrics-addr",
	} {
		assert.True(t, flagNames[name], "should have %s flag", name)
	}
}

func TestNewFromCLI(t *testing.T) {
	app := &cli.Command{
		Name:  "test",
		Flags: Flags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg := NewFromCLI(cmd)

			assert.NotNil(t, cfg)
			assert.Equal(t, "localhost", cfg.Server.Host)
			assert.Equal(t, 5000, cfg.Server.Port)
			assert.Equal(t, 100, cfg.Server.RateLimit)
			assert.Equal(t, 10*time.Minute, cfg.Server.RateWindow)
			assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
			assert.Empty(t, cfg.Server.TrustedProxies)
			assert.Equal(t, "info", cfg.Log.Level)
			assert.Equal(t, DriverSQLite, cfg.Database.Driver)
			assert.Equal(t, 10*time.Minute, cfg.OTP.CodeTTL)
			assert.Equal(t, time.Minute, cfg.OTP.Cooldown)
			assert.Equal(t, 10, cfg.Steam.TopGames)
			assert.Equal(t, 2*time.Second, cfg.Steam.AchievementTimeout)
			assert.Equal(t, 4, cfg.Steam.Concurrency)
			assert.Equal(t, "82.194.16.0", cfg.GeoIP.FallbackIP)
			assert.Equal(t, time.Minute, cfg.Maintenance.SweepInterval)

			return nil
		},
	}

	err := app.Run(context.Background(), []string{"test"})
	assert.NoError(t, err)
}

func TestNewFromCLI_WithCustomValues(t *testing.T) {
	app := &cli.Command{
		Name:  "test",
		Flags: Flags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg := NewFromCLI(cmd)

			assert.Equal(t, "0.0.0.0", cfg.Server.Host)
			assert.Equal(t, 9000, cfg.Server.Port)
			assert.Equal(t, []string{"10.0.0.0/8", "fd00::/8"}, cfg.Server.TrustedProxies)
			assert.Equal(t, "debug", cfg.Log.Level)
			assert.Equal(t, DriverMongo, cfg.Database.Driver)
			assert.Equal(t, 30*time.Second, cfg.OTP.Cooldown)
			assert.Equal(t, 5, cfg.Steam.TopGames)

			return nil
		},
	}

	args := []string{
		"test",
		"--host", "0.0.0.0",
		"--port", "9000",
		"--trusted-proxies", "10.0.0.0/8, fd00::/8",
		"--log-level", "debug",
		"--database-driver", "Mongo",
		"--otp-cooldown", "30s",
		"--steam-top-games", "5",
	}
	err := app.Run(context.Background(), args)
	assert.NoError(t, err)
}
