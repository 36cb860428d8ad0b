// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"strings"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

var configFile = altsrc.StringSourcer("config.toml")

// Database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

type Config struct { //nolint:govet // fieldalignment not critical for config structs
	Server      ServerConfig
	Log         LogConfig
	Database    DatabaseConfig
	SMTP        SMTPConfig
	OTP         OTPConfig
	Session     SessionConfig
	Steam       SteamConfig
	GeoIP       GeoIPConfig
	Maintenance MaintenanceConfig
	Metrics     MetricsConfig
}

type ServerConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host        string
	Port        int
	MaxBodySize int // in MB
	// RateLimit is the number of requests one client address may make per RateWindow.
	RateLimit  int
	RateWindow time.Duration
	// TrustedProxies are CIDRs whose X-Forwarded-For is believed. Empty
	// means the peer address is the client.
	TrustedProxies []string
	CORSOrigins    []string
	TLSCertFile    string
	TLSKeyFile     string
}

type LogConfig struct {
	Level      string // debug, info, warn, error
	Format     string // text, json
	File       string // optional rotating log file
	MaxSize    int    // megabytes
	MaxAge     int    // days
	MaxBackups int
}

type DatabaseConfig struct {
	Driver        string // sqlite, mongo
	DSN           string
	MongoURI      string
	MongoDatabase string
	Timeout       time.Duration
}

type SMTPConfig struct { //nolint:govet // fieldalignment not critical
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      bool
}

type OTPConfig struct {
	CodeTTL  time.Duration
	Cooldown time.Duration
}

type SessionConfig struct {
	Secret string // HMAC secret for session tokens, generated in dev if empty
	TTL    time.Duration
	Issuer string
}

type SteamConfig struct { //nolint:govet // fieldalignment not critical
	APIKey             string
	BaseURL            string
	HTTPTimeout        time.Duration
	RequestsPerSecond  float64
	TopGames           int
	AchievementTimeout time.Duration
	Concurrency        int
}

type GeoIPConfig struct {
	DatabasePath string // GeoLite2-City.mmdb, optional
	FallbackIP   string // used for loopback clients
}

type MaintenanceConfig struct {
	SweepInterval time.Duration
}

type MetricsConfig struct {
	Addr string // empty disables the metrics listener
}

func NewFromCLI(cmd *cli.Command) *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:           cmd.String("host"),
			Port:           int(cmd.Int("port")),
			MaxBodySize:    int(cmd.Int("max-body-size")),
			RateLimit:      int(cmd.Int("rate-limit")),
			RateWindow:     cmd.Duration("rate-window"),
			TrustedProxies: splitList(cmd.String("trusted-proxies")),
			CORSOrigins:    splitList(cmd.String("cors-origins")),
			TLSCertFile:    cmd.String("tls-cert-file"),
			TLSKeyFile:     cmd.String("tls-key-file"),
		},
		Log: LogConfig{
			Level:      cmd.String("log-level"),
			Format:     cmd.String("log-format"),
			File:       cmd.String("log-file"),
			MaxSize:    int(cmd.Int("log-max-size")),
			MaxAge:     int(cmd.Int("log-max-age")),
			MaxBackups: int(cmd.Int("log-max-backups")),
		},
		Database: DatabaseConfig{
			Driver:        strings.ToLower(cmd.String("database-driver")),
			DSN:           cmd.String("database-dsn"),
			MongoURI:      cmd.String("mongo-uri"),
			MongoDatabase: cmd.String("mongo-database"),
			Timeout:       cmd.Duration("database-timeout"),
		},
		SMTP: SMTPConfig{
			Host:     cmd.String("smtp-host"),
			Port:     int(cmd.Int("smtp-port")),
			Username: cmd.String("smtp-username"),
			Password: cmd.String("smtp-password"),
			From:     cmd.String("smtp-from"),
			FromName: cmd.String("smtp-from-name"),
			TLS:      cmd.Bool("smtp-tls"),
		},
		OTP: OTPConfig{
			CodeTTL:  cmd.Duration("otp-code-ttl"),
			Cooldown: cmd.Duration("otp-cooldown"),
		},
		Session: SessionConfig{
			Secret: cmd.String("session-secret"),
			TTL:    cmd.Duration("session-ttl"),
			Issuer: cmd.String("session-issuer"),
		},
		Steam: SteamConfig{
			APIKey:             cmd.String("steam-api-key"),
			BaseURL:            cmd.String("steam-base-url"),
			HTTPTimeout:        cmd.Duration("steam-http-timeout"),
			RequestsPerSecond:  cmd.Float("steam-requests-per-second"),
			TopGames:           int(cmd.Int("steam-top-games")),
			AchievementTimeout: cmd.Duration("steam-achievement-timeout"),
			Concurrency:        int(cmd.Int("steam-concurrency")),
		},
		GeoIP: GeoIPConfig{
			DatabasePath: cmd.String("geoip-database"),
			FallbackIP:   cmd.String("geoip-fallback-ip"),
		},
		Maintenance: MaintenanceConfig{
			SweepInterval: cmd.Duration("sweep-interval"),
		},
		Metrics: MetricsConfig{
			Addr: cmd.String("metrics-addr"),
		},
	}

	applyDefaults(cfg)

	return cfg
}

// applyDefaults fills values a zero flag would make unusable.
func applyDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverSQLite
	}
	if cfg.Server.MaxBodySize <= 0 {
		cfg.Server.MaxBodySize = 1
	}
	if cfg.Steam.TopGames <= 0 {
		cfg.Steam.TopGames = 10
	}
	if cfg.Steam.Concurrency <= 0 {
		cfg.Steam.Concurrency = 1
	}
	if cfg.SMTP.FromName == "" {
		cfg.SMTP.FromName = "FeedTools"
	}
}

// UseTLS reports whether certificate files were configured.
func (c *ServerConfig) UseTLS() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// IsLocalhost checks if the host is a localhost address.
func IsLocalhost(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	return strings.HasSuffix(host, ".localhost")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func source(env, key string) cli.ValueSourceChain {
	return cli.NewValueSourceChain(cli.EnvVar(env), toml.TOML(key, configFile))
}

// Flags returns the flags shared by every subcommand.
func Flags() []cli.Flag {
	return []cli.Flag{
		// Server
		&cli.StringFlag{Name: "host", Value: "localhost", Usage: "Host to bind to", Sources: source("HOST", "server.host")},
		&cli.IntFlag{Name: "port", Value: 5000, Usage: "Port to listen on", Sources: source("PORT", "server.port")},
		&cli.IntFlag{Name: "max-body-size", Value: 1, Usage: "Maximum request body size in MB", Sources: source("MAX_BODY_SIZE", "server.max_body_size")},
		&cli.IntFlag{Name: "rate-limit", Value: 100, Usage: "Requests per client address per rate window", Sources: source("RATE_LIMIT", "server.rate_limit")},
		&cli.DurationFlag{Name: "rate-window", Value: 10 * time.Minute, Usage: "Rate limit window", Sources: source("RATE_WINDOW", "server.rate_window")},
		&cli.StringFlag{Name: "trusted-proxies", Usage: "Comma-separated proxy CIDRs allowed to set X-Forwarded-For", Sources: source("TRUSTED_PROXIES", "server.trusted_proxies")},
		&cli.StringFlag{Name: "cors-origins", Value: "*", Usage: "Comma-separated allowed CORS origins", Sources: source("CORS_ORIGINS", "server.cors_origins")},
		&cli.StringFlag{Name: "tls-cert-file", Usage: "Path to TLS certificate file", Sources: source("TLS_CERT_FILE", "server.tls_cert_file")},
		&cli.StringFlag{Name: "tls-key-file", Usage: "Path to TLS private key file", Sources: source("TLS_KEY_FILE", "server.tls_key_file")},

		// Logging
		&cli.StringFlag{Name: "log-level", Value: "info", Usage: "Log level (debug, info, warn, error)", Sources: source("LOG_LEVEL", "log.level")},
		&cli.StringFlag{Name: "log-format", Value: "text", Usage: "Log format (text, json)", Sources: source("LOG_FORMAT", "log.format")},
		&cli.StringFlag{Name: "log-file", Usage: "Also write JSON logs to this rotating file", Sources: source("LOG_FILE", "log.file")},
		&cli.IntFlag{Name: "log-max-size", Value: 50, Usage: "Log file size in MB before rotation", Sources: source("LOG_MAX_SIZE", "log.max_size")},
		&cli.IntFlag{Name: "log-max-age", Value: 14, Usage: "Days to keep rotated log files", Sources: source("LOG_MAX_AGE", "log.max_age")},
		&cli.IntFlag{Name: "log-max-backups", Value: 5, Usage: "Rotated log files to keep", Sources: source("LOG_MAX_BACKUPS", "log.max_backups")},

		// Database
		&cli.StringFlag{Name: "database-driver", Value: DriverSQLite, Usage: "Account store (sqlite, mongo)", Sources: source("DATABASE_DRIVER", "database.driver")},
		&cli.StringFlag{Name: "database-dsn", Value: "./data/app.db", Usage: "SQLite DSN", Sources: source("DATABASE_DSN", "database.dsn")},
		&cli.StringFlag{Name: "mongo-uri", Value: "mongodb://localhost:27017", Usage: "MongoDB connection URI", Sources: source("MONGO_URI", "database.mongo_uri")},
		&cli.StringFlag{Name: "mongo-database", Value: "feedtools", Usage: "MongoDB database name", Sources: source("MONGO_DATABASE", "database.mongo_database")},
		&cli.DurationFlag{Name: "database-timeout", Value: 10 * time.Second, Usage: "Per-operation store timeout", Sources: source("DATABASE_TIMEOUT", "database.timeout")},

		// SMTP
		&cli.StringFlag{Name: "smtp-host", Usage: "SMTP host (codes are logged when empty)", Sources: source("SMTP_HOST", "smtp.host")},
		&cli.IntFlag{Name: "smtp-port", Value: 587, Usage: "SMTP port", Sources: source("SMTP_PORT", "smtp.port")},
		&cli.StringFlag{Name: "smtp-username", Usage: "SMTP username", Sources: source("SMTP_USERNAME", "smtp.username")},
		&cli.StringFlag{Name: "smtp-password", Usage: "SMTP password", Sources: source("SMTP_PASSWORD", "smtp.password")},
		&cli.StringFlag{Name: "smtp-from", Value: "no-reply@feedtools.com", Usage: "Sender address", Sources: source("SMTP_FROM", "smtp.from")},
		&cli.StringFlag{Name: "smtp-from-name", Value: "FeedTools", Usage: "Sender display name", Sources: source("SMTP_FROM_NAME", "smtp.from_name")},
		&cli.BoolFlag{Name: "smtp-tls", Value: true, Usage: "Require TLS for SMTP", Sources: source("SMTP_TLS", "smtp.tls")},

		// OTP
		&cli.DurationFlag{Name: "otp-code-ttl", Value: 10 * time.Minute, Usage: "Verification code lifetime", Sources: source("OTP_CODE_TTL", "otp.code_ttl")},
		&cli.DurationFlag{Name: "otp-cooldown", Value: time.Minute, Usage: "Minimum time between two codes", Sources: source("OTP_COOLDOWN", "otp.cooldown")},

		// Session
		&cli.StringFlag{Name: "session-secret", Usage: "Session token signing secret (generated if empty)", Sources: source("SESSION_SECRET", "session.secret")},
		&cli.DurationFlag{Name: "session-ttl", Value: 30 * 24 * time.Hour, Usage: "Session token lifetime", Sources: source("SESSION_TTL", "session.ttl")},
		&cli.StringFlag{Name: "session-issuer", Value: "feedtools", Usage: "Session token issuer", Sources: source("SESSION_ISSUER", "session.issuer")},

		// Steam
		&cli.StringFlag{Name: "steam-api-key", Usage: "Steam Web API key", Sources: source("STEAM_API_KEY", "steam.api_key")},
		&cli.StringFlag{Name: "steam-base-url", Value: "https://api.steampowered.com", Usage: "Steam Web API base URL", Sources: source("STEAM_BASE_URL", "steam.base_url")},
		&cli.DurationFlag{Name: "steam-http-timeout", Value: 10 * time.Second, Usage: "Timeout for a single Steam call", Sources: source("STEAM_HTTP_TIMEOUT", "steam.http_timeout")},
		&cli.FloatFlag{Name: "steam-requests-per-second", Value: 10, Usage: "Upstream request rate", Sources: source("STEAM_REQUESTS_PER_SECOND", "steam.requests_per_second")},
		&cli.IntFlag{Name: "steam-top-games", Value: 10, Usage: "Most-played titles sampled for achievements", Sources: source("STEAM_TOP_GAMES", "steam.top_games")},
		&cli.DurationFlag{Name: "steam-achievement-timeout", Value: 2 * time.Second, Usage: "Timeout for one title's achievements", Sources: source("STEAM_ACHIEVEMENT_TIMEOUT", "steam.achievement_timeout")},
		&cli.IntFlag{Name: "steam-concurrency", Value: 4, Usage: "Concurrent achievement fetches", Sources: source("STEAM_CONCURRENCY", "steam.concurrency")},

		// GeoIP
		&cli.StringFlag{Name: "geoip-database", Usage: "Path to a GeoLite2-City database", Sources: source("GEOIP_DATABASE", "geoip.database")},
		&cli.StringFlag{Name: "geoip-fallback-ip", Value: "82.194.16.0", Usage: "Address used for loopback clients", Sources: source("GEOIP_FALLBACK_IP", "geoip.fallback_ip")},

		// Maintenance
		&cli.DurationFlag{Name: "sweep-interval", Value: time.Minute, Usage: "Interval of the unverified account sweep", Sources: source("SWEEP_INTERVAL", "maintenance.sweep_interval")},

		// Metrics
		&cli.StringFlag{Name: "metrics-addr", Value: ":9090", Usage: "Prometheus listener address (empty disables)", Sources: source("METRICS_ADDR", "metrics.addr")},
	}
}
