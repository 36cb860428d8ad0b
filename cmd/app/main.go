// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"codeberg.org/oliverandrich/feedtools/internal/config"
	"codeberg.org/oliverandrich/feedtools/internal/server"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// a missing .env is fine, real environment variables still apply
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:    "app",
		Usage:   "Email OTP account service with Steam profile enrichment",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Flags:   config.Flags(),
		Action:  server.Run,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the API server",
				Action: server.Run,
			},
			sweepCommand(),
			grantSubscriptionCommand(),
			resetCounterCommand(),
			backfillCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
