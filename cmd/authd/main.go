package main

import (
	"errors"
	"log"
	"os"

	"github.com/driftboard/authd/internal/auth/app"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	// .env is a development convenience; absence is not an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("failed to load .env: %v", err)
	}

	cfg := app.LoadConfig()
	parseFlags(&cfg, os.Args[1:])

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

// parseFlags overlays operational knobs on top of the environment. Secrets
// stay env-only so they never land in shell history or process listings.
func parseFlags(cfg *app.Config, args []string) {
	fs := pflag.NewFlagSet("authd", pflag.ExitOnError)

	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "HTTP server port")
	fs.StringVarP(&cfg.DatabaseFile, "database", "d", cfg.DatabaseFile, "SQLite database file")
	fs.StringVarP(&cfg.LogLevel, "log-level", "l", cfg.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (json, text)")
	fs.StringVarP(&cfg.Env, "environment", "e", cfg.Env, "Environment (dev, staging, prod)")
	fs.DurationVar(&cfg.HousekeepingInterval, "sweep-interval", cfg.HousekeepingInterval, "Expiry sweep interval")

	_ = fs.Parse(args)
}
