package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/Wence024/bankqueue-teller-webapp/services/teller/cmd/utils/internal/commands"
	"github.com/aquamarinepk/aqm"
	"github.com/joho/godotenv"
)

const (
	appName    = "teller-utils"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	_ = godotenv.Load()

	// Flags are parsed per command; config only contributes UTILS_* defaults.
	config, err := aqm.LoadConfig("UTILS", nil)
	if err != nil {
		log.Fatalf("Cannot load config: %v", err)
	}

	logLevel, _ := config.GetString("log.level")
	if logLevel == "" {
		logLevel = "info"
	}
	logger := aqm.NewLogger(logLevel)

	ctx := context.Background()
	command := os.Args[1]

	run := func(fn func(context.Context, commands.Options, aqm.Logger) error) error {
		opts, err := commands.ParseOptions(command, os.Args[2:], config)
		if err != nil {
			return err
		}
		return fn(ctx, opts, logger)
	}

	switch command {
	case "seed-demo":
		if err := run(commands.SeedDemo); err != nil {
			log.Fatalf("Demo seeding failed: %v", err)
		}
		logger.Info("Demo seeding completed successfully")

	case "clear-demo":
		if err := run(commands.ClearDemo); err != nil {
			log.Fatalf("Clear demo data failed: %v", err)
		}
		logger.Info("Demo data cleared successfully")

	case "reset-db":
		if err := run(commands.ResetDB); err != nil {
			log.Fatalf("Database reset failed: %v", err)
		}
		logger.Info("Database reset completed successfully")

	case "version":
		fmt.Printf("%s version %s\n", appName, appVersion)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - teller queue utility commands

Usage:
  %s <command> [flags]

Commands:
  seed-demo    Store waiting demo customers (or the ones in --file)
  clear-demo   Remove the built-in demo customers
  reset-db     Drop all tickets and teller sessions (requires --force)
  version      Print version information
  help         Show this help message

Flags:
  --db-driver     mongo or postgres (default: mongo)
  --mongo-url     MongoDB connection URL
  --mongo-name    MongoDB database name (default: bankqueue_teller)
  --postgres-url  Postgres connection URL
  --redis-url     Redis URL; reset-db also clears the session registry
  -f, --file      YAML ticket fixture file for seed-demo
  --force         Confirm reset-db

Environment Variables:
  UTILS_DB_DRIVER, UTILS_DB_MONGO_URL, UTILS_DB_POSTGRES_URL, UTILS_REDIS_URL, UTILS_LOG_LEVEL

Examples:
  %s seed-demo
  %s seed-demo --db-driver postgres -f fixtures/tickets.yaml
  %s reset-db --force --redis-url redis://localhost:6379/0

`, appName, appName, appName, appName, appName)
}
