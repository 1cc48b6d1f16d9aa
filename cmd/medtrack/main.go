package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gmsas95/medtrack/internal/api"
	"github.com/gmsas95/medtrack/internal/app"
	"github.com/gmsas95/medtrack/internal/config"
	"github.com/gmsas95/medtrack/internal/store"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "help", "--help", "-h":
			printHelp()
			return
		case "version", "--version", "-v":
			fmt.Printf("medtrack version %s\n", version)
			return
		}
	}

	cmd := "server"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dataDir := fs.String("data", "", "Path to data directory")
	serverURL := fs.String("server", "", "Run sweep or replenish through the server at this URL")
	_ = fs.Parse(args)

	switch cmd {
	case "server", "sweep", "replenish", "check":
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		printHelp()
		os.Exit(2)
	}

	if *serverURL != "" && (cmd == "sweep" || cmd == "replenish") {
		runRemote(cmd, *serverURL, *configPath, *dataDir)
		return
	}

	application, cleanup := initApp(*configPath, *dataDir, cmd == "server")
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch cmd {
	case "server":
		application.RunServer()
	case "sweep":
		result, err := application.Jobs.RunSweep(ctx)
		exitOn(err)
		printJSON(result)
		if !result.Ran && result.Holder == "" {
			fmt.Fprintln(os.Stderr, "sweep skipped: the data directory is in use, retry with -server")
		}
	case "replenish":
		report, err := application.Jobs.RunReplenish(ctx)
		exitOn(err)
		printJSON(report)
	case "check":
		if fs.NArg() != 2 {
			fmt.Fprintln(os.Stderr, "usage: medtrack check <user-id> <medication-name>")
			os.Exit(2)
		}
		result, err := application.Screener.CheckConflicts(ctx, fs.Arg(0), fs.Arg(1))
		exitOn(err)
		printJSON(result)
		if result.HasConflicts {
			cleanup()
			os.Exit(3)
		}
	}
}

func initApp(configPath, dataDir string, server bool) (*app.App, func()) {
	cfg, err := config.Load(configPath, dataDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Logging.Development || !server {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Info("Starting medtrack",
		zap.String("version", version),
		zap.String("data_dir", cfg.Storage.DataDir),
	)

	st, err := store.New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}

	application, err := app.New(cfg, st, logger, version)
	if err != nil {
		logger.Fatal("Failed to initialize app", zap.Error(err))
	}

	return application, func() {
		if err := st.Close(); err != nil {
			logger.Error("Failed to close store", zap.Error(err))
		}
		_ = logger.Sync()
	}
}

// runRemote asks a running server to do the work. Only the config is
// loaded, so the server's data directory is left alone.
func runRemote(cmd, serverURL, configPath, dataDir string) {
	cfg, err := config.Load(configPath, dataDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	client := api.NewClient(strings.TrimSuffix(serverURL, "/"), cfg.Security.AdminPassword, 5*time.Minute)
	switch cmd {
	case "sweep":
		result, err := client.Sweep()
		exitOn(err)
		printJSON(result)
	case "replenish":
		report, err := client.Replenish()
		exitOn(err)
		printJSON(report)
	}
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printHelp() {
	fmt.Print(`medtrack - medication scheduling, reminders and adherence

Usage:
  medtrack [server] [flags]              Run the HTTP API and background jobs
  medtrack sweep [flags]                 Mark overdue reminders missed once
  medtrack replenish [flags]             Extend active schedules to the horizon
  medtrack check [flags] <user> <name>   Screen a medication against a user's allergies
  medtrack version                       Print the version

Flags:
  -config string   Path to config file
  -data string     Path to data directory
  -server string   With sweep or replenish, call the server at this URL instead
                   of opening the data directory
`)
}
