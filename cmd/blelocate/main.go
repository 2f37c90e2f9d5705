// Command blelocate imports BLE captures, fits the localization feature
// pipeline and applies it to stored readings.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/blelocate/internal/config"
	"github.com/banshee-data/blelocate/internal/db"
	"github.com/banshee-data/blelocate/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case "import":
		err = runImport(ctx, args, os.Stdout)
	case "window":
		err = runWindow(ctx, args, os.Stdout)
	case "fit":
		err = runFit(ctx, args, os.Stdout)
	case "apply":
		err = runApply(ctx, args, os.Stdout)
	case "localize":
		err = runLocalize(ctx, args, os.Stdout)
	case "prune":
		err = runPrune(ctx, args, os.Stdout)
	case "runs":
		err = runRuns(ctx, args, os.Stdout)
	case "migrate":
		fs := flag.NewFlagSet("migrate", flag.ExitOnError)
		dbPath := fs.String("db", config.DefaultDBPath, "Path to the SQLite database")
		fs.Parse(args)
		err = db.MigrateCommand{Path: *dbPath, Out: os.Stdout, In: os.Stdin}.Run(fs.Args())
	case "version":
		fmt.Println(version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s: %v", command, err)
	}
}

func printUsage() {
	fmt.Println(`blelocate - BLE localization feature pipeline

Usage: blelocate <command> [options]

Commands:
  import     Load collector CSV captures into the reading store
  window     Export windowed feature vectors as CSV
  fit        Fit Box-Cox and the reducer, persist the models
  apply      Apply persisted models to stored readings
  localize   Periodically apply the models to the latest window
  prune      Delete readings older than a retention period
  runs       List recent fit runs
  migrate    Manage the database schema (up, down, status, version, force)
  version    Show blelocate version
  help       Show this help message

Common Flags:
  -config <file>   Pipeline configuration (JSON)
  -env <file>      .env file overriding BLELOCATE_DB, BLELOCATE_MODEL_ROOT
                   and BLELOCATE_MODEL_VERSION
  -db <path>       SQLite database (overrides config and env)

Examples:
  blelocate import -db ble.db capture-8-302.csv capture-corridor.csv
  blelocate fit -config pipeline.json -out reduced.csv -plot reduced.png
  blelocate apply -config pipeline.json -from 2026-03-01T00:00:00Z -out today.csv
  blelocate localize -config pipeline.json -metrics-listen :9090
  blelocate prune -db ble.db -before 720h`)
}
