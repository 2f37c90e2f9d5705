package db

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
)

// MigrateCommand runs one "blelocate migrate" action against the database
// at Path. Out receives the report; In answers the force confirmation.
type MigrateCommand struct {
	Path string
	Out  io.Writer
	In   io.Reader
}

// Run dispatches args[0]: up, down, status, version N, force N or help.
func (c MigrateCommand) Run(args []string) error {
	if len(args) < 1 {
		PrintMigrateHelp(c.Out)
		return fmt.Errorf("missing migrate action")
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(c.Out)
		return nil
	}

	var target int
	switch action {
	case "up", "down", "status":
	case "version", "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: blelocate migrate %s <version_number>", action)
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		target = n
	default:
		PrintMigrateHelp(c.Out)
		return fmt.Errorf("unknown migrate action: %s", action)
	}

	migrationsFS, err := MigrationsFS()
	if err != nil {
		return fmt.Errorf("failed to get migrations filesystem: %w", err)
	}
	// Open without migrating; the action manages the schema.
	database, err := OpenDB(c.Path)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		if err := database.MigrateUp(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(c.Out, "All migrations applied")
		return c.printVersion(database, migrationsFS)
	case "down":
		if err := database.MigrateDown(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(c.Out, "Rolled back one migration")
		return c.printVersion(database, migrationsFS)
	case "status":
		return c.status(database, migrationsFS)
	case "version":
		if err := database.MigrateTo(migrationsFS, uint(target)); err != nil {
			return err
		}
		fmt.Fprintf(c.Out, "Migrated to version %d\n", target)
		return nil
	default:
		return c.force(database, migrationsFS, target)
	}
}

func (c MigrateCommand) printVersion(database *DB, migrationsFS fs.FS) error {
	version, dirty, err := database.MigrateVersion(migrationsFS)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func (c MigrateCommand) status(database *DB, migrationsFS fs.FS) error {
	status, err := database.GetMigrationStatus(migrationsFS)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "Current version: %d\n", status.CurrentVersion)
	fmt.Fprintf(c.Out, "Latest available: %d\n", status.LatestVersion)
	fmt.Fprintf(c.Out, "Dirty: %v\n", status.Dirty)

	switch {
	case status.Dirty:
		fmt.Fprintln(c.Out, "A migration failed mid-execution. Inspect the database, then run:")
		fmt.Fprintln(c.Out, "  blelocate migrate force <version>")
	case status.Pending():
		fmt.Fprintf(c.Out, "%d version(s) behind, run 'blelocate migrate up'\n",
			status.LatestVersion-status.CurrentVersion)
	default:
		fmt.Fprintln(c.Out, "Up to date")
	}
	return nil
}

func (c MigrateCommand) force(database *DB, migrationsFS fs.FS, version int) error {
	fmt.Fprintf(c.Out, "Forcing the migration version to %d. Only do this to recover from a dirty state.\n", version)
	fmt.Fprint(c.Out, "Continue? [y/N]: ")

	answer, _ := bufio.NewReader(c.In).ReadString('\n')
	if a := strings.TrimSpace(answer); a != "y" && a != "Y" {
		fmt.Fprintln(c.Out, "Aborted")
		return nil
	}
	if err := database.MigrateForce(migrationsFS, version); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "Migration version forced to %d\n", version)
	return nil
}

// PrintMigrateHelp writes the usage of the migrate command.
func PrintMigrateHelp(w io.Writer) {
	fmt.Fprint(w, `Database migration commands

Usage: blelocate migrate [-db <path>] <action>

Actions:
  up              Apply all pending migrations
  down            Roll back one migration
  status          Show the current and latest schema version
  version <N>     Migrate up or down to version N
  force <N>       Set the version to N without running migrations (recovery only)
  help            Show this help message
`)
}
