package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/headpose/internal/config"
	"github.com/andresmejia3/headpose/internal/logging"
	"github.com/andresmejia3/headpose/internal/store"
	"github.com/andresmejia3/headpose/internal/utils"
	"github.com/spf13/cobra"
)

// ErrNoDatabase is returned by commands that need PostgreSQL when none is configured.
var ErrNoDatabase = errors.New("no database configured (use --db or POSTGRES_HOST)")

var (
	// DB is the global database connection shared by subcommands. Nil when no database is configured.
	DB *store.Store
	// dbURL is the connection string
	dbURL    string
	logLevel string
	logFile  string
	envFile  string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "headpose",
	Short:         "Head pose estimation and gaze direction classifier",
	Version:       Version, // This enables the --version flag
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnvFile(envFile); err != nil {
			return err
		}
		if err := logging.Configure(logging.Options{Level: logLevel, File: logFile}); err != nil {
			return err
		}

		// If no flag was provided, try to build the connection string from the environment
		if dbURL == "" {
			dbURL = dbURLFromEnv()
		}
		if dbURL == "" {
			logging.Debug(nil, "no database configured, results will not be persisted")
			return nil
		}

		// Initialize DB connection
		var err error
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), dbURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

// dbURLFromEnv builds a connection string from POSTGRES_* variables, or returns
// "" when POSTGRES_HOST is unset.
func dbURLFromEnv() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	if name == "" {
		name = "headpose"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

func requireDB() error {
	if DB == nil {
		return ErrNoDatabase
	}
	return nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var wf *workerFailure
		if errors.As(err, &wf) {
			utils.Die("Landmark worker crashed", wf.err, wf.proc)
		}
		utils.Die("headpose failed", err, nil)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: built from POSTGRES_* variables, none if unset)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this rotating file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Load environment variables from this file if it exists")
}
