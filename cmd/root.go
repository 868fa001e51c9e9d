package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresmejia3/veil/internal/config"
	"github.com/andresmejia3/veil/internal/logging"
	"github.com/andresmejia3/veil/internal/store"
	"github.com/spf13/cobra"
)

// Options holds shared configuration for the redact and plan commands
type Options struct {
	InputPath  string
	OutputPath string
	FacesPath  string
	Padding    float64
	Timeout    string

	// RenderTimeout is Timeout once validated; zero keeps render.timeout.
	RenderTimeout time.Duration
}

// Database requirement of a command, set through its annotations.
const (
	dbAnnotation = "database"
	dbRequired   = "required"
	dbOptional   = "optional"
)

var (
	// DB is the global ledger connection shared by subcommands. It stays nil
	// for commands that don't need it and when an optional ledger is not
	// configured.
	DB *store.Store
	// Cfg is the effective configuration after file, env and flag overrides.
	Cfg *config.Config

	cfgPath   string
	dbURL     string
	logLevel  string
	logFormat string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "veil",
	Short:   "Face redaction service for recorded video",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if dbURL != "" {
			cfg.Database.URL = dbURL
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if logFormat != "" {
			cfg.Log.Format = logFormat
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := logging.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
			return err
		}
		Cfg = cfg

		return connectDB(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
	},
}

// connectDB opens the ledger for commands that declare they use it.
func connectDB(cmd *cobra.Command) error {
	need := cmd.Annotations[dbAnnotation]
	if need == "" {
		return nil
	}

	url := Cfg.Database.URL
	if url == "" {
		if need == dbOptional {
			return nil
		}
		// Fallback to local default if nothing is configured
		url = "postgres://localhost:5432/veil"
	}

	var err error
	// Use the command's context (which will be cancellable) for the connection
	DB, err = store.New(cmd.Context(), url)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
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
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to YAML config (default: ./veil.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for the job ledger")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: json, console")
}
