package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/andresmejia3/veil/internal/config"
	"github.com/andresmejia3/veil/internal/logging"
	"github.com/andresmejia3/veil/internal/metrics"
	"github.com/andresmejia3/veil/internal/redact"
	"github.com/andresmejia3/veil/internal/render"
	"github.com/andresmejia3/veil/internal/server"
	"github.com/andresmejia3/veil/internal/storage"
	"github.com/andresmejia3/veil/internal/utils"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Start the HTTP redaction service",
	Long:        `Serves /health, /blur, /plan and /metrics. Jobs are recorded in PostgreSQL when a database is configured.`,
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if cmd.Flags().Changed("port") {
			Cfg.Server.Port = servePort
		}
		return runServe(cmd.Context(), Cfg)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on (overrides config and $PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log := logging.WithComponent("serve")

	blobs, closeBlobs, err := newBlobStore(ctx, cfg, log)
	if err != nil {
		utils.ShowError("Failed to initialize storage", err, nil)
		return err
	}
	defer closeBlobs()

	m := metrics.New()
	opts := redact.Options{
		Padding:       cfg.Redact.Padding,
		DefaultBucket: cfg.Storage.DefaultBucket,
		MaxConcurrent: int64(cfg.Render.MaxConcurrent),
		TempDir:       cfg.Render.TempDir,
		Metrics:       m,
	}
	// Ledger must stay a nil interface, not a nil *store.Store.
	if DB != nil {
		opts.Ledger = DB
	}

	renderer := render.New(renderOptions(cfg), log)
	proc := redact.New(blobs, renderer, opts, log)
	handler := server.NewHandler(proc, m, cfg.Server.MaxBodyBytes, log)

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.Port),
		Handler: handler,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("storage", cfg.Storage.Backend).
			Bool("ledger", DB != nil).
			Int("render_slots", cfg.Render.MaxConcurrent).
			Msg("starting veil server")
		serverErrors <- srv.ListenAndServe()
	}()

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		// Error when starting HTTP server.
		utils.ShowError("Server error", err, nil)
		return err

	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Asking listener to shut down and shed load.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Dur("timeout", cfg.Server.ShutdownTimeout).Msg("graceful shutdown did not complete")
			if err := srv.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("error killing server")
			}
		}
		log.Info().Msg("veil server stopped gracefully")
	}
	return nil
}

func newBlobStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storage.BlobStore, func(), error) {
	switch cfg.Storage.Backend {
	case "gcs":
		g, err := storage.NewGCS(ctx, cfg.Storage.MakePublic, log)
		if err != nil {
			return nil, nil, err
		}
		return g, func() { g.Close() }, nil
	case "local":
		if err := os.MkdirAll(cfg.Storage.LocalRoot, 0o755); err != nil {
			return nil, nil, err
		}
		return storage.NewLocal(cfg.Storage.LocalRoot, cfg.Storage.LocalBaseURL, log), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

func renderOptions(cfg *config.Config) render.Options {
	return render.Options{
		FFmpeg:     cfg.Render.FFmpeg,
		FFprobe:    cfg.Render.FFprobe,
		VideoCodec: cfg.Render.VideoCodec,
		Preset:     cfg.Render.Preset,
		CRF:        cfg.Render.CRF,
		AudioCodec: cfg.Render.AudioCodec,
		Timeout:    cfg.Render.Timeout,
	}
}
