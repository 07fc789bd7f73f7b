package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/pathsense/internal/server"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for hazard analysis",
	Long: `Start an HTTP server that analyzes frames on request or as a live stream.

The server provides the following endpoints:
  POST /analyze   - Analyze an uploaded image with optional depth file
  GET  /ws/stream - WebSocket stream; frames arriving while busy are dropped
  GET  /zones     - Zone rectangles for the configured analysis grid
  GET  /health    - Health check with runner counters
  GET  /metrics   - Prometheus metrics

Examples:
  pathsense serve
  pathsense serve --port 8080 --estimate-depth
  pathsense serve --host 0.0.0.0 --port 3000 --rate-limit 120`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		host := cfg.Server.Host
		if cmd.Flags().Changed("host") {
			host, _ = cmd.Flags().GetString("host")
		}
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("cors-origin") {
			cfg.Server.CORSOrigin, _ = cmd.Flags().GetString("cors-origin")
		}
		if cmd.Flags().Changed("max-upload-size") {
			cfg.Server.MaxUploadMB, _ = cmd.Flags().GetInt("max-upload-size")
		}
		timeout := cfg.Server.TimeoutSec
		if cmd.Flags().Changed("timeout") {
			timeout, _ = cmd.Flags().GetInt("timeout")
		}
		shutdownTimeout := cfg.Server.ShutdownTimeout
		if cmd.Flags().Changed("shutdown-timeout") {
			shutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
		}
		if cmd.Flags().Changed("rate-limit") {
			cfg.Server.RateLimitRPM, _ = cmd.Flags().GetInt("rate-limit")
		}
		if cmd.Flags().Changed("estimate-depth") {
			cfg.Models.DepthEnabled, _ = cmd.Flags().GetBool("estimate-depth")
		}
		if cmd.Flags().Changed("gpu") {
			cfg.GPU.Enabled, _ = cmd.Flags().GetBool("gpu")
		}

		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", port)
		}
		cfg.Server.Port = port
		cfg.Server.TimeoutSec = timeout
		if err := cfg.Validate(); err != nil {
			return err
		}

		engine, closers, err := engineFactory(cfg, cfg.Models.DepthEnabled)
		if err != nil {
			return fmt.Errorf("failed to initialize models: %w", err)
		}

		srv, err := server.NewServer(engine, server.Config{
			CORSOrigin:     cfg.Server.CORSOrigin,
			MaxUploadMB:    int64(cfg.Server.MaxUploadMB),
			TimeoutSec:     timeout,
			RateLimitRPM:   cfg.Server.RateLimitRPM,
			OverlayOpacity: cfg.Output.OverlayOpacity,
			Runner:         cfg.ToRunnerConfig(),
		}, closers...)
		if err != nil {
			closeAll(closers)
			return fmt.Errorf("failed to initialize server: %w", err)
		}

		mux := http.NewServeMux()
		srv.SetupRoutes(mux)

		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Duration(timeout) * time.Second,
		}

		ctx, cancel := context.WithCancel(contextOrBackground(cmd.Context()))
		defer cancel()

		go func() {
			slog.Info("Starting pathsense server", "host", host, "port", port)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
		if err := srv.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}
		slog.Info("Graceful shutdown completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 20, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Int("rate-limit", 0, "maximum requests per minute per client (0 disables)")
	serveCmd.Flags().Bool("estimate-depth", false, "load the depth model for requests without a depth file")
	serveCmd.Flags().Bool("gpu", false, "enable GPU acceleration using CUDA")
}
