package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/markb/firelite/internal/config"
	"github.com/markb/firelite/internal/docstore"
	"github.com/markb/firelite/internal/log"
	"github.com/markb/firelite/internal/observability"
	"github.com/markb/firelite/internal/server"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the firelite server",
	Long:  `Starts the HTTP server with the document REST API and the realtime websocket endpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath, cmd.Flags())
		if err != nil {
			return err
		}

		if err := log.Init(cfg.LogConfig()); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		defer log.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		telCfg := cfg.TelemetryConfig()
		telCfg.ServiceVersion = Version
		tel, cleanup, err := observability.Init(ctx, telCfg)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer cleanup()

		store, err := docstore.Open(ctx, cfg.StoreConfig())
		if err != nil {
			return fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
		}
		defer store.Close()

		secret, isDefault := cfg.JWTSecret()
		if isDefault {
			log.Warn("using default JWT secret, set FIRELITE_AUTH_JWT_SECRET in production")
		}

		srv := server.New(store, server.Config{
			JWTSecret: secret,
			Realtime:  cfg.RealtimeConfig(),
			Telemetry: tel,
			Version:   Version,
			Backend:   cfg.Store.Backend,
		})

		errCh := make(chan error, 1)
		go func() {
			if cfg.Server.HTTPSDomain != "" {
				errCh <- srv.ListenAndServeTLS(server.HTTPSConfig{
					Domain:  cfg.Server.HTTPSDomain,
					CertDir: cfg.Server.CertDir,
				})
				return
			}
			errCh <- srv.ListenAndServe(cfg.Addr())
		}()

		fmt.Printf("Starting firelite on %s\n", cfg.Addr())
		fmt.Printf("  Store:    %s\n", cfg.Store.Backend)
		fmt.Printf("  REST API: /v1/{collection}\n")
		fmt.Printf("  Realtime: /realtime/v1/websocket\n")

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		fmt.Fprintln(os.Stderr, "\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Info("server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("db", "data.db", "Path to the SQLite database file")
	serveCmd.Flags().String("store", docstore.BackendSQLite, "Store backend: memory, sqlite, mongo or postgres")
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().String("https", "", "Domain for automatic Let's Encrypt HTTPS")
	serveCmd.Flags().String("cert-dir", "./certs", "Certificate cache directory for HTTPS")
	serveCmd.Flags().String("jwt-secret", "", "JWT signing secret")
	serveCmd.Flags().String("log-mode", "console", "Log output: console or file")
	serveCmd.Flags().String("log-level", "info", "Log level: debug, info, warn or error")
	serveCmd.Flags().String("log-format", "text", "Console log format: text or json")
	serveCmd.Flags().String("log-file", "firelite.log", "Log file path when log-mode is file")
	serveCmd.Flags().Duration("poll-interval", time.Second, "Realtime change detection interval")
	serveCmd.Flags().Int("max-clients", 1000, "Maximum concurrent realtime connections")
}
