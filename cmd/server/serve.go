package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/ptybridge/api"
	"github.com/remote-agent-terminal/ptybridge/internal/backoff"
	"github.com/remote-agent-terminal/ptybridge/internal/config"
	"github.com/remote-agent-terminal/ptybridge/internal/db"
	"github.com/remote-agent-terminal/ptybridge/internal/logger"
	"github.com/remote-agent-terminal/ptybridge/internal/metrics"
	"github.com/remote-agent-terminal/ptybridge/internal/pty"
	"github.com/remote-agent-terminal/ptybridge/internal/repository"
	"github.com/remote-agent-terminal/ptybridge/internal/session"
	"github.com/remote-agent-terminal/ptybridge/internal/storage"
	"github.com/remote-agent-terminal/ptybridge/internal/ws"
)

const shutdownTimeout = 10 * time.Second

var (
	serveConfigPath string
	serveAddr       string
	serveUploadDir  string
	serveRunner     string
	serveLogLevel   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the terminal bridge server",
	Long: `Start the HTTP server with the WebSocket terminal endpoint, the file
upload routes, session inspection under /api and Prometheus metrics.

Settings come from built-in defaults, then the TOML file given with
--config, then environment variables (PTY_PORT, PYTHON_BIN, RUNNER_PATH,
FALLBACK_SHELL, UPLOAD_DIR, ...), then flags.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to a TOML config file")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address, e.g. :3001")
	serveCmd.Flags().StringVar(&serveUploadDir, "upload-dir", "", "Directory for uploaded files")
	serveCmd.Flags().StringVar(&serveRunner, "runner", "", "Path to the agent runner script")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd)
}

// loadServeConfig layers flags that were set on top of the loaded config.
func loadServeConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = serveAddr
	}
	if flags.Changed("upload-dir") {
		cfg.UploadDir = serveUploadDir
	}
	if flags.Changed("runner") {
		cfg.RunnerPath = serveRunner
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = serveLogLevel
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func sessionConfig(cfg config.Config) session.Config {
	return session.Config{
		Primary: pty.Command{
			Path:       cfg.PythonBin,
			Args:       cfg.PrimaryArgs(),
			Dir:        cfg.WorkDir,
			RunnerPath: cfg.RunnerPath,
		},
		Fallback: pty.Command{
			Path: cfg.FallbackShell,
			Dir:  cfg.WorkDir,
		},
		Backoff: backoff.Policy{
			Base: cfg.BackoffBase.Duration,
			Max:  cfg.BackoffMax.Duration,
		},
		StableAfter: cfg.StableAfter.Duration,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync()

	metrics.Register()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	store, err := storage.NewFileStore(cfg.UploadDir, repository.NewUploadRepository(database), cfg.MaxUploadBytes, log)
	if err != nil {
		return err
	}

	launcher := pty.NewLauncher(pty.Options{
		Term:        cfg.Term,
		SandboxEnv:  cfg.SandboxEnv,
		SandboxRoot: store.Root(),
	}, log)

	sessionManager := session.NewManager(session.NewPTYLauncher(launcher), session.ManagerConfig{
		Session:        sessionConfig(cfg),
		RecordDir:      cfg.RecordDir,
		RecordCompress: cfg.RecordCompress,
		Logger:         log,
	})

	wsService := ws.NewService(sessionManager, api.CheckOrigin(cfg.CORSOrigins), log)

	router := api.NewRouter(api.RouterConfig{
		WSPath:      cfg.WSPath,
		CORSOrigins: cfg.CORSOrigins,
		Sessions:    sessionManager,
		WebSocket:   wsService.Handler(),
		Store:       store,
		Logger:      log,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.String("addr", cfg.Addr),
			zap.String("ws_path", cfg.WSPath),
			zap.String("runner", cfg.RunnerPath),
			zap.String("upload_dir", store.Root()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			wsService.Close()
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	// Hijacked WebSocket connections are not tracked by Shutdown, so end the
	// sessions first.
	wsService.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	log.Info("server stopped")
	return nil
}
