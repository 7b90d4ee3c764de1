package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/blob"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/config"
	ctxwin "github.com/HatmanStack/pixel-prompt-complete-sub000/internal/context"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/engine"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/gateway"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/images"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/ratelimit"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/scheduler"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/session"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/telegram"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/webhook"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/pkg/imagegen"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/pkg/imagegen/bfl"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/pkg/imagegen/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pixelprompt daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "pixelprompt.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

// buildRegistry constructs generator clients for every model slot with
// an API key.
func buildRegistry(cfg *config.Config) *imagegen.Registry {
	registry := imagegen.NewRegistry()
	for _, m := range cfg.EnabledModels() {
		slot := cfg.Slot(m)
		gcfg := &imagegen.Config{
			Provider: imagegen.DetectProvider(slot.Model),
			Model:    slot.Model,
			APIKey:   slot.APIKey,
			BaseURL:  slot.BaseURL,
		}
		var gen imagegen.Generator
		switch gcfg.Provider {
		case imagegen.ProviderBFL:
			gen = bfl.New(gcfg)
		default:
			// OpenAI, Recraft, and Gemini all speak the OpenAI API.
			gen = openai.New(gcfg)
		}
		registry.Register(string(m), gen)
		slog.Info("registered model", "column", m, "model", slot.Model, "provider", gcfg.Provider)
	}
	return registry
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	enabled := cfg.EnabledModels()
	if len(enabled) == 0 {
		return fmt.Errorf("no models configured: set at least one API key (OPENAI_API_KEY, BFL_API_KEY, GEMINI_API_KEY, RECRAFT_API_KEY)")
	}

	// Write PID file
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Stores
	blobs := blob.NewFileStore(filepath.Join(cfg.DataDir, "store"))
	sessions := session.NewStore(blobs)
	contexts := ctxwin.NewManager(blobs)
	imageStore := images.NewStore(blobs)

	// Providers
	registry := buildRegistry(cfg)

	// Engine
	eng := engine.New(sessions, contexts, imageStore, registry,
		engine.WithMaxWorkers(int64(cfg.Engine.MaxWorkers)),
		engine.WithTaskTimeout(time.Duration(cfg.Engine.TaskTimeoutSeconds)*time.Second),
		engine.WithRetryDelay(time.Duration(cfg.Engine.RetryDelaySeconds)*time.Second),
	)

	// Rate limiter
	limiter := ratelimit.New(blobs, cfg.RateLimit.GlobalLimit, cfg.RateLimit.CallerLimit, cfg.RateLimit.Whitelist)

	// Gateway options
	var opts []gateway.Option
	if budget, err := ctxwin.NewBudget(cfg.Enhance.Model, cfg.Context.MaxTokens); err != nil {
		slog.Warn("context budget disabled", "error", err)
	} else {
		opts = append(opts, gateway.WithBudget(budget))
	}
	if cfg.Enhance.APIKey != "" {
		opts = append(opts, gateway.WithEnhancer(openai.New(&imagegen.Config{
			Provider: imagegen.ProviderOpenAI,
			Model:    cfg.Enhance.Model,
			APIKey:   cfg.Enhance.APIKey,
		})))
	}

	gw := gateway.New(sessions, contexts, imageStore, eng, limiter, enabled, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw.Start(ctx)
	defer gw.Stop()

	slog.Info("pixelprompt started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"models", enabled,
		"max_workers", cfg.Engine.MaxWorkers,
		"pid_file", pidPath,
	)

	// Telegram adapter
	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, gw)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	// Janitor
	janitor := scheduler.New(sessions, limiter, cfg.Janitor.Schedule,
		time.Duration(cfg.Janitor.SessionTTLHours)*time.Hour)
	if err := janitor.Start(); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}
	defer janitor.Stop()

	// HTTP API
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: webhook.NewServer(gw),
	}
	go func() {
		slog.Info("http server started", "listen", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		httpServer.Close()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up before re-exec
			os.Remove(pidPath)
			gw.Stop()
			janitor.Stop()
			httpServer.Close()
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("re-exec failed", "error", err)
				os.Exit(1)
			}
		}
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
