package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "pixelprompt",
	Short: "Multi-model image generation service",
	Long:  "pixelprompt runs prompts against several image generation backends in parallel and tracks each model's results as an iterable session.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config",
		filepath.Join(os.Getenv("HOME"), ".pixelprompt", "config.json"),
		"config file path")
}

// loadConfig loads the config file, exiting on failure. Commands that
// can run without a daemon still need the data dir and model settings.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
