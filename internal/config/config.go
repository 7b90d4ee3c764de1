package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/types"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/pkg/imagegen"
)

// ModelSlot configures one image generation backend. A slot is active
// when it has an API key.
type ModelSlot struct {
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

func (m ModelSlot) Active() bool {
	return m.APIKey != ""
}

type Config struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`

	Engine struct {
		MaxWorkers         int `json:"max_workers"`
		TaskTimeoutSeconds int `json:"task_timeout_seconds"`
		RetryDelaySeconds  int `json:"retry_delay_seconds"`
	} `json:"engine"`

	RateLimit struct {
		GlobalLimit int      `json:"global_limit"`
		CallerLimit int      `json:"caller_limit"`
		Whitelist   []string `json:"whitelist"`
	} `json:"rate_limit"`

	Context struct {
		MaxTokens int `json:"max_tokens"`
	} `json:"context"`

	Models struct {
		Flux    ModelSlot `json:"flux"`
		Recraft ModelSlot `json:"recraft"`
		Gemini  ModelSlot `json:"gemini"`
		OpenAI  ModelSlot `json:"openai"`
	} `json:"models"`

	Enhance struct {
		Model  string `json:"model"`
		APIKey string `json:"api_key"`
	} `json:"enhance"`

	Server struct {
		Addr string `json:"addr"`
	} `json:"server"`

	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`

	Janitor struct {
		Schedule        string `json:"schedule"`
		SessionTTLHours int    `json:"session_ttl_hours"`
	} `json:"janitor"`
}

// Slot returns the configured slot for a model column.
func (c *Config) Slot(model types.ModelName) ModelSlot {
	switch model {
	case types.ModelFlux:
		return c.Models.Flux
	case types.ModelRecraft:
		return c.Models.Recraft
	case types.ModelGemini:
		return c.Models.Gemini
	case types.ModelOpenAI:
		return c.Models.OpenAI
	}
	return ModelSlot{}
}

// EnabledModels lists the model columns with an API key configured.
func (c *Config) EnabledModels() []types.ModelName {
	var enabled []types.ModelName
	for _, m := range types.AllModels() {
		if c.Slot(m).Active() {
			enabled = append(enabled, m)
		}
	}
	return enabled
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".pixelprompt"),
		LogLevel: "info",
	}
	cfg.Engine.MaxWorkers = 4
	cfg.Engine.TaskTimeoutSeconds = 120
	cfg.Engine.RetryDelaySeconds = 2
	cfg.RateLimit.GlobalLimit = 1000
	cfg.RateLimit.CallerLimit = 50
	cfg.Context.MaxTokens = 2000
	cfg.Models.Flux.Model = "flux-pro-1.1"
	cfg.Models.Flux.BaseURL = imagegen.DefaultBFLBaseURL
	cfg.Models.Recraft.Model = "recraftv3"
	cfg.Models.Recraft.BaseURL = imagegen.DefaultRecraftBaseURL
	cfg.Models.Gemini.Model = "gemini-2.0-flash-exp"
	cfg.Models.Gemini.BaseURL = imagegen.DefaultGeminiBaseURL
	cfg.Models.OpenAI.Model = "gpt-image-1"
	cfg.Models.OpenAI.BaseURL = imagegen.DefaultOpenAIBaseURL
	cfg.Enhance.Model = "gpt-4o-mini"
	cfg.Server.Addr = ":8080"
	cfg.Janitor.Schedule = "0 * * * *"
	cfg.Janitor.SessionTTLHours = 720

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if key := os.Getenv("BFL_API_KEY"); key != "" {
		cfg.Models.Flux.APIKey = key
	}
	if key := os.Getenv("RECRAFT_API_KEY"); key != "" {
		cfg.Models.Recraft.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.Models.Gemini.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Models.OpenAI.APIKey = key
		if cfg.Enhance.APIKey == "" {
			cfg.Enhance.APIKey = key
		}
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}

	return cfg, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
