// Package config loads orchestrator settings from an optional YAML file
// with environment-variable overrides. Environment always wins, so a
// containerized deployment can run with no config file at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level orchestrator configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Sessions  SessionsConfig  `yaml:"sessions"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// GeminiConfig holds the remote backend settings. APIKey is only read
// from the environment, never from the file.
type GeminiConfig struct {
	APIKey  string `yaml:"-"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// OllamaConfig holds the local backend settings.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// BreakerConfig controls the remote-backend circuit breaker.
type BreakerConfig struct {
	CooldownSeconds int `yaml:"cooldown_seconds"`
}

// RateLimitConfig controls the per-session sliding window.
type RateLimitConfig struct {
	Limit         int `yaml:"limit"`
	WindowSeconds int `yaml:"window_seconds"`
}

// SessionsConfig controls idle-session eviction. TTLSeconds <= 0 keeps
// sessions for the process lifetime.
type SessionsConfig struct {
	TTLSeconds   int `yaml:"ttl_seconds"`
	SweepSeconds int `yaml:"sweep_seconds"`
}

// Default returns the configuration used when no file and no
// environment overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8000},
		Gemini: GeminiConfig{
			BaseURL: "https://generativelanguage.googleapis.com",
			Model:   "gemini-1.5-flash",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "llama3.2:1b",
		},
		Breaker:   BreakerConfig{CooldownSeconds: 300},
		RateLimit: RateLimitConfig{Limit: 15, WindowSeconds: 60},
		Sessions:  SessionsConfig{TTLSeconds: 0, SweepSeconds: 60},
	}
}

// Load builds the effective configuration: defaults, then the YAML file
// at path (skipped silently when path is empty or the file is absent),
// then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config) {
	cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	setString(&cfg.Gemini.BaseURL, "GEMINI_BASE_URL")
	setString(&cfg.Gemini.Model, "GEMINI_MODEL")
	setString(&cfg.Ollama.BaseURL, "OLLAMA_BASE_URL")
	setString(&cfg.Ollama.Model, "OLLAMA_MODEL")
	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Breaker.CooldownSeconds, "BREAKER_COOLDOWN_SECONDS")
	setInt(&cfg.RateLimit.Limit, "RATE_LIMIT")
	setInt(&cfg.RateLimit.WindowSeconds, "RATE_LIMIT_WINDOW_SECONDS")
	setInt(&cfg.Sessions.TTLSeconds, "SESSION_TTL_SECONDS")
	setInt(&cfg.Sessions.SweepSeconds, "SESSION_SWEEP_SECONDS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}

// BreakerCooldown returns the breaker cooldown as a duration.
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Breaker.CooldownSeconds) * time.Second
}

// RateWindow returns the rate-limit window as a duration.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// SessionTTL returns the idle-session TTL as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Sessions.TTLSeconds) * time.Second
}

// SweepInterval returns the sweeper cadence as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sessions.SweepSeconds) * time.Second
}
