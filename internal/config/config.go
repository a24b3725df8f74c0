package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted by renderer.backend.
const (
	BackendFitz     = "fitz"
	BackendCanvas   = "canvas"
	BackendPdftoppm = "pdftoppm"
)

// DefaultMaxPDFBytes is the largest accepted input document (10 MiB).
const DefaultMaxPDFBytes = 10 * 1024 * 1024

// Config is the full runtime configuration of the service.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Server      ServerConfig      `yaml:"server"`
	Limits      LimitsConfig      `yaml:"limits"`
	Logger      LoggerConfig      `yaml:"logger"`
	Cache       CacheConfig       `yaml:"cache"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`
	Renderer    RendererConfig    `yaml:"renderer"`
	Sandbox     SandboxConfig     `yaml:"sandbox"`
}

type ServiceConfig struct {
	Name string `yaml:"name"`
}

type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    string `yaml:"port"`
	Prefork bool   `yaml:"prefork"`
}

type LimitsConfig struct {
	MaxPDFBytes int `yaml:"max_pdf_bytes"`
}

type LoggerConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// CacheConfig points at the redis instance backing the rate limiter.
// An empty RedisHost keeps limiter state in memory.
type CacheConfig struct {
	RedisHost   string `yaml:"redis_host"`
	RateLimitDB int    `yaml:"redis_rate_db"`
}

type RateLimiterConfig struct {
	// UserLimit is the number of requests per Interval per client; 0 disables limiting.
	UserLimit int           `yaml:"user_limit"`
	Interval  time.Duration `yaml:"interval"`
}

// RendererConfig selects and tunes the single active rasterization backend.
type RendererConfig struct {
	Backend       string  `yaml:"backend"`
	Scale         float64 `yaml:"scale"`
	PdftoppmPath  string  `yaml:"pdftoppm_path"`
	MaxConcurrent int     `yaml:"max_concurrent"`
	TimeoutSecs   int     `yaml:"timeout_secs"`
}

// DPI returns the pixel density equivalent of Scale for 72 DPI page units.
func (r RendererConfig) DPI() float64 {
	return 72 * r.Scale
}

// Timeout returns the caller-facing conversion budget.
func (r RendererConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSecs) * time.Second
}

type SandboxConfig struct {
	Dir string `yaml:"dir"`
	// SweepAfter is the age after which leftover scratch entries are removed at startup.
	SweepAfter time.Duration `yaml:"sweep_after"`
}

// Load reads the YAML file named by CONFIG_PATH (default "config.yaml"), applies
// environment overrides and defaults, and validates the result. A missing file is
// not an error: the service runs on defaults.
func Load() (Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit path.
func LoadFile(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(&cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RASTER_BACKEND"); v != "" {
		cfg.Renderer.Backend = v
	}
	if v := os.Getenv("PDFTOPPM_BIN"); v != "" {
		cfg.Renderer.PdftoppmPath = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Cache.RedisHost = v
	}
}

// ApplyDefaults fills zero values with the service defaults.
func (c *Config) ApplyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "pdf2image"
	}
	if c.Server.Port == "" {
		c.Server.Port = ":3000"
	}
	if c.Limits.MaxPDFBytes <= 0 {
		c.Limits.MaxPDFBytes = DefaultMaxPDFBytes
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.RateLimiter.Interval <= 0 {
		c.RateLimiter.Interval = time.Minute
	}
	c.Renderer.Backend = strings.ToLower(strings.TrimSpace(c.Renderer.Backend))
	if c.Renderer.Backend == "" {
		c.Renderer.Backend = BackendFitz
	}
	if c.Renderer.Scale <= 0 {
		c.Renderer.Scale = 2.0
	}
	if c.Renderer.PdftoppmPath == "" {
		c.Renderer.PdftoppmPath = "pdftoppm"
	}
	if c.Renderer.MaxConcurrent <= 0 {
		c.Renderer.MaxConcurrent = runtime.GOMAXPROCS(0)
	}
	if c.Renderer.TimeoutSecs <= 0 {
		c.Renderer.TimeoutSecs = 30
	}
	if c.Sandbox.Dir == "" {
		c.Sandbox.Dir = filepath.Join(os.TempDir(), "pdf2image")
	}
	if c.Sandbox.SweepAfter <= 0 {
		c.Sandbox.SweepAfter = time.Hour
	}
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	switch c.Renderer.Backend {
	case BackendFitz, BackendCanvas, BackendPdftoppm:
	default:
		return fmt.Errorf("unknown renderer backend %q", c.Renderer.Backend)
	}
	if c.Renderer.Scale > 8 {
		return fmt.Errorf("renderer scale %.2f exceeds 8", c.Renderer.Scale)
	}
	if c.Limits.MaxPDFBytes > 100*1024*1024 {
		return fmt.Errorf("limits.max_pdf_bytes %d exceeds 100 MiB", c.Limits.MaxPDFBytes)
	}
	return nil
}
