package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Render   RenderConfig   `yaml:"render"`
	Redact   RedactConfig   `yaml:"redact"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

type StorageConfig struct {
	Backend       string `yaml:"backend"` // gcs, local
	DefaultBucket string `yaml:"default_bucket"`
	MakePublic    bool   `yaml:"make_public"`
	LocalRoot     string `yaml:"local_root"`
	LocalBaseURL  string `yaml:"local_base_url"`
}

type RenderConfig struct {
	FFmpeg        string        `yaml:"ffmpeg"`
	FFprobe       string        `yaml:"ffprobe"`
	VideoCodec    string        `yaml:"video_codec"`
	Preset        string        `yaml:"preset"`
	CRF           int           `yaml:"crf"`
	AudioCodec    string        `yaml:"audio_codec"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	TempDir       string        `yaml:"temp_dir"`
}

type RedactConfig struct {
	Padding float64 `yaml:"padding"`
}

type DatabaseConfig struct {
	// URL is optional. Without it the service runs without a job ledger.
	URL string `yaml:"url"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Storage: StorageConfig{
			Backend:    "gcs",
			MakePublic: true,
			LocalRoot:  "./data/buckets",
		},
		Render: RenderConfig{
			FFmpeg:        "ffmpeg",
			FFprobe:       "ffprobe",
			VideoCodec:    "libx264",
			Preset:        "fast",
			CRF:           23,
			AudioCodec:    "aac",
			Timeout:       600 * time.Second,
			MaxConcurrent: 2,
		},
		Redact: RedactConfig{
			Padding: 0.3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from path (or the first config file found) over
// the defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case os.IsNotExist(err) && !explicit:
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	candidates := []string{
		"./veil.yaml",
		"./veil.yml",
		filepath.Join(os.Getenv("HOME"), ".veil", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// applyEnv layers the deployment environment over the file.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := getenv("VEIL_BUCKET"); v != "" {
		c.Storage.DefaultBucket = v
	}
	if v := getenv("VEIL_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := getenv("VEIL_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	// If no URL was configured, try to build the connection string from the environment
	if v := getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	} else if c.Database.URL == "" {
		if host := getenv("POSTGRES_HOST"); host != "" {
			port := getenv("POSTGRES_PORT")
			if port == "" {
				port = "5432"
			}
			c.Database.URL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
				getenv("POSTGRES_USER"), getenv("POSTGRES_PASSWORD"), host, port, getenv("POSTGRES_DB"))
		}
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be > 0"))
	}
	switch c.Storage.Backend {
	case "gcs":
	case "local":
		if c.Storage.LocalRoot == "" {
			errs = append(errs, errors.New("storage.local_root is required for the local backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q (want gcs or local)", c.Storage.Backend))
	}
	if c.Render.Timeout <= 0 {
		errs = append(errs, errors.New("render.timeout must be > 0"))
	}
	if c.Render.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("render.max_concurrent must be > 0"))
	}
	if c.Render.CRF < 0 || c.Render.CRF > 51 {
		errs = append(errs, fmt.Errorf("render.crf %d out of range 0-51", c.Render.CRF))
	}
	if math.IsNaN(c.Redact.Padding) || math.IsInf(c.Redact.Padding, 0) || c.Redact.Padding < 0 {
		errs = append(errs, fmt.Errorf("redact.padding %g must be a finite number >= 0", c.Redact.Padding))
	}
	return errors.Join(errs...)
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
