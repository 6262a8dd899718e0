package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/menta2k/capture-studio/pkg/processing"
	"github.com/menta2k/capture-studio/pkg/stylize"
)

// Detector and describer backends
const (
	BackendMock     = "mock"
	BackendSaliency = "saliency"
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
	BackendPool     = "pool"
)

// Storage drivers
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config holds the application configuration
type Config struct {
	Pipeline  processing.Config `json:"pipeline"`
	Stylize   StylizeConfig     `json:"stylize"`
	Detection DetectionConfig   `json:"detection"`
	Describe  DescribeConfig    `json:"describe"`
	Storage   StorageConfig     `json:"storage"`
	Server    ServerConfig      `json:"server"`
	Log       LogConfig         `json:"log"`
	// Seed fixes the random source; zero seeds from the clock
	Seed int64 `json:"seed"`
}

// StylizeConfig holds the pixel style settings
type StylizeConfig struct {
	RemoteBlockSize int     `json:"remote_block_size"`
	LocalBlockSize  int     `json:"local_block_size"`
	MinDelayMS      int     `json:"min_delay_ms"`
	MaxDelayMS      int     `json:"max_delay_ms"`
	FailureRate     float64 `json:"failure_rate"`
}

// RemoteConfig converts the section into the simulated model settings
func (c StylizeConfig) RemoteConfig() stylize.RemoteConfig {
	return stylize.RemoteConfig{
		BlockSize:   c.RemoteBlockSize,
		MinDelay:    time.Duration(c.MinDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(c.MaxDelayMS) * time.Millisecond,
		FailureRate: c.FailureRate,
	}
}

// DetectionConfig selects the detection backend
type DetectionConfig struct {
	Backend    string `json:"backend"`
	ModelURL   string `json:"model_url"`
	Model      string `json:"model"`
	MaxResults int    `json:"max_results"`
}

// DescribeConfig selects the description backend
type DescribeConfig struct {
	Backend  string `json:"backend"`
	ModelURL string `json:"model_url"`
	Model    string `json:"model"`
}

// StorageConfig holds where artworks are kept
type StorageConfig struct {
	Driver string `json:"driver"`
	Dir    string `json:"dir"`
	DBPath string `json:"db_path"`
}

// ServerConfig holds HTTP settings
type ServerConfig struct {
	Addr      string `json:"addr"`
	SlotCount int    `json:"slot_count"`
	// MaxUploadMB limits multipart uploads
	MaxUploadMB int `json:"max_upload_mb"`
}

// LogConfig holds logging settings
type LogConfig struct {
	// Dir enables per-level log files when set
	Dir string `json:"dir"`
}

// Default returns a configuration with default values
func Default() *Config {
	remote := stylize.DefaultRemoteConfig()
	return &Config{
		Pipeline: processing.DefaultConfig(),
		Stylize: StylizeConfig{
			RemoteBlockSize: stylize.RemoteBlockSize,
			LocalBlockSize:  stylize.LocalBlockSize,
			MinDelayMS:      int(remote.MinDelay / time.Millisecond),
			MaxDelayMS:      int(remote.MaxDelay / time.Millisecond),
			FailureRate:     remote.FailureRate,
		},
		Detection: DetectionConfig{
			Backend:    BackendMock,
			ModelURL:   "http://localhost:11434",
			Model:      "qwen2.5vl:7b",
			MaxResults: 5,
		},
		Describe: DescribeConfig{
			Backend:  BackendPool,
			ModelURL: "http://localhost:11434",
			Model:    "qwen2.5:7b",
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Dir:    "./storage",
			DBPath: filepath.Join(".", "storage", "collection.db"),
		},
		Server: ServerConfig{
			Addr:        ":8080",
			SlotCount:   12,
			MaxUploadMB: 20,
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Missing keys keep their defaults.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv loads the given .env files (".env" when none are given; missing files are ignored)
// and then overrides settings from CAPTURE_* variables.
func (c *Config) ApplyEnv(envFiles ...string) {
	_ = godotenv.Load(envFiles...)

	c.Server.Addr = getEnv("CAPTURE_ADDR", c.Server.Addr)
	c.Detection.Backend = getEnv("CAPTURE_DETECTOR", c.Detection.Backend)
	c.Detection.ModelURL = getEnv("CAPTURE_MODEL_URL", c.Detection.ModelURL)
	c.Describe.ModelURL = getEnv("CAPTURE_MODEL_URL", c.Describe.ModelURL)
	c.Detection.Model = getEnv("CAPTURE_MODEL", c.Detection.Model)
	c.Describe.Backend = getEnv("CAPTURE_DESCRIBER", c.Describe.Backend)
	c.Describe.Model = getEnv("CAPTURE_TEXT_MODEL", c.Describe.Model)
	c.Storage.Dir = getEnv("CAPTURE_STORAGE_DIR", c.Storage.Dir)
	c.Storage.DBPath = getEnv("CAPTURE_DB_PATH", c.Storage.DBPath)
	c.Storage.Driver = getEnv("CAPTURE_STORAGE_DRIVER", c.Storage.Driver)
	c.Log.Dir = getEnv("CAPTURE_LOG_DIR", c.Log.Dir)
	c.Stylize.FailureRate = getEnvAsFloat("CAPTURE_FAILURE_RATE", c.Stylize.FailureRate)
	c.Seed = getEnvAsInt64("CAPTURE_SEED", c.Seed)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	p := c.Pipeline
	if p.MinLongEdge < 1 || p.MinLongEdge > p.DefaultLongEdge || p.DefaultLongEdge > p.MaxLongEdge {
		return fmt.Errorf("pipeline long edges must satisfy 0 < min <= default <= max")
	}

	if p.JPEGQuality < 1 || p.JPEGQuality > 100 {
		return fmt.Errorf("pipeline.jpeg_quality must be between 1 and 100")
	}

	if c.Stylize.RemoteBlockSize < 1 || c.Stylize.LocalBlockSize < 1 {
		return fmt.Errorf("stylize block sizes must be positive")
	}

	if c.Stylize.MinDelayMS < 0 || c.Stylize.MaxDelayMS < c.Stylize.MinDelayMS {
		return fmt.Errorf("stylize delays must satisfy 0 <= min_delay_ms <= max_delay_ms")
	}

	if c.Stylize.FailureRate < 0 || c.Stylize.FailureRate > 1 {
		return fmt.Errorf("stylize.failure_rate must be between 0 and 1")
	}

	switch c.Detection.Backend {
	case BackendMock, BackendSaliency, BackendOllama, BackendLlamaCpp:
	default:
		return fmt.Errorf("detection.backend %q is not supported", c.Detection.Backend)
	}

	if c.Detection.MaxResults < 1 {
		return fmt.Errorf("detection.max_results must be positive")
	}

	switch c.Describe.Backend {
	case BackendPool, BackendOllama, BackendLlamaCpp:
	default:
		return fmt.Errorf("describe.backend %q is not supported", c.Describe.Backend)
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage.db_path cannot be empty")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}

	if c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir cannot be empty")
	}

	if c.Server.SlotCount < 1 {
		return fmt.Errorf("server.slot_count must be positive")
	}

	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("server.max_upload_mb must be positive")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "capture-studio", "config.json")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
