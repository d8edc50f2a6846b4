// Package config provides configuration loading for pcdimport.
//
// Configuration is built once per invocation by LoadWithFile and then passed
// down by value. Packages below cmd/ never read environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Dataset ordering modes for Import.DatasetOrder.
const (
	DatasetOrderSorted     = "sorted"
	DatasetOrderFilesystem = "filesystem"
)

// Telemetry exporter protocols.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"
)

// Config holds the complete pcdimport configuration.
type Config struct {
	Platform  PlatformConfig  `koanf:"platform"`
	Task      TaskConfig      `koanf:"task"`
	Import    ImportConfig    `koanf:"import"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Sandbox   SandboxConfig   `koanf:"sandbox"`
}

// PlatformConfig describes how to reach the remote platform API.
type PlatformConfig struct {
	ServerURL string   `koanf:"server_url"`
	APIToken  Secret   `koanf:"api_token"`
	Timeout   Duration `koanf:"timeout"`
	RateLimit float64  `koanf:"rate_limit"` // requests per second, 0 disables limiting
	Burst     int      `koanf:"burst"`
}

// TaskConfig identifies the task run and its input.
type TaskConfig struct {
	ID           int    `koanf:"id"`
	TeamID       int    `koanf:"team_id"`
	WorkspaceID  int    `koanf:"workspace_id"`
	InputDir     string `koanf:"input_dir"`
	InputFile    string `koanf:"input_file"`
	ProjectName  string `koanf:"project_name"`
	RemoveSource bool   `koanf:"remove_source"`
	StorageDir   string `koanf:"storage_dir"`
}

// ImportConfig tunes the import pipeline.
type ImportConfig struct {
	LogProgress  bool   `koanf:"log_progress"`
	ProgressBar  bool   `koanf:"progress_bar"`
	StrictFrames bool   `koanf:"strict_frames"`
	DatasetOrder string `koanf:"dataset_order"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// MetricsConfig controls the Prometheus textfile written after each run.
type MetricsConfig struct {
	TextfilePath string `koanf:"textfile_path"`
}

// SandboxConfig configures the local platform sandbox server.
type SandboxConfig struct {
	Host      string `koanf:"host"`
	Port      int    `koanf:"port"`
	FilesRoot string `koanf:"files_root"`
}

// Addr returns the sandbox listen address.
func (s SandboxConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Platform.ServerURL == "" {
		cfg.Platform.ServerURL = "http://127.0.0.1:8300"
	}
	if cfg.Platform.Timeout == 0 {
		cfg.Platform.Timeout = Duration(5 * time.Minute)
	}
	if cfg.Platform.RateLimit > 0 && cfg.Platform.Burst == 0 {
		cfg.Platform.Burst = 1
	}

	if cfg.Task.StorageDir == "" {
		cfg.Task.StorageDir = "/tmp/pcdimport"
	}

	if cfg.Import.DatasetOrder == "" {
		cfg.Import.DatasetOrder = DatasetOrderSorted
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "pcdimport"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = ProtocolGRPC
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.Sandbox.Host == "" {
		cfg.Sandbox.Host = "127.0.0.1"
	}
	if cfg.Sandbox.Port == 0 {
		cfg.Sandbox.Port = 8300
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Platform.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid platform server url: %q", c.Platform.ServerURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("platform server url must be http or https, got %q", u.Scheme)
	}
	if c.Platform.RateLimit < 0 {
		return errors.New("platform rate limit cannot be negative")
	}
	if c.Platform.Burst < 0 {
		return errors.New("platform burst cannot be negative")
	}

	switch c.Import.DatasetOrder {
	case DatasetOrderSorted, DatasetOrderFilesystem:
	default:
		return fmt.Errorf("invalid dataset order %q (must be %s or %s)",
			c.Import.DatasetOrder, DatasetOrderSorted, DatasetOrderFilesystem)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.ServiceName == "" {
			return errors.New("service name required when telemetry is enabled")
		}
		if c.Telemetry.Protocol != ProtocolGRPC && c.Telemetry.Protocol != ProtocolHTTP {
			return fmt.Errorf("invalid telemetry protocol %q", c.Telemetry.Protocol)
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry sample rate must be within [0,1], got %v", c.Telemetry.SampleRate)
		}
	}

	if c.Sandbox.Port < 1 || c.Sandbox.Port > 65535 {
		return fmt.Errorf("invalid sandbox port: %d (must be 1-65535)", c.Sandbox.Port)
	}

	return nil
}

// ErrNoInput is returned when a remote import names neither an input
// directory nor an input archive.
var ErrNoInput = errors.New("one of task.input_dir or task.input_file is required")

// ValidateTask checks the settings a remote import needs on top of Validate.
func (c *Config) ValidateTask() error {
	if c.Task.InputDir == "" && c.Task.InputFile == "" {
		return ErrNoInput
	}
	if c.Task.InputDir != "" && c.Task.InputFile != "" {
		return errors.New("task.input_dir and task.input_file are mutually exclusive")
	}
	if c.Task.TeamID <= 0 {
		return errors.New("task.team_id is required for a remote import")
	}
	if c.Task.WorkspaceID <= 0 {
		return errors.New("task.workspace_id is required")
	}
	return nil
}
