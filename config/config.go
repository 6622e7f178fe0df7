package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	LogLevel int `yaml:"log_level"`

	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Library  LibraryConfig  `yaml:"library"`
	Activity ActivityConfig `yaml:"activity"`
	Signing  SigningConfig  `yaml:"signing"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type StorageConfig struct {
	// Type of storage: "local" or "gcs"
	Type string `yaml:"type"`

	// Local storage options
	OutputDir string `yaml:"output_dir"`

	// Scratch space for in-flight downloads
	TempDir string `yaml:"temp_dir"`

	GCS GCSConfig `yaml:"gcs"`
}

type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

type LibraryConfig struct {
	DBPath  string `yaml:"db_path"`
	AppsDir string `yaml:"apps_dir"`
}

// SigningConfig points at an external signing tool. Signing is disabled when
// Binary is empty. {input} and {output} in Args are replaced per job.
type SigningConfig struct {
	Binary    string   `yaml:"binary"`
	Args      []string `yaml:"args"`
	SignedDir string   `yaml:"signed_dir"`
}

// ActivityConfig tunes how operation progress is surfaced.
type ActivityConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	ProgressThreshold float64       `yaml:"progress_threshold"`
	CompletedGrace    time.Duration `yaml:"completed_grace"`
	FailedGrace       time.Duration `yaml:"failed_grace"`

	// Fraction of a download's progress reserved for the transfer; the rest
	// covers unpacking.
	UnpackMilestone float64 `yaml:"unpack_milestone"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config *Config

	// Unmarshal the YAML data into the struct
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, err
	}
	if config == nil {
		config = &Config{}
	}

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills every zero field with its default.
func (c *Config) SetDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}

	if c.Storage.Type == "" {
		c.Storage.Type = "local"
	}
	if c.Storage.OutputDir == "" {
		c.Storage.OutputDir = "output/packages"
	}
	if c.Storage.TempDir == "" {
		c.Storage.TempDir = os.TempDir()
	}

	if c.Library.DBPath == "" {
		c.Library.DBPath = "output/library.db"
	}
	if c.Library.AppsDir == "" {
		c.Library.AppsDir = "output/apps"
	}

	if c.Signing.SignedDir == "" {
		c.Signing.SignedDir = "output/signed"
	}

	if c.Activity.PollInterval == 0 {
		c.Activity.PollInterval = 100 * time.Millisecond
	}
	if c.Activity.ProgressThreshold == 0 {
		c.Activity.ProgressThreshold = 0.01
	}
	if c.Activity.CompletedGrace == 0 {
		c.Activity.CompletedGrace = 2 * time.Second
	}
	if c.Activity.FailedGrace == 0 {
		c.Activity.FailedGrace = 5 * time.Second
	}
	if c.Activity.UnpackMilestone == 0 {
		c.Activity.UnpackMilestone = 0.75
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "local":
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("%w: storage.gcs.bucket is required for gcs storage", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage type %q", ErrInvalidConfig, c.Storage.Type)
	}

	if c.Activity.PollInterval < 0 || c.Activity.CompletedGrace < 0 || c.Activity.FailedGrace < 0 {
		return fmt.Errorf("%w: activity durations must be positive", ErrInvalidConfig)
	}
	if c.Activity.ProgressThreshold < 0 || c.Activity.ProgressThreshold >= 1 {
		return fmt.Errorf("%w: activity.progress_threshold must be in [0, 1)", ErrInvalidConfig)
	}
	if c.Activity.UnpackMilestone <= 0 || c.Activity.UnpackMilestone > 1 {
		return fmt.Errorf("%w: activity.unpack_milestone must be in (0, 1]", ErrInvalidConfig)
	}
	return nil
}
