package project

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the resolved pocketdock configuration. Precedence:
// defaults, then the install-level file (~/.pocketdock/), then the
// project-level file. Unknown keys are ignored.
type Config struct {
	ProjectName        string
	DefaultProfile     string
	DefaultPersist     bool
	AutoLog            bool
	MaxLogSize         string
	MaxLogsPerInstance int
	RetentionDays      int
	Socket             string
	LogLevel           string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		DefaultProfile:     "minimal",
		AutoLog:            true,
		MaxLogSize:         "10MB",
		MaxLogsPerInstance: 100,
		RetentionDays:      30,
		LogLevel:           "info",
	}
}

// rawConfig is the YAML file shape. Logging keys may appear nested
// under "logging" (the written template) or flat.
type rawConfig struct {
	ProjectName        *string `yaml:"project_name"`
	DefaultProfile     *string `yaml:"default_profile"`
	DefaultPersist     *bool   `yaml:"default_persist"`
	AutoLog            *bool   `yaml:"auto_log"`
	MaxLogSize         *string `yaml:"max_log_size"`
	MaxLogsPerInstance *int    `yaml:"max_logs_per_instance"`
	RetentionDays      *int    `yaml:"retention_days"`
	Socket             *string `yaml:"socket"`
	LogLevel           *string `yaml:"log_level"`

	Logging *struct {
		AutoLog            *bool   `yaml:"auto_log"`
		MaxLogSize         *string `yaml:"max_log_size"`
		MaxLogsPerInstance *int    `yaml:"max_logs_per_instance"`
		RetentionDays      *int    `yaml:"retention_days"`
	} `yaml:"logging"`
}

// LoadConfig resolves configuration for a project root (which may be
// empty for out-of-project use).
func LoadConfig(projectRoot string) Config {
	cfg := DefaultConfig()

	if home, err := os.UserHomeDir(); err == nil {
		mergeConfigFile(&cfg, filepath.Join(home, ".pocketdock", ConfigFilename))
	}
	if projectRoot != "" {
		mergeConfigFile(&cfg, filepath.Join(projectRoot, ".pocketdock", ConfigFilename))
	}
	return cfg
}

func mergeConfigFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return
	}

	if raw.ProjectName != nil {
		cfg.ProjectName = *raw.ProjectName
	}
	if raw.DefaultProfile != nil {
		cfg.DefaultProfile = *raw.DefaultProfile
	}
	if raw.DefaultPersist != nil {
		cfg.DefaultPersist = *raw.DefaultPersist
	}
	if raw.AutoLog != nil {
		cfg.AutoLog = *raw.AutoLog
	}
	if raw.MaxLogSize != nil {
		cfg.MaxLogSize = *raw.MaxLogSize
	}
	if raw.MaxLogsPerInstance != nil {
		cfg.MaxLogsPerInstance = *raw.MaxLogsPerInstance
	}
	if raw.RetentionDays != nil {
		cfg.RetentionDays = *raw.RetentionDays
	}
	if raw.Socket != nil {
		cfg.Socket = *raw.Socket
	}
	if raw.LogLevel != nil {
		cfg.LogLevel = *raw.LogLevel
	}

	if raw.Logging != nil {
		if raw.Logging.AutoLog != nil {
			cfg.AutoLog = *raw.Logging.AutoLog
		}
		if raw.Logging.MaxLogSize != nil {
			cfg.MaxLogSize = *raw.Logging.MaxLogSize
		}
		if raw.Logging.MaxLogsPerInstance != nil {
			cfg.MaxLogsPerInstance = *raw.Logging.MaxLogsPerInstance
		}
		if raw.Logging.RetentionDays != nil {
			cfg.RetentionDays = *raw.Logging.RetentionDays
		}
	}
}
