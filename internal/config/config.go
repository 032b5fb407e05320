// Package config handles showroom configuration loading and management.
package config

import "time"

// Config holds all showroom settings.
type Config struct {
	Manifest ManifestConfig `yaml:"manifest"`
	Data     DataConfig     `yaml:"data"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Stage    StageConfig    `yaml:"stage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ManifestConfig locates the pack manifest.
type ManifestConfig struct {
	Path string `yaml:"path"`
}

// DataConfig holds local directories.
type DataConfig struct {
	DropDir string `yaml:"drop_dir"` // watched for uploaded archives
}

// FetchConfig holds archive download settings.
type FetchConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// StageConfig holds stage settings.
type StageConfig struct {
	// VisibleCount overrides the manifest's default when non-zero.
	VisibleCount int `yaml:"visible_count"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Manifest: ManifestConfig{
			Path: "manifest.yaml",
		},
		Data: DataConfig{
			DropDir: "drops",
		},
		Fetch: FetchConfig{
			Timeout: 60 * time.Second,
		},
		Stage: StageConfig{
			VisibleCount: 0,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}
