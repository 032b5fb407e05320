package config

import "flag"

var (
	flagConfig   = flag.String("config", "", "Path to config file")
	flagDebug    = flag.Bool("debug", false, "Enable debug logging")
	flagManifest = flag.String("manifest", "", "Path to pack manifest")
	flagDropDir  = flag.String("drop-dir", "", "Directory watched for archive drops")
	flagVisible  = flag.Int("visible", 0, "Visible slot count override")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagManifest != "" {
		cfg.Manifest.Path = *flagManifest
	}
	if *flagDropDir != "" {
		cfg.Data.DropDir = *flagDropDir
	}
	if *flagVisible > 0 {
		cfg.Stage.VisibleCount = *flagVisible
	}
}
