package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ConfigFileName is the settings file searched for under the containment
// directory and the user's home directory.
const ConfigFileName = "config"

// Load reads settings for a repository. Sources, lowest to highest
// precedence: built-in defaults, ~/.warden/config.yaml, the repo's
// .orchestrator/config.yaml, then WARDEN_* environment variables.
// A missing config file is not an error.
func Load(repoRoot string) (Settings, error) {
	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".warden"))
	}
	v.AddConfigPath(filepath.Join(repoRoot, ".orchestrator"))

	v.SetEnvPrefix("WARDEN")
	v.AutomaticEnv()

	settings := DefaultSettings()
	setDefaults(v, settings)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return settings, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&settings); err != nil {
		return settings, fmt.Errorf("unmarshal config: %w", err)
	}

	// Environment supervision override wins over file configuration.
	if mode := os.Getenv(EnvSupervision); mode != "" {
		settings.SupervisionMode = SupervisionMode(mode)
	}

	if err := settings.Validate(); err != nil {
		return settings, fmt.Errorf("validate config: %w", err)
	}
	return settings, nil
}

func setDefaults(v *viper.Viper, s Settings) {
	v.SetDefault("supervision_mode", string(s.SupervisionMode))
	v.SetDefault("salt_env_var", s.SaltEnvVar)
	v.SetDefault("review.minimum_required", s.Review.MinimumRequired)
	v.SetDefault("review.on_insufficient", string(s.Review.OnInsufficient))
	v.SetDefault("review.max_fallback_attempts", s.Review.MaxFallbackAttempts)
}
