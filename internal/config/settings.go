package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fentz26/cfagents/internal/logging"
	"github.com/spf13/viper"
)

// Settings is the daemon and CLI configuration.
type Settings struct {
	ConfigDir    string             `mapstructure:"config_dir"`
	DBPath       string             `mapstructure:"db_path"`
	Listen       string             `mapstructure:"listen"`
	Log          logging.Config     `mapstructure:"log"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Dispatcher   DispatcherConfig   `mapstructure:"dispatcher"`
	ETL          ETLConfig          `mapstructure:"etl"`
}

// OrchestratorConfig tunes task execution.
type OrchestratorConfig struct {
	MaxParallel      int  `mapstructure:"max_parallel"`
	EnforceExclusive bool `mapstructure:"enforce_exclusive"`
	StrictActions    bool `mapstructure:"strict_actions"`
}

// DispatcherConfig tunes the bus dispatcher.
type DispatcherConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	GlobalMax    int           `mapstructure:"global_max"`
}

// ETLConfig locates the external pipeline scripts.
type ETLConfig struct {
	WorkDir string `mapstructure:"work_dir"`
	// Action is the action name bound to the ETL command runner.
	Action string `mapstructure:"action"`
}

// EnvPrefix prefixes environment overrides, e.g. CFAGENTS_LISTEN.
const EnvPrefix = "CFAGENTS"

func setDefaults(v *viper.Viper) {
	v.SetDefault("config_dir", "./configs")
	v.SetDefault("db_path", filepath.Join(homeDir(), ".cfagents", "cfagents.db"))
	v.SetDefault("listen", "127.0.0.1:7477")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stderr")

	v.SetDefault("orchestrator.max_parallel", 8)
	v.SetDefault("orchestrator.enforce_exclusive", true)
	v.SetDefault("orchestrator.strict_actions", false)

	v.SetDefault("dispatcher.enabled", true)
	v.SetDefault("dispatcher.poll_interval", "500ms")
	v.SetDefault("dispatcher.global_max", 4)

	v.SetDefault("etl.work_dir", ".")
	v.SetDefault("etl.action", "run_etl")
}

// LoadSettings reads cfagents.yaml from the working directory or the user
// config dir. A missing file is not an error. CFAGENTS_* variables override
// file values.
func LoadSettings() (*Settings, error) {
	v := newViper()
	v.SetConfigName("cfagents")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(UserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading settings: %w", err)
		}
	}
	return unmarshal(v)
}

// LoadSettingsFromPath reads settings from an explicit file.
func LoadSettingsFromPath(path string) (*Settings, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading settings from %s: %w", path, err)
	}
	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Settings, error) {
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("unmarshaling settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate rejects settings the daemon cannot run with.
func (s *Settings) Validate() error {
	switch {
	case s.Orchestrator.MaxParallel <= 0:
		return fmt.Errorf("%w: orchestrator.max_parallel must be positive", ErrInvalidConfig)
	case s.Dispatcher.GlobalMax <= 0:
		return fmt.Errorf("%w: dispatcher.global_max must be positive", ErrInvalidConfig)
	case s.Dispatcher.PollInterval <= 0:
		return fmt.Errorf("%w: dispatcher.poll_interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// UserConfigDir returns $XDG_CONFIG_HOME/cfagents or ~/.config/cfagents.
func UserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cfagents")
	}
	return filepath.Join(homeDir(), ".config", "cfagents")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
