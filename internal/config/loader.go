package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/rileyhilliard/nbssh/internal/errors"
)

const (
	// GlobalConfigDir is the directory for the config file, under the
	// user's home directory.
	GlobalConfigDir = ".config/nbssh"
	// ConfigFileName is the config file name.
	ConfigFileName = "config.yaml"
)

// Load reads config from the specified path, falling back to defaults
// for unset keys.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return Config{}, errors.WrapWithCode(err, errors.ErrConfig,
				"Config file not found: "+path,
				"Run 'nbssh init' to create one, or specify one with --config")
		}
		return Config{}, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the file exists and is valid YAML")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config file: "+path,
			"Check the field types match the documented schema")
	}
	return cfg, nil
}

// Find locates the config file: the explicit path when given, otherwise
// ~/.config/nbssh/config.yaml. An empty return with nil error means no
// config file exists and defaults apply.
func Find(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Specified config file not found: "+explicit,
				"Check the path is correct")
		}
		return explicit, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", nil
	}
	global := filepath.Join(home, GlobalConfigDir, ConfigFileName)
	if _, err := os.Stat(global); err == nil {
		return global, nil
	}
	return "", nil
}

// LoadOrDefault loads the discovered config file, or returns the
// defaults when none exists.
func LoadOrDefault(explicit string) (Config, error) {
	path, err := Find(explicit)
	if err != nil {
		return Config{}, err
	}
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("port", def.Port)
	v.SetDefault("num_retries", def.NumRetries)
	v.SetDefault("retry_backoff", def.RetryBackoff)
	v.SetDefault("use_pty", def.UsePTY)
	v.SetDefault("terminator", def.Terminator)
	v.SetDefault("strict_host_key", def.StrictHostKey)
}
