// Package config loads nbssh client settings from the config file,
// environment, and ~/.ssh/config.
package config

import (
	"time"
)

// Config holds client defaults loaded from the config file. Per-host
// values from ~/.ssh/config are overlaid by Resolve.
type Config struct {
	User          string        `mapstructure:"user" yaml:"user,omitempty"`
	Port          int           `mapstructure:"port" yaml:"port"`
	PrivateKey    string        `mapstructure:"private_key" yaml:"private_key,omitempty"`
	NumRetries    int           `mapstructure:"num_retries" yaml:"num_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	UsePTY        bool          `mapstructure:"use_pty" yaml:"use_pty"`
	Terminator    string        `mapstructure:"terminator" yaml:"terminator"`
	StrictHostKey bool          `mapstructure:"strict_host_key" yaml:"strict_host_key"`
	IdentityFiles []string      `mapstructure:"identity_files" yaml:"identity_files,omitempty"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Port:          22,
		NumRetries:    3,
		RetryBackoff:  5 * time.Second,
		UsePTY:        true,
		Terminator:    "\n",
		StrictHostKey: true,
	}
}
