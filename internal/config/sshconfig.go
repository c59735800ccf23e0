package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// HostSettings are the per-host connection parameters resolved from the
// host argument and ~/.ssh/config.
type HostSettings struct {
	Host         string // hostname or address to connect to
	Port         string
	User         string
	IdentityFile string
}

// ResolveHost parses a host argument of the form [user@]host[:port],
// overlaying HostName, Port, User, and IdentityFile from ~/.ssh/config
// when the host matches an alias there. Explicit user@ and :port in the
// argument take precedence over the SSH config.
func ResolveHost(host string) HostSettings {
	return resolveHostFromFile(host, filepath.Join(homeDir(), ".ssh", "config"))
}

func resolveHostFromFile(host, sshConfigPath string) HostSettings {
	settings := HostSettings{}

	explicitUser := false
	if atIdx := strings.Index(host, "@"); atIdx != -1 {
		settings.User = host[:atIdx]
		host = host[atIdx+1:]
		explicitUser = true
	}

	explicitPort := false
	if colonIdx := strings.LastIndex(host, ":"); colonIdx != -1 {
		potentialPort := host[colonIdx+1:]
		if isDigits(potentialPort) {
			settings.Port = potentialPort
			host = host[:colonIdx]
			explicitPort = true
		}
	}

	settings.Host = host

	content, err := preprocessSSHConfig(sshConfigPath)
	if err != nil {
		// No SSH config is fine.
		return settings
	}
	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return settings
	}

	if hostname, _ := cfg.Get(host, "HostName"); hostname != "" {
		settings.Host = hostname
	}
	if port, _ := cfg.Get(host, "Port"); port != "" && !explicitPort {
		settings.Port = port
	}
	if user, _ := cfg.Get(host, "User"); user != "" && !explicitUser {
		settings.User = user
	}
	if identity, _ := cfg.Get(host, "IdentityFile"); identity != "" {
		settings.IdentityFile = expandPath(identity)
	}

	return settings
}

// preprocessSSHConfig returns the SSH config content up to the first
// Match directive; the ssh_config library does not support Match blocks.
func preprocessSSHConfig(configPath string) ([]byte, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(content), "\n")
	var result []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "match ") {
			break
		}
		result = append(result, line)
	}
	return []byte(strings.Join(result, "\n")), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}
