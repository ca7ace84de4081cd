// Package policy loads the optional console policy file. The file can
// only narrow what the built-in gateway allows, never widen it: extra
// deny patterns, extra trusted install hosts, a tighter download ceiling
// and a risk cap for unconfirmed toggles.
package policy

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

type ConsolePolicy struct {
	Version            int      `yaml:"version"`
	DenyCommands       []string `yaml:"deny_commands"`
	TrustedHosts       []string `yaml:"trusted_hosts"`
	MaxDownloadMB      int      `yaml:"max_download_mb"`
	MaxUnconfirmedRisk string   `yaml:"max_unconfirmed_risk"`
	RootMode           bool     `yaml:"root_mode"`
}

// Load reads the policy file at path. A missing file yields a nil policy,
// which means built-ins only.
func Load(path string) (*ConsolePolicy, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, nil
	}
	raw, readError := os.ReadFile(trimmedPath)
	if readError != nil {
		if os.IsNotExist(readError) {
			return nil, nil
		}
		return nil, fmt.Errorf("read policy file: %w", readError)
	}

	loaded := ConsolePolicy{}
	if unmarshalError := yaml.Unmarshal(raw, &loaded); unmarshalError != nil {
		return nil, fmt.Errorf("invalid policy file %s: %w", trimmedPath, unmarshalError)
	}
	for _, pattern := range loaded.DenyCommands {
		if _, compileError := regexp.Compile(pattern); compileError != nil {
			return nil, fmt.Errorf("invalid deny_commands pattern %q: %w", pattern, compileError)
		}
	}
	return &loaded, nil
}

// DenyPatterns returns the additional gateway deny patterns, empty for a
// nil policy.
func (loaded *ConsolePolicy) DenyPatterns() []string {
	if loaded == nil {
		return nil
	}
	return loaded.DenyCommands
}

// ExtraHosts returns additional trusted install hosts.
func (loaded *ConsolePolicy) ExtraHosts() []string {
	if loaded == nil {
		return nil
	}
	return loaded.TrustedHosts
}

// MaxDownloadBytes returns the download ceiling override, or 0 for the
// built-in default.
func (loaded *ConsolePolicy) MaxDownloadBytes() int64 {
	if loaded == nil || loaded.MaxDownloadMB <= 0 {
		return 0
	}
	return int64(loaded.MaxDownloadMB) << 20
}
