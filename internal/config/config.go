// Package config defines the daemon's configuration shape (spec §6).
// Loading the file from disk and validating it against CLI flags is an
// external collaborator (spec §1, Out of scope); this package only
// defines the structure THE CORE is constructed from and a minimal
// loader used by cmd/interceptord.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/adator85/interceptor/internal/errs"
)

// HQConfig configures the outbound HQ Client.
type HQConfig struct {
	Active         bool   `json:"active"`
	Report         bool   `json:"report"`
	URL            string `json:"url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// FirewallConfig configures the Firewall Gateway.
type FirewallConfig struct {
	Chain  string `json:"chain"`
	Binary string `json:"binary"`
}

// Config is the daemon's top-level configuration.
type Config struct {
	Version                 string         `json:"version"`
	Debug                   bool           `json:"debug"`
	PulseSeconds            int            `json:"pulse_seconds"`
	HQCommFrequency         int            `json:"hq_communication_frequency"`
	DefaultJailAttempt      int            `json:"default_jail_attempt"`
	DefaultJailDuration     int            `json:"default_jail_duration"`
	API                     struct {
		IntcHQ HQConfig `json:"intc_hq"`
	} `json:"api"`
	DBPath      string         `json:"db_path"`
	ModulesDir  string         `json:"modules_dir"`
	Firewall    FirewallConfig `json:"firewall"`
	GlobalWhitelist []string   `json:"whitelist,omitempty"`
}

// DefaultSentinelIPv4 is the address the spec uses to mean "no address
// could be extracted" — never jailed, never reported, pruned on sight.
const DefaultSentinelIPv4 = "0.0.0.0"

// Default returns a Config with the spec's documented defaults applied.
func Default() Config {
	return Config{
		Version:             "1.0.0",
		PulseSeconds:        5,
		HQCommFrequency:     12,
		DefaultJailAttempt:  4,
		DefaultJailDuration: 120,
		DBPath:              "db/software.db",
		Firewall: FirewallConfig{
			Chain:  "INTERCEPTOR",
			Binary: "iptables",
		},
	}
}

// Load reads and validates a JSON configuration file, filling in
// defaults for zero-valued fields.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read config %s: %v", errs.ErrConfigInvalid, path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse config %s: %v", errs.ErrConfigInvalid, path, err)
	}

	if cfg.PulseSeconds <= 0 {
		return Config{}, fmt.Errorf("%w: pulse_seconds must be positive", errs.ErrConfigInvalid)
	}
	if cfg.ModulesDir == "" {
		return Config{}, fmt.Errorf("%w: modules_dir is required", errs.ErrConfigInvalid)
	}

	return cfg, nil
}
