// Package config loads the CLI/server/client configuration for
// cmd/netcode: an .env-style file, parsed with
// github.com/hashicorp/go-envparse, layered under process environment
// and CLI flags parsed with github.com/spf13/pflag.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hashicorp/go-envparse"
	"github.com/spf13/pflag"
)

// Config holds every setting the CLI surface exposes.
type Config struct {
	RunServer bool
	RunClient bool

	// Server.
	MaxSlots int

	// Client.
	ServerPort uint16

	// Shared.
	Backend    string // "loopback" or "crossprocess"
	MetricsAddr string
	LogLevel   string
	LogPretty  bool
}

// Default returns the baseline configuration, as a starting point
// environment variables and flags can override.
func Default() Config {
	return Config{
		RunServer:   true,
		RunClient:   true,
		MaxSlots:    4,
		ServerPort:  0,
		Backend:     "loopback",
		MetricsAddr: "",
		LogLevel:    "info",
		LogPretty:   true,
	}
}

// envOverrides applies NETCODE_-prefixed environment-style assignments
// (either from the real process environment or from a parsed .env file)
// onto cfg.
func envOverrides(cfg *Config, env map[string]string) error {
	if v, ok := env["NETCODE_MAX_SLOTS"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NETCODE_MAX_SLOTS: %w", err)
		}
		cfg.MaxSlots = n
	}
	if v, ok := env["NETCODE_BACKEND"]; ok {
		cfg.Backend = v
	}
	if v, ok := env["NETCODE_METRICS_ADDR"]; ok {
		cfg.MetricsAddr = v
	}
	if v, ok := env["NETCODE_LOG_LEVEL"]; ok {
		cfg.LogLevel = v
	}
	if v, ok := env["NETCODE_LOG_PRETTY"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("NETCODE_LOG_PRETTY: %w", err)
		}
		cfg.LogPretty = b
	}
	return nil
}

// LoadEnvFile parses an .env-style file with go-envparse and layers its
// assignments over cfg. cmd/netcode calls it when NETCODE_ENV_FILE names
// a file, then layers the process environment on top (see
// LoadProcessEnv).
func LoadEnvFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open env file: %w", err)
	}
	defer f.Close()

	env, err := envparse.Parse(f)
	if err != nil {
		return fmt.Errorf("parse env file: %w", err)
	}
	return envOverrides(cfg, env)
}

// LoadProcessEnv layers NETCODE_-prefixed process environment variables
// over cfg.
func LoadProcessEnv(cfg *Config) error {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return envOverrides(cfg, env)
}

// RoleFlags holds the parsed --client/--server flags until Resolve folds
// them into a Config.
type RoleFlags struct {
	ClientOnly *bool
	ServerOnly *bool
}

// BindFlags registers the --client/--server CLI surface, plus the
// operational flags this repo adds, onto fs. Call fs.Parse afterwards,
// then Resolve to fold the parsed role flags into cfg.
func BindFlags(cfg *Config, fs *pflag.FlagSet) RoleFlags {
	rf := RoleFlags{ClientOnly: new(bool), ServerOnly: new(bool)}
	fs.BoolVar(rf.ClientOnly, "client", false, "run only the client session")
	fs.BoolVar(rf.ServerOnly, "server", false, "run only the server session")
	fs.IntVar(&cfg.MaxSlots, "max-slots", cfg.MaxSlots, "server connection slot count")
	fs.Uint16Var(&cfg.ServerPort, "server-port", cfg.ServerPort, "logical port the client dials (crossprocess backend)")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "transport backend: loopback or crossprocess")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "if set, serve Prometheus metrics on this address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "zerolog level: trace, debug, info, warn, error")
	fs.BoolVar(&cfg.LogPretty, "log-pretty", cfg.LogPretty, "use zerolog's console writer instead of JSON")
	return rf
}

// Resolve folds the parsed --client/--server flags into cfg. Default
// initializes both; passing either flag restricts to just that role.
func (rf RoleFlags) Resolve(cfg *Config) {
	if *rf.ClientOnly || *rf.ServerOnly {
		cfg.RunClient = *rf.ClientOnly
		cfg.RunServer = *rf.ServerOnly
	}
}
