// Package config loads daemon and client settings from the
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Daemon holds voltrayd settings.
type Daemon struct {
	// Listen is the address the WebSocket endpoint binds to. The
	// daemon is a local host process; keep this on loopback.
	Listen string `env:"VOLTRAYD_LISTEN" envDefault:"127.0.0.1:7380"`

	// PollInterval is how often the watcher samples the system volume
	// to detect changes made outside the daemon.
	PollInterval time.Duration `env:"VOLTRAYD_POLL_INTERVAL" envDefault:"500ms"`

	// Step is the volume increment for one up or down operation, in
	// [0.0, 1.0].
	Step float64 `env:"VOLTRAYD_STEP" envDefault:"0.05"`
}

// Client holds voltray settings.
type Client struct {
	// URL is the daemon's WebSocket endpoint.
	URL string `env:"VOLTRAY_URL" envDefault:"ws://127.0.0.1:7380/ws"`

	// DialTimeout bounds the initial connection attempt.
	DialTimeout time.Duration `env:"VOLTRAY_DIAL_TIMEOUT" envDefault:"5s"`
}

// LoadDaemon parses daemon settings from the environment.
func LoadDaemon() (Daemon, error) {
	var cfg Daemon
	if err := env.Parse(&cfg); err != nil {
		return Daemon{}, fmt.Errorf("parse daemon config: %w", err)
	}
	return cfg, nil
}

// LoadClient parses client settings from the environment.
func LoadClient() (Client, error) {
	var cfg Client
	if err := env.Parse(&cfg); err != nil {
		return Client{}, fmt.Errorf("parse client config: %w", err)
	}
	return cfg, nil
}
