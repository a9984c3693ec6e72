// Package config loads the server configuration from environment variables.
//
// Every key can be given with the JEDITR_ prefix and its section name
// (JEDITR_SERVER_PORT) or by its short name alone (PORT).
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Session   SessionConfig
	Workspace WorkspaceConfig
	Logging   LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port       int    `envconfig:"PORT" default:"8420"`
	Host       string `envconfig:"LISTEN_HOST" default:"127.0.0.1"`
	StaticDir  string `envconfig:"STATIC_DIR" default:"./frontend/dist"`
	SendBuffer int    `envconfig:"WS_SEND_BUFFER" default:"1024"`
	Metrics    bool   `envconfig:"METRICS_ENABLED" default:"true"`

	// AllowedOrigins are extra browser origins accepted on top of
	// same-host and loopback pages.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
}

// SessionConfig holds shell session configuration.
type SessionConfig struct {
	MaxSessions     int      `envconfig:"MAX_SESSIONS" default:"0"`
	Shell           string   `envconfig:"SHELL_OVERRIDE"`
	ShellArgs       []string `envconfig:"SHELL_ARGS"`
	MaxLineBytes    int      `envconfig:"MAX_LINE_BYTES" default:"1048576"`
	DropPartialLine bool     `envconfig:"DROP_PARTIAL_LINE" default:"false"`
	HistorySize     int      `envconfig:"HISTORY_SIZE" default:"1000"`
}

// WorkspaceConfig holds project directory configuration.
type WorkspaceConfig struct {
	Dir       string   `envconfig:"WORKDIR" default:"."`
	MaxFiles  int      `envconfig:"MAX_FILES" default:"100"`
	Ignore    []string `envconfig:"IGNORE" default:"**/.git/**,**/node_modules/**"`
	TreeDepth int      `envconfig:"TREE_DEPTH" default:"3"`
	Watch     bool     `envconfig:"WATCH" default:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("jeditr", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Addr returns the host:port the HTTP server listens on.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
