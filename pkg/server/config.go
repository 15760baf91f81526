package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server   ServerSection   `toml:"server"`
	Limits   LimitsSection   `toml:"limits"`
	Channels ChannelsSection `toml:"channels"`
	Metrics  MetricsSection  `toml:"metrics"`
}

type ServerSection struct {
	TCPPort      int    `toml:"tcp_port"`
	HTTPPort     int    `toml:"http_port"`
	IRCPort      int    `toml:"irc_port"`
	DatabasePath string `toml:"database_path"`
	BotName      string `toml:"bot_name"`
	MenuIcon     string `toml:"menu_icon"`
	Maintenance  bool   `toml:"maintenance"`
}

type LimitsSection struct {
	MaxMatches            int `toml:"max_matches"`
	MatchSlots            int `toml:"match_slots"`
	TourneyConnections    int `toml:"tourney_connections"`
	PingTimeoutSeconds    int `toml:"ping_timeout_seconds"`
	MatchInactiveMinutes  int `toml:"match_inactive_minutes"`
	ChatMessages          int `toml:"chat_messages"`
	ChatWindowSeconds     int `toml:"chat_window_seconds"`
	AutoSilenceMinutes    int `toml:"auto_silence_minutes"`
	TaskWorkers           int `toml:"task_workers"`
	TaskQueueDepth        int `toml:"task_queue_depth"`
}

type ChannelsSection struct {
	SeedChannels []SeedChannel `toml:"seed_channels"`
}

type SeedChannel struct {
	Name     string `toml:"name"`
	Topic    string `toml:"topic"`
	AutoJoin bool   `toml:"auto_join"`
}

type MetricsSection struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			TCPPort:      13381,
			HTTPPort:     8080,
			IRCPort:      6667,
			DatabasePath: "~/.bancho/bancho.db",
			BotName:      "BanchoBot",
		},
		Limits: LimitsSection{
			MaxMatches:           64,
			MatchSlots:           8,
			TourneyConnections:   4,
			PingTimeoutSeconds:   80,
			MatchInactiveMinutes: 15,
			ChatMessages:         10,
			ChatWindowSeconds:    5,
			AutoSilenceMinutes:   10,
			TaskWorkers:          4,
			TaskQueueDepth:       256,
		},
		Channels: ChannelsSection{
			SeedChannels: []SeedChannel{
				{Name: "#osu", Topic: "General discussion", AutoJoin: true},
				{Name: "#announce", Topic: "Server announcements", AutoJoin: true},
				{Name: "#lobby", Topic: "Find a multiplayer game"},
				{Name: "#help", Topic: "Ask for help here"},
			},
		},
		Metrics: MetricsSection{
			Enabled: true,
			Port:    9090,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found,
// and applies environment variable overrides
func LoadConfig(path string) (TOMLConfig, error) {
	// Expand ~ in path
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// File doesn't exist, create default config
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path); err != nil {
			// If we can't write, just return defaults without error
			// (might be a permissions issue, but we can still run)
			return applyEnvOverrides(config), nil
		}
		return applyEnvOverrides(config), nil
	}

	// Load from file
	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides to the config
// Environment variables follow the pattern: BANCHO_SECTION_KEY
// Example: BANCHO_SERVER_TCP_PORT=13382
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	envInt := func(key string, dst *int) {
		if val := os.Getenv(key); val != "" {
			if n, err := strconv.Atoi(val); err == nil {
				*dst = n
			}
		}
	}
	envStr := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}
	envBool := func(key string, dst *bool) {
		if val := os.Getenv(key); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				*dst = b
			}
		}
	}

	envInt("BANCHO_SERVER_TCP_PORT", &config.Server.TCPPort)
	envInt("BANCHO_SERVER_HTTP_PORT", &config.Server.HTTPPort)
	envInt("BANCHO_SERVER_IRC_PORT", &config.Server.IRCPort)
	envStr("BANCHO_SERVER_DATABASE_PATH", &config.Server.DatabasePath)
	envStr("BANCHO_SERVER_BOT_NAME", &config.Server.BotName)
	envStr("BANCHO_SERVER_MENU_ICON", &config.Server.MenuIcon)
	envBool("BANCHO_SERVER_MAINTENANCE", &config.Server.Maintenance)

	envInt("BANCHO_LIMITS_MAX_MATCHES", &config.Limits.MaxMatches)
	envInt("BANCHO_LIMITS_MATCH_SLOTS", &config.Limits.MatchSlots)
	envInt("BANCHO_LIMITS_TOURNEY_CONNECTIONS", &config.Limits.TourneyConnections)
	envInt("BANCHO_LIMITS_PING_TIMEOUT_SECONDS", &config.Limits.PingTimeoutSeconds)
	envInt("BANCHO_LIMITS_MATCH_INACTIVE_MINUTES", &config.Limits.MatchInactiveMinutes)
	envInt("BANCHO_LIMITS_CHAT_MESSAGES", &config.Limits.ChatMessages)
	envInt("BANCHO_LIMITS_CHAT_WINDOW_SECONDS", &config.Limits.ChatWindowSeconds)
	envInt("BANCHO_LIMITS_AUTO_SILENCE_MINUTES", &config.Limits.AutoSilenceMinutes)
	envInt("BANCHO_LIMITS_TASK_WORKERS", &config.Limits.TaskWorkers)
	envInt("BANCHO_LIMITS_TASK_QUEUE_DEPTH", &config.Limits.TaskQueueDepth)

	envBool("BANCHO_METRICS_ENABLED", &config.Metrics.Enabled)
	envInt("BANCHO_METRICS_PORT", &config.Metrics.Port)

	return config
}

// writeDefaultConfig writes the default config to a file with all options documented
func writeDefaultConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	content := `# Bancho Server Configuration
# This file was auto-generated with default values
# Restart the server for changes to take effect
#
# Environment variables can override these settings:
# BANCHO_SECTION_KEY (e.g., BANCHO_SERVER_TCP_PORT=13382)

[server]
# Port for raw TCP client connections
tcp_port = 13381

# Port for the HTTP transport (polling clients and /ws WebSocket endpoint)
# Set to 0 to disable
http_port = 8080

# Port for the IRC bridge
# Set to 0 to disable
irc_port = 6667

# Path to SQLite database file
database_path = "~/.bancho/bancho.db"

# Display name of the server-operated chat bot
bot_name = "BanchoBot"

# Main menu icon sent to clients: "image-url|click-url" (empty = none)
menu_icon = ""

# When true, only administrators can log in
maintenance = false

[limits]
# Maximum concurrent multiplayer matches
max_matches = 64

# Usable slots per new match (remaining slots up to 16 start locked)
match_slots = 8

# Concurrent connections allowed per account for tournament-stream clients
tourney_connections = 4

# Connections idle longer than this are presumed dead and reaped
ping_timeout_seconds = 80

# Empty matches older than this are disposed; persistent matches get double
match_inactive_minutes = 15

# Chat flood protection: at most chat_messages per chat_window_seconds
chat_messages = 10
chat_window_seconds = 5

# Silence handed out automatically when the chat limit is exceeded
auto_silence_minutes = 10

# Background task queue (chat logging, stats refresh, match history)
task_workers = 4
task_queue_depth = 256

[channels]
# Channels created on first startup if the database has none
seed_channels = [
  { name = "#osu", topic = "General discussion", auto_join = true },
  { name = "#announce", topic = "Server announcements", auto_join = true },
  { name = "#lobby", topic = "Find a multiplayer game" },
  { name = "#help", topic = "Ask for help here" },
]

[metrics]
# Prometheus endpoint on /metrics
enabled = true
port = 9090
`

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ServerConfig is the resolved runtime configuration consumed by the Server.
type ServerConfig struct {
	TCPPort     int
	HTTPPort    int
	IRCPort     int
	BotName     string
	MenuIcon    string
	Maintenance bool

	MaxMatches         int
	MatchSlots         int
	TourneyConnections int
	PingTimeout        time.Duration
	MatchInactive      time.Duration
	ChatMessages       int
	ChatWindow         time.Duration
	AutoSilence        time.Duration
	TaskWorkers        int
	TaskQueueDepth     int

	SeedChannels []SeedChannel

	MetricsEnabled bool
	MetricsPort    int
}

// DefaultConfig returns the runtime defaults used when no config file exists.
func DefaultConfig() ServerConfig {
	c := DefaultTOMLConfig()
	return c.ToServerConfig()
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	d := DefaultTOMLConfig()

	pick := func(v, def int) int {
		if v != 0 {
			return v
		}
		return def
	}

	cfg := ServerConfig{
		TCPPort:     pick(c.Server.TCPPort, d.Server.TCPPort),
		HTTPPort:    c.Server.HTTPPort,
		IRCPort:     c.Server.IRCPort,
		BotName:     c.Server.BotName,
		MenuIcon:    c.Server.MenuIcon,
		Maintenance: c.Server.Maintenance,

		MaxMatches:         pick(c.Limits.MaxMatches, d.Limits.MaxMatches),
		MatchSlots:         pick(c.Limits.MatchSlots, d.Limits.MatchSlots),
		TourneyConnections: pick(c.Limits.TourneyConnections, d.Limits.TourneyConnections),
		PingTimeout:        time.Duration(pick(c.Limits.PingTimeoutSeconds, d.Limits.PingTimeoutSeconds)) * time.Second,
		MatchInactive:      time.Duration(pick(c.Limits.MatchInactiveMinutes, d.Limits.MatchInactiveMinutes)) * time.Minute,
		ChatMessages:       pick(c.Limits.ChatMessages, d.Limits.ChatMessages),
		ChatWindow:         time.Duration(pick(c.Limits.ChatWindowSeconds, d.Limits.ChatWindowSeconds)) * time.Second,
		AutoSilence:        time.Duration(pick(c.Limits.AutoSilenceMinutes, d.Limits.AutoSilenceMinutes)) * time.Minute,
		TaskWorkers:        pick(c.Limits.TaskWorkers, d.Limits.TaskWorkers),
		TaskQueueDepth:     pick(c.Limits.TaskQueueDepth, d.Limits.TaskQueueDepth),

		SeedChannels: c.Channels.SeedChannels,

		MetricsEnabled: c.Metrics.Enabled,
		MetricsPort:    pick(c.Metrics.Port, d.Metrics.Port),
	}

	if cfg.BotName == "" {
		cfg.BotName = d.Server.BotName
	}
	if len(cfg.SeedChannels) == 0 {
		cfg.SeedChannels = d.Channels.SeedChannels
	}
	if cfg.MatchSlots > 16 {
		cfg.MatchSlots = 16
	}
	return cfg
}

// GetDatabasePath returns the database path with ~ expanded
func (c *TOMLConfig) GetDatabasePath() (string, error) {
	path := c.Server.DatabasePath
	if path == "" {
		path = DefaultTOMLConfig().Server.DatabasePath
	}
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}
	return path, nil
}
