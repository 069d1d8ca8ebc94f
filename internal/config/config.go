// Package config loads yetibridge's process-wide configuration from
// environment variables, optionally seeded from .env files — the same
// two-file-then-os.Getenv pattern fenole-szmaterlok's service.ConfigLoad/
// ConfigRead use, built on the same godotenv loader.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	env "github.com/joho/godotenv"
)

// Paths of configuration files, loaded in order; values from LocalFile
// override values from SystemFile.
const (
	SystemFile = "/etc/yetibridge/config.env"
	LocalFile  = ".env"
)

// Names of the environment variables this package reads.
const (
	VarConsoleName     = "YETIBRIDGE_CONSOLE_NAME"
	VarIRCName         = "YETIBRIDGE_IRC_NAME"
	VarIRCServer       = "YETIBRIDGE_IRC_SERVER"
	VarIRCNick         = "YETIBRIDGE_IRC_NICK"
	VarIRCChannel      = "YETIBRIDGE_IRC_CHANNEL"
	VarDiscordName     = "YETIBRIDGE_DISCORD_NAME"
	VarDiscordToken    = "YETIBRIDGE_DISCORD_TOKEN"
	VarDiscordChannel  = "YETIBRIDGE_DISCORD_CHANNEL"
	VarDebounceTimeout = "YETIBRIDGE_DEBOUNCE_TIMEOUT_SECONDS"
	VarDebounceTick    = "YETIBRIDGE_DEBOUNCE_TICK_SECONDS"
	VarLogLevel        = "YETIBRIDGE_LOG_LEVEL"
)

// Default values for the variables above.
const (
	DefaultConsoleName     = "console"
	DefaultIRCName         = "irc"
	DefaultDiscordName     = "discord"
	DefaultDebounceSeconds = 120
	DefaultTickSeconds     = 15
	DefaultLogLevel        = "info"
)

// Config is the free-form configuration the core hands each bridge
// unparsed (spec.md §6): these fields are the transport-specific keys the
// bundled ircbridge/discordbridge/console transports interpret. A bridge
// built outside this module would read its own keys from the same
// environment instead.
type Config struct {
	ConsoleName string

	IRCName    string
	IRCServer  string
	IRCNick    string
	IRCChannel string

	DiscordName    string
	DiscordToken   string
	DiscordChannel string

	DebounceTimeout time.Duration
	DebounceTick    time.Duration

	LogLevel string
}

// Load reads SystemFile then LocalFile into the process environment (a
// missing file is logged, not fatal — consistent with ConfigLoad in the
// codebase this package's layout is modeled on) and returns a Config
// populated from whatever environment variables are set, falling back to
// the defaults above.
func Load() (Config, error) {
	if err := env.Load(SystemFile); err != nil {
		log.Printf("config: no system config file: %s", err)
	}
	if err := env.Load(LocalFile); err != nil {
		log.Printf("config: no local config file: %s", err)
	}

	c := Config{
		ConsoleName:     DefaultConsoleName,
		IRCName:         DefaultIRCName,
		DiscordName:     DefaultDiscordName,
		DebounceTimeout: DefaultDebounceSeconds * time.Second,
		DebounceTick:    DefaultTickSeconds * time.Second,
		LogLevel:        DefaultLogLevel,
	}

	if v := os.Getenv(VarConsoleName); v != "" {
		c.ConsoleName = v
	}
	if v := os.Getenv(VarIRCName); v != "" {
		c.IRCName = v
	}
	c.IRCServer = os.Getenv(VarIRCServer)
	c.IRCNick = os.Getenv(VarIRCNick)
	c.IRCChannel = os.Getenv(VarIRCChannel)

	if v := os.Getenv(VarDiscordName); v != "" {
		c.DiscordName = v
	}
	c.DiscordToken = os.Getenv(VarDiscordToken)
	c.DiscordChannel = os.Getenv(VarDiscordChannel)

	if v := os.Getenv(VarDebounceTimeout); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("config: %s: %w", VarDebounceTimeout, err)
		}
		c.DebounceTimeout = time.Duration(seconds) * time.Second
	}
	if v := os.Getenv(VarDebounceTick); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("config: %s: %w", VarDebounceTick, err)
		}
		c.DebounceTick = time.Duration(seconds) * time.Second
	}
	if v := os.Getenv(VarLogLevel); v != "" {
		c.LogLevel = v
	}

	return c, nil
}
