// Package config loads and saves the router link configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Transport kinds.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"
)

var (
	// ErrMissingField is wrapped by every FieldError.
	ErrMissingField = errors.New("missing required configuration field")
	// ErrUnreadable is returned when the configuration table cannot be read.
	ErrUnreadable = errors.New("unreadable configuration")
	// ErrInvalidValue is returned for fields that are present but unusable.
	ErrInvalidValue = errors.New("invalid configuration value")
)

// FieldError names the offending configuration key.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Channel is a router channel the mud listens to.
type Channel struct {
	Name  string `mapstructure:"name"`
	Local string `mapstructure:"local"`
}

// Config holds the router link configuration.
type Config struct {
	LocalName  string `mapstructure:"local_name"`
	ServerAddr string `mapstructure:"server_addr"`
	ServerPort int    `mapstructure:"server_port"`
	ClientPwd  string `mapstructure:"client_pwd"`
	ServerPwd  string `mapstructure:"server_pwd"`

	// SHA256 enables the stronger hash negotiation. The reconnection policy may
	// turn it off and write the change back.
	SHA256      bool `mapstructure:"sha256"`
	AutoConnect bool `mapstructure:"auto_connect"`

	Transport   string        `mapstructure:"transport"`
	WSPath      string        `mapstructure:"ws_path"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	KeepaliveTicks    int `mapstructure:"keepalive_ticks"`
	CacheRefreshTicks int `mapstructure:"cache_refresh_ticks"`
	HistoryLength     int `mapstructure:"history_length"`

	UcachePath  string `mapstructure:"ucache_path"`
	HistoryPath string `mapstructure:"history_path"`

	Channels []Channel `mapstructure:"channels"`
	Bans     []string  `mapstructure:"bans"`
}

// Default returns a Config carrying every default and no credentials.
func Default() *Config {
	return &Config{
		SHA256:            true,
		AutoConnect:       true,
		Transport:         DefaultTransport,
		WSPath:            DefaultWSPath,
		DialTimeout:       5 * time.Second,
		KeepaliveTicks:    DefaultKeepaliveTicks,
		CacheRefreshTicks: DefaultCacheRefreshTicks,
		HistoryLength:     DefaultHistoryLength,
		UcachePath:        DefaultUcachePath,
		HistoryPath:       DefaultHistoryPath,
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	required := []struct {
		field string
		empty bool
	}{
		{"local_name", c.LocalName == ""},
		{"server_addr", c.ServerAddr == ""},
		{"server_port", c.ServerPort == 0},
		{"client_pwd", c.ClientPwd == ""},
		{"server_pwd", c.ServerPwd == ""},
	}
	for _, r := range required {
		if r.empty {
			return &FieldError{Field: r.field, Err: ErrMissingField}
		}
	}

	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return &FieldError{Field: "server_port", Err: ErrInvalidValue}
	}
	if strings.ContainsAny(c.LocalName, " \t") {
		return &FieldError{Field: "local_name", Err: ErrInvalidValue}
	}
	switch c.Transport {
	case TransportTCP, TransportWebSocket:
	default:
		return &FieldError{Field: "transport", Err: ErrInvalidValue}
	}
	if c.KeepaliveTicks <= 0 {
		return &FieldError{Field: "keepalive_ticks", Err: ErrInvalidValue}
	}
	if c.CacheRefreshTicks <= 0 {
		return &FieldError{Field: "cache_refresh_ticks", Err: ErrInvalidValue}
	}
	return nil
}

// Subscribed reports whether the router channel name is in the channel list.
func (c *Config) Subscribed(channel string) bool {
	for _, ch := range c.Channels {
		if strings.EqualFold(ch.Name, channel) {
			return true
		}
	}
	return false
}

// Banned reports whether identity, or the mud it belongs to, is banned.
func (c *Config) Banned(identity string) bool {
	mud := identity
	if i := strings.LastIndexByte(identity, '@'); i >= 0 {
		mud = identity[i+1:]
	}
	for _, b := range c.Bans {
		if strings.EqualFold(b, identity) || strings.EqualFold(b, mud) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Channels = append([]Channel(nil), c.Channels...)
	out.Bans = append([]string(nil), c.Bans...)
	return &out
}
