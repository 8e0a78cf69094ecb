package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	configType  = "toml"
	envPrefix   = "IMC"
	fileMode    = 0o600
	dirMode     = 0o700
	tempPattern = ".imc-config-*.toml.tmp"
)

// Defaults applied before the file and the environment are read.
const (
	DefaultTransport         = TransportTCP
	DefaultDialTimeout       = "5s"
	DefaultKeepaliveTicks    = 60
	DefaultCacheRefreshTicks = 5760
	DefaultHistoryLength     = 20
	DefaultUcachePath        = "imc/ucache.dat"
	DefaultHistoryPath       = "imc/history.bin"
	DefaultWSPath            = "/"
)

// Loader reads the configuration table from a TOML file, with IMC_*
// environment variables overriding file values, and writes it back.
type Loader struct {
	path string
}

// NewLoader returns a Loader for the file at path.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Path returns the configuration file path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads, decodes and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(l.path)
	v.SetConfigType(configType)
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, l.path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrUnreadable, l.path, err)
	}
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", l.path, err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	for _, key := range []string{"local_name", "server_addr", "client_pwd", "server_pwd"} {
		v.SetDefault(key, "")
	}
	v.SetDefault("server_port", 0)
	v.SetDefault("sha256", true)
	v.SetDefault("auto_connect", true)
	v.SetDefault("transport", DefaultTransport)
	v.SetDefault("ws_path", DefaultWSPath)
	v.SetDefault("dial_timeout", DefaultDialTimeout)
	v.SetDefault("keepalive_ticks", DefaultKeepaliveTicks)
	v.SetDefault("cache_refresh_ticks", DefaultCacheRefreshTicks)
	v.SetDefault("history_length", DefaultHistoryLength)
	v.SetDefault("ucache_path", DefaultUcachePath)
	v.SetDefault("history_path", DefaultHistoryPath)
}

// Save writes cfg back to the file, replacing it atomically.
func (l *Loader) Save(cfg *Config) error {
	data, err := toml.Marshal(toSchema(cfg))
	if err != nil {
		return fmt.Errorf("encode config file: %w", err)
	}
	return l.write(data)
}

// SetSHA256 rewrites only the sha256 key of the file on disk. Values that Load
// took from the environment are never written back.
func (l *Loader) SetSHA256(enabled bool) error {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreadable, l.path, err)
	}
	doc := make(map[string]any)
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUnreadable, l.path, err)
	}
	doc["sha256"] = enabled

	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config file: %w", err)
	}
	return l.write(data)
}

func (l *Loader) write(data []byte) error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	cleanup = false
	return nil
}
