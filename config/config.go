// Package config loads the example service's own settings: the listen
// identifier, log level, debug HTTP bind address, and diagnostics history
// size. The core engine/client/server packages never read config directly
// (they take their ServiceProtocolConfig/ClientConfig/ServerConfig as plain
// struct literals); this package is only for the example service wired up
// in cmd/.
package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the example service's top-level settings.
type Config struct {
	// ListenIdentifier names the abstract-namespace Unix socket the
	// example server listens on and the example client dials.
	ListenIdentifier string `mapstructure:"listen_identifier"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// DebugHTTPAddr is the bind address for the read-only httpdebug
	// router. Empty disables it.
	DebugHTTPAddr string `mapstructure:"debug_http_addr"`

	// DisconnectHistorySize bounds how many DisconnectRecords the
	// diagnostics history retains.
	DisconnectHistorySize int `mapstructure:"disconnect_history_size"`

	// MaxQueuedSends and MaxQueuedNotifies size the per-connection
	// bounded queues; see model.ClientConfig and model.ServerConfig.
	MaxQueuedSends    int `mapstructure:"max_queued_sends"`
	MaxQueuedNotifies int `mapstructure:"max_queued_notifies"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_identifier", "message-passing-example")
	v.SetDefault("log_level", "info")
	v.SetDefault("debug_http_addr", "127.0.0.1:9091")
	v.SetDefault("disconnect_history_size", 256)
	v.SetDefault("max_queued_sends", 32)
	v.SetDefault("max_queued_notifies", 16)
}

// Load reads configuration from configFile (if non-empty), environment
// variables prefixed MSGPASS_, and defaults, in increasing priority. An
// empty configFile skips the file read entirely; a missing file is only an
// error if configFile was explicitly given.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MSGPASS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// WatchReload invokes onChange whenever the config file backing cfg is
// modified on disk, passing the freshly reloaded Config. It is a no-op if
// configFile is empty. Reload errors are reported to onError rather than
// silently ignored, since a bad edit must not silently stop reloading.
func WatchReload(configFile string, onChange func(*Config), onError func(error)) error {
	if configFile == "" {
		return nil
	}
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: reading %s: %w", configFile, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			onError(fmt.Errorf("config: reload: %w", err))
			return
		}
		onChange(&cfg)
	})
	v.WatchConfig()
	return nil
}
