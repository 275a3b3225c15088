// Package config loads daemon settings from flags, AUCTIOND_* environment variables
// and an optional YAML file, in that order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/logging"
	"github.com/cloudx-io/sealedbid/server"
)

// EnvPrefix is prepended to every environment variable, e.g. AUCTIOND_MAX_WORKERS.
const EnvPrefix = "AUCTIOND"

const (
	StoreMemory  = "memory"
	StoreLevelDB = "leveldb"

	ReceiptsNone  = "none"
	ReceiptsKey   = "key"
	ReceiptsNitro = "nitro"
)

// Flag describes a configuration flag.
type Flag struct {
	Name        string
	DefValue    any
	Description string
}

// Flags are the daemon settings. Each is also a viper key and a config file key.
var Flags = []Flag{
	{Name: "config", DefValue: "", Description: "Path to a YAML config file"},
	{Name: "network", DefValue: server.NetworkTCP, Description: "Listener network: tcp or vsock"},
	{Name: "addr", DefValue: "127.0.0.1:5000", Description: "TCP listen address"},
	{Name: "vsock-port", DefValue: 5000, Description: "vsock listen port"},
	{Name: "max-workers", DefValue: 64, Description: "Maximum concurrent connections; extra connections are rejected"},
	{Name: "read-timeout", DefValue: 30 * time.Second, Description: "Per-connection read deadline"},
	{Name: "max-request-size", DefValue: 1 << 20, Description: "Maximum request size in bytes"},
	{Name: "replay-window", DefValue: time.Minute, Description: "Accepted distance between instruction issued_at and server time"},
	{Name: "store", DefValue: StoreLevelDB, Description: "Record store: memory or leveldb"},
	{Name: "store-path", DefValue: "auctiond-data", Description: "leveldb directory"},
	{Name: "cache-size", DefValue: 1024, Description: "Decoded auction cache entries (leveldb)"},
	{Name: "key-file", DefValue: "auctiond.key", Description: "Node ed25519 private key (PEM), used for signed receipts"},
	{Name: "receipts", DefValue: ReceiptsKey, Description: "Receipt issuer: none, key or nitro"},
	{Name: "http-addr", DefValue: "127.0.0.1:8080", Description: "HTTP read API listen address; empty disables it"},
	{Name: "commitment-len", DefValue: core.DefaultCommitmentLen, Description: "Required sealed commitment length in bytes"},
	{Name: "decimals", DefValue: int(core.DefaultDecimals), Description: "Decimals used to display amounts"},
	{Name: "log-level", DefValue: "info", Description: "Log level: debug, info, warn or error"},
	{Name: "log-json", DefValue: false, Description: "Enable structured JSON logging"},
}

// ConfigureCLI registers flags on fs and binds them, and matching environment
// variables, to v.
func ConfigureCLI(v *viper.Viper, envPrefix string, flags []Flag, fs *pflag.FlagSet) error {
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	for _, flag := range flags {
		switch defval := flag.DefValue.(type) {
		case string:
			fs.String(flag.Name, defval, flag.Description)
		case bool:
			fs.Bool(flag.Name, defval, flag.Description)
		case int:
			fs.Int(flag.Name, defval, flag.Description)
		case time.Duration:
			fs.Duration(flag.Name, defval, flag.Description)
		default:
			return fmt.Errorf("unknown flag type %T for %s", flag.DefValue, flag.Name)
		}
		v.SetDefault(flag.Name, flag.DefValue)
		if err := v.BindPFlag(flag.Name, fs.Lookup(flag.Name)); err != nil {
			return fmt.Errorf("binding flag %s: %w", flag.Name, err)
		}
	}
	return nil
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Backend   string
	Path      string
	CacheSize int
}

// Config is the resolved daemon configuration.
type Config struct {
	Server    server.Config
	Store     StoreConfig
	KeyFile   string
	Receipts  string
	HTTPAddr  string
	Protocol  core.Protocol
	Decimals  int32
	LogLevel  slog.Level
	LogFormat logging.Format
}

// Load reads the config file named by the "config" key, if any, and resolves all settings.
func Load(v *viper.Viper) (*Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading configuration: %w", err)
		}
	}

	level, err := logging.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return nil, err
	}
	format := logging.FormatText
	if v.GetBool("log-json") {
		format = logging.FormatJSON
	}

	cfg := &Config{
		Server: server.Config{
			Network:         v.GetString("network"),
			Address:         v.GetString("addr"),
			VsockPort:       v.GetUint32("vsock-port"),
			MaxWorkers:      v.GetInt("max-workers"),
			ReadTimeout:     v.GetDuration("read-timeout"),
			MaxRequestSize:  v.GetInt64("max-request-size"),
			ReplayWindow:    v.GetDuration("replay-window"),
			CleanupInterval: server.DefaultConfig().CleanupInterval,
		},
		Store: StoreConfig{
			Backend:   v.GetString("store"),
			Path:      v.GetString("store-path"),
			CacheSize: v.GetInt("cache-size"),
		},
		KeyFile:   v.GetString("key-file"),
		Receipts:  v.GetString("receipts"),
		HTTPAddr:  v.GetString("http-addr"),
		Protocol:  core.Protocol{CommitmentLen: v.GetInt("commitment-len")},
		Decimals:  v.GetInt32("decimals"),
		LogLevel:  level,
		LogFormat: format,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Server.Network {
	case server.NetworkTCP, server.NetworkVsock:
	default:
		return fmt.Errorf("network must be %s or %s, got %q", server.NetworkTCP, server.NetworkVsock, c.Server.Network)
	}
	if c.Server.MaxWorkers <= 0 {
		return fmt.Errorf("max-workers must be positive, got %d", c.Server.MaxWorkers)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("read-timeout must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.MaxRequestSize <= 0 {
		return fmt.Errorf("max-request-size must be positive, got %d", c.Server.MaxRequestSize)
	}
	if c.Server.ReplayWindow <= 0 {
		return fmt.Errorf("replay-window must be positive, got %s", c.Server.ReplayWindow)
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreLevelDB:
		if c.Store.Path == "" {
			return fmt.Errorf("store-path is required for the leveldb store")
		}
	default:
		return fmt.Errorf("store must be %s or %s, got %q", StoreMemory, StoreLevelDB, c.Store.Backend)
	}

	switch c.Receipts {
	case ReceiptsNone, ReceiptsNitro:
	case ReceiptsKey:
		if c.KeyFile == "" {
			return fmt.Errorf("key-file is required for key-signed receipts")
		}
	default:
		return fmt.Errorf("receipts must be %s, %s or %s, got %q", ReceiptsNone, ReceiptsKey, ReceiptsNitro, c.Receipts)
	}

	if c.Protocol.CommitmentLen <= 0 {
		return fmt.Errorf("commitment-len must be positive, got %d", c.Protocol.CommitmentLen)
	}
	if c.Decimals < 0 {
		return fmt.Errorf("decimals must not be negative, got %d", c.Decimals)
	}
	return nil
}
