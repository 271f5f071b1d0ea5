// Package config defines the flag-parsed configuration for the veild
// daemon and veil-cli client, in the style of the teacher's
// cmd/ccoind/main.go parseFlags: one flat struct, one flag.*Var call per
// field, sane development defaults.
package config

import (
	"flag"

	"github.com/veil-protocol/veil/internal/indexer"
)

// DaemonConfig holds everything veild needs to start: storage, the
// settlement-layer transport, the local keyring, and the HTTP API.
type DaemonConfig struct {
	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Merkle tree
	TreeDepth  int
	TreeNumber uint64

	// Settlement-layer transport
	WebsocketURL string
	RPCAddr      string

	// HTTP API
	ListenAddr string

	// Keyring
	KeyFile string

	// Logging
	LogLevel string
}

// ParseDaemonFlags parses os.Args (via the flag package's default
// FlagSet) into a DaemonConfig.
func ParseDaemonFlags() *DaemonConfig {
	cfg := &DaemonConfig{}

	flag.StringVar(&cfg.DBHost, "db-host", "localhost", "PostgreSQL host")
	flag.IntVar(&cfg.DBPort, "db-port", 5432, "PostgreSQL port")
	flag.StringVar(&cfg.DBUser, "db-user", "veil", "PostgreSQL user")
	flag.StringVar(&cfg.DBPassword, "db-password", "", "PostgreSQL password")
	flag.StringVar(&cfg.DBName, "db-name", "veil_indexer", "PostgreSQL database name")
	flag.StringVar(&cfg.DBSSLMode, "db-sslmode", "disable", "PostgreSQL SSL mode")

	flag.IntVar(&cfg.TreeDepth, "tree-depth", 32, "Merkle tree depth")
	flag.Uint64Var(&cfg.TreeNumber, "tree-number", 0, "Active tree number")

	flag.StringVar(&cfg.WebsocketURL, "ws-url", "ws://127.0.0.1:8900", "Settlement-layer WebSocket subscription URL")
	flag.StringVar(&cfg.RPCAddr, "rpc", "127.0.0.1:8899", "Settlement-layer RPC address")

	flag.StringVar(&cfg.ListenAddr, "listen", "127.0.0.1:8080", "HTTP API listen address")

	flag.StringVar(&cfg.KeyFile, "key-file", "./veil.key", "Path to the base64 key file")

	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()
	return cfg
}

// IndexerStoreConfig converts the database fields into an
// indexer.Config ready for indexer.NewPostgresStore.
func (c *DaemonConfig) IndexerStoreConfig() *indexer.Config {
	return &indexer.Config{
		Host:     c.DBHost,
		Port:     c.DBPort,
		User:     c.DBUser,
		Password: c.DBPassword,
		Database: c.DBName,
		SSLMode:  c.DBSSLMode,
		MaxConns: 20,
	}
}

// CLIConfig holds the flags shared by every veil-cli subcommand: where
// the daemon's HTTP API lives and where the local keyring is.
type CLIConfig struct {
	APIAddr string
	KeyFile string
}

// ParseCLIFlags parses the common CLI flags from args (already stripped
// of the program name and subcommand), in the style of a per-subcommand
// flag.NewFlagSet the way the teacher's ccoin-cli dispatches by
// os.Args[1] and leaves flag parsing to each subcommand handler.
func ParseCLIFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs.StringVar(&cfg.APIAddr, "api", "http://127.0.0.1:8080", "veild HTTP API address")
	fs.StringVar(&cfg.KeyFile, "key-file", "./veil.key", "Path to the base64 key file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}
