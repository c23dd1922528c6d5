package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/testground/chainbench/pkg/logging"
)

const (
	EnvChainbenchHome  = "CHAINBENCH_HOME"
	EnvSyncServiceHost = "SYNC_SERVICE_HOST"
	EnvSyncServicePort = "SYNC_SERVICE_PORT"
	EnvRedisHost       = "REDIS_HOST"

	DefaultSyncHost    = "testground-sync-service"
	DefaultSyncPort    = 5050
	DefaultListenAddr  = ":5050"
	DefaultBackend     = "memory"
	DefaultRedisHost   = "testground-redis"
	DefaultRedisPort   = 6379
	DefaultChainBinary = "/bin/cronosd"
	DefaultChainHome   = ".cronos"
)

// Load applies the fallbacks, the optional .env.toml found in the
// chainbench home directory and the environment.
func (e *EnvConfig) Load() error {
	e.Sync.Listen = DefaultListenAddr
	e.Sync.Backend = DefaultBackend
	e.Redis.Host = DefaultRedisHost
	e.Redis.Port = DefaultRedisPort
	e.Chain.Binary = DefaultChainBinary

	user, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to obtain user home dir: %w", err)
	}
	e.Chain.Home = filepath.Join(user, DefaultChainHome)

	home := filepath.Join(user, ".chainbench")
	if v, ok := os.LookupEnv(EnvChainbenchHome); ok {
		home = v
	}

	f := filepath.Join(home, ".env.toml")
	switch _, err := os.Stat(f); {
	case err == nil:
		if _, err := toml.DecodeFile(f, e); err != nil {
			return fmt.Errorf("found .env.toml at %s, but failed to parse: %w", f, err)
		}
		logging.S().Debugf(".env.toml loaded from: %s", f)
	case os.IsNotExist(err):
		logging.S().Debugf("no .env.toml found at %s; running with defaults", f)
	default:
		return err
	}

	return e.applyEnv()
}

func (e *EnvConfig) applyEnv() error {
	host, hostSet := os.LookupEnv(EnvSyncServiceHost)
	port, portSet := os.LookupEnv(EnvSyncServicePort)
	if hostSet || portSet || e.Sync.URL == "" {
		if !hostSet {
			host = DefaultSyncHost
		}
		if !portSet {
			port = strconv.Itoa(DefaultSyncPort)
		}
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvSyncServicePort, port, err)
		}
		e.Sync.URL = "ws://" + net.JoinHostPort(host, port)
	}
	if v, ok := os.LookupEnv(EnvRedisHost); ok {
		e.Redis.Host = v
	}
	return nil
}
