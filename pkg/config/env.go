package config

import (
	syncsvc "github.com/testground/chainbench/pkg/sync"
)

// EnvConfig contains the process configuration. It is populated by
// coalescing values from these sources, in descending order of precedence:
//
//  1. command line flags, applied by the caller.
//  2. environment variables.
//  3. .env.toml.
//  4. default fallbacks.
type EnvConfig struct {
	Sync  SyncConfig                 `toml:"sync"`
	Redis syncsvc.RedisConfiguration `toml:"redis"`
	Chain ChainConfig                `toml:"chain"`
}

type SyncConfig struct {
	// URL is the websocket endpoint instances connect to.
	URL string `toml:"url"`
	// Listen is the address the sync server binds.
	Listen string `toml:"listen"`
	// Backend selects the service behind the sync server: memory or redis.
	Backend string `toml:"backend"`
}

type ChainConfig struct {
	Binary string `toml:"binary"`
	Home   string `toml:"home"`
}
