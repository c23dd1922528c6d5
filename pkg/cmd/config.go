package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/testground/chainbench/pkg/config"
)

// loadConfig loads the process configuration and applies the global flags.
func loadConfig(c *cli.Context) (*config.EnvConfig, error) {
	cfg := &config.EnvConfig{}
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	if u := c.String("sync-url"); u != "" {
		cfg.Sync.URL = u
	}
	return cfg, nil
}
