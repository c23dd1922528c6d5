package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/urfave/cli/v2"

	"github.com/testground/chainbench/pkg/logging"
	"github.com/testground/chainbench/pkg/sync"
)

const (
	backendMemory = "memory"
	backendRedis  = "redis"
)

var syncBackend = &EnumValue{Allowed: []string{backendMemory, backendRedis}}

var SyncCommand = cli.Command{
	Name:   "sync",
	Usage:  "run the sync server process",
	Action: syncCommand,
	Flags: []cli.Flag{
		&cli.GenericFlag{
			Name:  "backend",
			Usage: "service backing the sync server: memory or redis (overrides .env.toml)",
			Value: syncBackend,
		},
		&cli.StringFlag{
			Name:  "listen",
			Usage: "`ADDR` to listen on (overrides .env.toml)",
		},
	},
}

func syncCommand(c *cli.Context) error {
	ctx, cancel := context.WithCancel(ProcessContext())
	defer cancel()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if syncBackend.IsSet() {
		cfg.Sync.Backend = syncBackend.String()
	}
	if l := c.String("listen"); l != "" {
		cfg.Sync.Listen = l
	}

	log := logging.Named("sync")

	var service sync.Service
	switch cfg.Sync.Backend {
	case backendRedis:
		if service, err = sync.NewRedisService(ctx, log, &cfg.Redis); err != nil {
			return err
		}
	case backendMemory:
		service = sync.NewMemoryService(log)
	default:
		return fmt.Errorf("unknown sync backend %q", cfg.Sync.Backend)
	}

	srv, err := sync.NewServer(log, service, cfg.Sync.Listen)
	if err != nil {
		return err
	}

	exiting := make(chan struct{})
	defer close(exiting)

	go func() {
		select {
		case <-ctx.Done():
		case <-exiting:
			// no need to shutdown in this case.
			return
		}

		log.Infow("shutting down sync service")

		_ = service.Close()
		_ = srv.Shutdown(context.Background())
	}()

	log.Infow("sync service listening", "addr", srv.Addr(), "backend", cfg.Sync.Backend)
	err = srv.Serve()
	if err == http.ErrServerClosed {
		err = nil
	}
	return err
}
