package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/testground/chainbench/pkg/bootstrap"
	"github.com/testground/chainbench/pkg/chain"
	"github.com/testground/chainbench/pkg/logging"
	"github.com/testground/chainbench/pkg/runtime"
)

// localChainBinary is the chain binary looked up in PATH by `gen`.
const localChainBinary = "cronosd"

var GenCommand = cli.Command{
	Name:      "gen",
	Usage:     "generate the node homes of a whole network ahead of time, without a sync service",
	ArgsUsage: "OUTDIR",
	Action:    genCommand,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "hostname-template",
			Usage: "hostname of each node; {index} is replaced with the node index",
			Value: bootstrap.DefaultHostnameTemplate,
		},
		&cli.StringFlag{
			Name:  "chain-id",
			Value: runtime.DefaultChainID,
		},
		&cli.StringFlag{
			Name:  "chain-binary",
			Usage: "`PATH` of the chain binary",
			Value: localChainBinary,
		},
		&cli.IntFlag{Name: "validators", Value: 3},
		&cli.IntFlag{Name: "fullnodes", Value: 7},
		&cli.IntFlag{Name: "num-accounts", Value: 10},
		&cli.IntFlag{Name: "num-txs", Value: 1000},
		&cli.StringFlag{Name: "config-patch", Usage: "JSON merged into config.toml", Value: "{}"},
		&cli.StringFlag{Name: "app-patch", Usage: "JSON merged into app.toml", Value: "{}"},
		&cli.StringFlag{Name: "genesis-patch", Usage: "JSON merged into genesis.json", Value: "{}"},
		&cli.BoolFlag{Name: "validator-generate-load", Usage: "validators generate load too", Value: true},
	},
}

func jsonFlag(c *cli.Context, name string) (json.RawMessage, error) {
	raw := json.RawMessage(c.String(name))
	if !json.Valid(raw) {
		return nil, fmt.Errorf("--%s must be a valid JSON string", name)
	}
	return raw, nil
}

func genCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("missing output directory")
	}

	opts := &bootstrap.GenerateOptions{
		OutDir:                c.Args().First(),
		HostnameTemplate:      c.String("hostname-template"),
		ChainID:               c.String("chain-id"),
		Validators:            c.Int("validators"),
		Fullnodes:             c.Int("fullnodes"),
		NumAccounts:           c.Int("num-accounts"),
		NumTxs:                c.Int("num-txs"),
		ValidatorGenerateLoad: c.Bool("validator-generate-load"),
	}
	var err error
	if opts.GenesisPatch, err = jsonFlag(c, "genesis-patch"); err != nil {
		return err
	}
	if opts.ConfigPatch, err = jsonFlag(c, "config-patch"); err != nil {
		return err
	}
	if opts.AppPatch, err = jsonFlag(c, "app-patch"); err != nil {
		return err
	}

	log := logging.Named("gen")
	bin := &chain.Binary{Path: c.String("chain-binary")}
	peers, err := bootstrap.Generate(ProcessContext(), log, bin, opts)
	if err != nil {
		return err
	}
	log.Infow("network generated", "dir", opts.OutDir, "nodes", len(peers))
	return nil
}
