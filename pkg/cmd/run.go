package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/testground/chainbench/pkg/bootstrap"
	"github.com/testground/chainbench/pkg/chain"
	"github.com/testground/chainbench/pkg/instance"
	"github.com/testground/chainbench/pkg/logging"
	"github.com/testground/chainbench/pkg/network"
	"github.com/testground/chainbench/pkg/runtime"
)

const (
	HaltState = "halt"

	nodeStopGrace = 5 * time.Second
)

// RunCommand is the `run` command.
var RunCommand = cli.Command{
	Name:   "run",
	Usage:  "run the test case of this instance; run parameters are read from the environment",
	Action: runCommand,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "chain-binary",
			Usage: "`PATH` of the chain binary (overrides .env.toml)",
		},
		&cli.StringFlag{
			Name:  "home",
			Usage: "node home `DIR` (overrides .env.toml)",
		},
		&cli.DurationFlag{
			Name:  "bootstrap-timeout",
			Usage: "give up when the network is not bootstrapped after this long; 0 waits forever",
		},
		&cli.DurationFlag{
			Name:  "rpc-timeout",
			Usage: "how long to wait for the node RPC port to open",
			Value: 2 * time.Minute,
		},
		&cli.DurationFlag{
			Name:  "poll-interval",
			Usage: "interval between two block height checks",
			Value: time.Second,
		},
	},
}

// testcase runs the body of a test case once the instance is connected.
type testcase func(ctx context.Context, env *caseEnv) error

type caseEnv struct {
	log  *zap.SugaredLogger
	inst *instance.Instance
	bin  *chain.Binary
	home string

	bootstrapTimeout time.Duration
	rpcTimeout       time.Duration
	pollInterval     time.Duration
}

var testcases = map[string]testcase{
	"entrypoint": entrypoint,
}

func runCommand(c *cli.Context) error {
	ctx := ProcessContext()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if v := c.String("chain-binary"); v != "" {
		cfg.Chain.Binary = v
	}
	if v := c.String("home"); v != "" {
		cfg.Chain.Home = v
	}

	params, err := runtime.CurrentRunParams()
	if err != nil {
		return err
	}
	tc, ok := testcases[params.TestCase]
	if !ok {
		return fmt.Errorf("unknown test case %q", params.TestCase)
	}
	if params.TestTempPath != "" {
		if err := os.Setenv("TMPDIR", params.TestTempPath); err != nil {
			return err
		}
	}

	log := logging.Named("run").With("run", params.TestRun, "group", params.TestGroupID)
	inst, err := instance.Dial(ctx, log, params, cfg.Sync.URL)
	if err != nil {
		return err
	}
	defer inst.Close()

	env := &caseEnv{
		log:              log,
		inst:             inst,
		bin:              &chain.Binary{Path: cfg.Chain.Binary},
		home:             cfg.Chain.Home,
		bootstrapTimeout: c.Duration("bootstrap-timeout"),
		rpcTimeout:       c.Duration("rpc-timeout"),
		pollInterval:     c.Duration("poll-interval"),
	}
	if err := tc(ctx, env); err != nil {
		inst.RecordFailure(ctx, err)
		return err
	}
	inst.RecordSuccess(ctx)
	return nil
}

// entrypoint builds the network collectively, runs the node until the halt
// height and stops all nodes together.
func entrypoint(ctx context.Context, env *caseEnv) error {
	inst, params := env.inst, env.inst.Params

	if err := inst.InitCommon(ctx); err != nil {
		return err
	}

	ip, err := network.DataIP(params)
	if err != nil {
		return err
	}
	opts, err := bootstrap.OptionsFromParams(params, env.home, ip.String())
	if err != nil {
		return err
	}
	halt, err := params.HaltHeight()
	if err != nil {
		return err
	}

	bctx := ctx
	if env.bootstrapTimeout > 0 {
		var cancel context.CancelFunc
		bctx, cancel = context.WithTimeout(ctx, env.bootstrapTimeout)
		defer cancel()
	}
	if _, err := bootstrap.Bootstrap(bctx, env.log, inst, env.bin, opts); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	proc, err := env.bin.Start(ctx, os.Stdout, chain.Args([]string{"start"}, chain.F("home", env.home))...)
	if err != nil {
		return err
	}
	defer stopNode(env.log, proc)

	if err := network.WaitForPort(ctx, "127.0.0.1", chain.RPCPort, env.rpcTimeout); err != nil {
		return err
	}
	env.log.Infow("node started, waiting for halt height", "height", halt)

	if err := chain.WaitForBlock(ctx, env.bin, env.home, halt, env.pollInterval); err != nil {
		return err
	}

	if _, err := inst.Client.SignalAndWait(ctx, HaltState, params.TestInstanceCount); err != nil {
		return err
	}
	env.log.Infow("all nodes reached halt height")
	return nil
}

// stopNode terminates the node, killing it when it does not exit in time.
func stopNode(log *zap.SugaredLogger, proc *exec.Cmd) {
	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()

	if err := proc.Process.Signal(syscall.SIGTERM); err != nil {
		log.Warnw("failed to terminate node", "err", err)
	}
	select {
	case err := <-done:
		log.Debugw("node exited", "err", err)
	case <-time.After(nodeStopGrace):
		log.Warnw("node did not exit in time, killing it")
		_ = proc.Process.Kill()
		<-done
	}
}
