package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/testground/chainbench/pkg/cmd"
	"github.com/testground/chainbench/pkg/logging"
)

func main() {
	app := cli.NewApp()
	app.Name = "chainbench"
	app.Usage = "bootstrap and benchmark a chain network across test instances"
	app.Description = "chainbench coordinates the instances of a benchmark run through a sync service: " +
		"they exchange peer information, agree on a single genesis, connect in a full mesh and halt together."
	app.Commands = cmd.RootCommands
	app.Flags = cmd.RootFlags
	// Disable the built-in -v flag (version), to avoid collisions with the
	// verbosity flags.
	app.HideVersion = true
	app.Before = configureLogging

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func configureLogging(c *cli.Context) error {
	if logging.IsTerminal() {
		logging.ConsoleMode()
	}

	// The LOG_LEVEL environment variable takes precedence.
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		return logging.SetLevelString(level)
	}

	// Apply verbosity flags.
	if c.Bool("v") || c.Bool("vv") {
		logging.SetLevel(zapcore.DebugLevel)
	}
	return nil
}
