package cmd

import "github.com/urfave/cli/v2"

// RootCommands collects all subcommands of the chainbench CLI.
var RootCommands = cli.Commands{
	&RunCommand,
	&SyncCommand,
	&GenCommand,
	&EventsCommand,
	&HealthcheckCommand,
}

var RootFlags = []cli.Flag{
	&cli.BoolFlag{
		Name:  "v",
		Usage: "verbose output (equivalent to DEBUG log level)",
	},
	&cli.BoolFlag{
		Name:  "vv",
		Usage: "super verbose output (equivalent to DEBUG log level for now, it may accommodate TRACE in the future)",
	},
	&cli.StringFlag{
		Name:  "sync-url",
		Usage: "websocket `URL` of the sync service (overrides .env.toml and SYNC_SERVICE_HOST/PORT)",
	},
}
