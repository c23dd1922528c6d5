package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/logrusorgru/aurora"
	"github.com/urfave/cli/v2"

	"github.com/testground/chainbench/pkg/logging"
	"github.com/testground/chainbench/pkg/runtime"
	"github.com/testground/chainbench/sdk/sync"
)

var EventsCommand = cli.Command{
	Name:   "events",
	Usage:  "follow the events of a run",
	Action: eventsCommand,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "plan", Value: "chainbench"},
		&cli.StringFlag{Name: "case", Value: "entrypoint"},
		&cli.StringFlag{Name: "run", Usage: "run `ID`", Required: true},
		&cli.IntFlag{
			Name:  "instances",
			Usage: "stop once this many instances have reported an outcome; 0 follows forever",
		},
	},
}

func eventsCommand(c *cli.Context) error {
	ctx := ProcessContext()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	keys := &runtime.RunParams{
		TestPlan: c.String("plan"),
		TestCase: c.String("case"),
		TestRun:  c.String("run"),
	}

	log := logging.Named("events")
	client, err := sync.NewClient(ctx, log, cfg.Sync.URL, keys)
	if err != nil {
		return err
	}
	defer client.Close()

	sub, err := client.SubscribeEvents(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	au := aurora.NewAurora(logging.IsTerminal())
	var (
		expected          = c.Int("instances")
		success, failures int
	)
	for expected == 0 || success+failures < expected {
		raw, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		var evt runtime.Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			log.Warnw("skipping malformed event", "err", err)
			continue
		}

		switch evt.Type() {
		case "success":
			success++
			fmt.Println(au.Green(evt.String()))
		case "failure":
			failures++
			fmt.Println(au.Red(evt.String()))
		case "stage_start", "stage_end":
			fmt.Println(au.Cyan(evt.String()))
		default:
			fmt.Println(evt.String())
		}
	}

	fmt.Printf("%d succeeded, %d failed\n", success, failures)
	if failures > 0 {
		return errors.New("run reported failures")
	}
	return nil
}
