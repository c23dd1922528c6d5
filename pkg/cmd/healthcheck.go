package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/urfave/cli/v2"
)

var HealthcheckCommand = cli.Command{
	Name:   "healthcheck",
	Usage:  "checks that the sync service is up and serving",
	Action: healthcheckCommand,
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "how long to wait for the sync service to answer",
			Value: 10 * time.Second,
		},
	},
}

func healthcheckCommand(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(ProcessContext(), c.Duration("timeout"))
	defer cancel()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	endpoint, err := healthURL(cfg.Sync.URL)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("sync service unreachable: %w", err)
	}
	defer resp.Body.Close()

	var status struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode health status: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sync service unhealthy: %s (%d)", status.Status, resp.StatusCode)
	}

	fmt.Printf("sync service at %s: %s\n", cfg.Sync.URL, status.Status)
	return nil
}

// healthURL maps the websocket url of the sync service to its health endpoint.
func healthURL(syncURL string) (string, error) {
	u, err := url.Parse(syncURL)
	if err != nil {
		return "", fmt.Errorf("invalid sync url %s: %w", syncURL, err)
	}
	switch u.Scheme {
	case "ws", "http":
		u.Scheme = "http"
	case "wss", "https":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported sync url scheme %q", u.Scheme)
	}
	u.Path = "/healthz"
	return u.String(), nil
}
