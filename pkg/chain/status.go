package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
)

type syncInfo struct {
	LatestBlockHeight string `json:"latest_block_height"`
}

type nodeStatus struct {
	SyncInfo       *syncInfo `json:"sync_info"`
	LegacySyncInfo *syncInfo `json:"SyncInfo"`
}

// BlockHeight asks the node behind home for its latest block height.
func BlockHeight(ctx context.Context, cmd Command, home string) (int, error) {
	out, err := cmd.Run(ctx, nil, Args([]string{"status"}, F("home", home), F("output", "json"))...)
	if err != nil {
		return 0, err
	}

	var st nodeStatus
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		return 0, fmt.Errorf("failed to parse node status: %w", err)
	}
	info := st.SyncInfo
	if info == nil {
		info = st.LegacySyncInfo
	}
	if info == nil {
		return 0, fmt.Errorf("node status carries no sync info")
	}
	return strconv.Atoi(info.LatestBlockHeight)
}

// WaitForBlock polls the node until it reports a height of at least target.
func WaitForBlock(ctx context.Context, cmd Command, home string, target int, interval time.Duration) error {
	return retry.Do(ctx, constantBackoff(interval), func(ctx context.Context) error {
		h, err := BlockHeight(ctx, cmd, home)
		if err != nil {
			return retry.RetryableError(err)
		}
		if h < target {
			return retry.RetryableError(fmt.Errorf("block height %d below %d", h, target))
		}
		return nil
	})
}

// constantBackoff retries every interval until the context is done.
func constantBackoff(interval time.Duration) retry.Backoff {
	return retry.BackoffFunc(func() (time.Duration, bool) {
		return interval, false
	})
}
