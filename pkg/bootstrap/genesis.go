package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/testground/chainbench/pkg/chain"
)

// DefaultGenesisPatch is applied to every generated genesis before the user
// supplied patch.
func DefaultGenesisPatch() chain.Document {
	return chain.Document{
		"consensus": chain.Document{
			"params": chain.Document{"block": chain.Document{"max_gas": "163000000"}},
		},
		"app_state": chain.Document{
			"evm":       chain.Document{"params": chain.Document{"evm_denom": chain.DefaultDenom}},
			"feemarket": chain.Document{"params": chain.Document{"no_base_fee": true}},
		},
	}
}

// DefaultConfigPatch is applied to config.toml of every node.
func DefaultConfigPatch() chain.Document {
	return chain.Document{
		"db_backend": "rocksdb",
		"p2p":        chain.Document{"addr_book_strict": false},
		"mempool": chain.Document{
			"recheck": false,
			"size":    chain.MempoolSize,
		},
		"consensus": chain.Document{"timeout_commit": "1s"},
		"tx_index":  chain.Document{"indexer": "null"},
	}
}

// DefaultAppPatch is applied to app.toml of every node.
func DefaultAppPatch() chain.Document {
	return chain.Document{
		"minimum-gas-prices": "0" + chain.DefaultDenom,
		"index-events":       []string{"ethereum_tx.ethereumTxHash"},
		"memiavl": chain.Document{
			"enable":     true,
			"cache-size": 0,
		},
		"mempool": chain.Document{"max-txs": chain.MempoolSize},
		"evm": chain.Document{
			"block-executor":         "block-stm",
			"block-stm-workers":      0,
			"block-stm-pre-estimate": true,
		},
		"json-rpc": chain.Document{"enable-indexer": true},
	}
}

// GenGenesis assembles the genesis of the network in home from the packets of
// all peers and returns the bytes written. Accounts and genesis transactions
// are laid out in peer order.
func GenGenesis(ctx context.Context, cmd chain.Command, home string, peers []chain.PeerPacket, patch interface{}) ([]byte, error) {
	tmp, err := os.MkdirTemp("", "genesis")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	accounts, err := collectAccounts(peers)
	if err != nil {
		return nil, err
	}
	accountsFile := filepath.Join(tmp, "accounts.json")
	if err := os.WriteFile(accountsFile, accounts, 0o644); err != nil {
		return nil, err
	}
	if _, err := cmd.Run(ctx, nil, chain.Args([]string{"genesis", "bulk-add-genesis-account", accountsFile}, chain.F("home", home))...); err != nil {
		return nil, fmt.Errorf("failed to add genesis accounts: %w", err)
	}

	gentxDir := filepath.Join(tmp, "gentxs")
	if err := writeGentxs(gentxDir, peers); err != nil {
		return nil, err
	}
	if _, err := cmd.Run(ctx, nil, chain.Args([]string{"genesis", "collect-gentxs"}, chain.F("gentx_dir", gentxDir), chain.F("home", home))...); err != nil {
		return nil, fmt.Errorf("failed to collect gentxs: %w", err)
	}

	if _, err := cmd.Run(ctx, nil, chain.Args([]string{"genesis", "validate"}, chain.F("home", home))...); err != nil {
		return nil, fmt.Errorf("generated genesis is invalid: %w", err)
	}

	merged, err := chain.MergePatch(DefaultGenesisPatch(), patch)
	if err != nil {
		return nil, err
	}
	return chain.PatchJSON(GenesisPath(home), merged)
}

// collectAccounts concatenates the accounts of every peer, in peer order, into
// the list bulk-add-genesis-account reads.
func collectAccounts(peers []chain.PeerPacket) ([]byte, error) {
	fragments := make([]interface{}, 0, len(peers))
	for _, p := range peers {
		if len(p.Accounts) == 0 {
			continue
		}
		fragments = append(fragments, map[string]interface{}{"accounts": p.Accounts})
	}
	doc, err := chain.MergeAppend(fragments...)
	if err != nil {
		return nil, fmt.Errorf("failed to collect accounts: %w", err)
	}
	accounts, ok := doc["accounts"]
	if !ok {
		accounts = []interface{}{}
	}
	return json.Marshal(accounts)
}

// writeGentxs writes one file per validator. Names are zero padded so the
// directory order is the peer order.
func writeGentxs(dir string, peers []chain.PeerPacket) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for i, p := range peers {
		if len(p.Gentx) == 0 {
			continue
		}
		name := filepath.Join(dir, fmt.Sprintf("gentx-%04d.json", i))
		if err := os.WriteFile(name, p.Gentx, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// PatchConfigs applies the default node configuration, the user overrides
// and the persistent peers to the config files in home.
func PatchConfigs(home, persistentPeers string, configPatch, appPatch interface{}) error {
	cfg, err := chain.MergePatch(
		DefaultConfigPatch(),
		configPatch,
		chain.Document{"p2p": chain.Document{"persistent_peers": persistentPeers}},
	)
	if err != nil {
		return err
	}
	if err := chain.PatchTOML(filepath.Join(home, "config", "config.toml"), cfg); err != nil {
		return err
	}

	app, err := chain.MergePatch(DefaultAppPatch(), appPatch)
	if err != nil {
		return err
	}
	return chain.PatchTOML(filepath.Join(home, "config", "app.toml"), app)
}
