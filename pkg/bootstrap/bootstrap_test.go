package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/xid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/testground/chainbench/pkg/chain"
	"github.com/testground/chainbench/pkg/chain/chaintest"
	"github.com/testground/chainbench/pkg/instance"
	"github.com/testground/chainbench/pkg/runtime"
	syncsvc "github.com/testground/chainbench/pkg/sync"
)

func startMemoryServer(t *testing.T) string {
	t.Helper()

	service := syncsvc.NewMemoryService(zap.NewNop().Sugar())
	srv, err := syncsvc.NewServer(zap.NewNop().Sugar(), service, "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		if err := srv.Serve(); err != nil && err != http.ErrServerClosed {
			t.Logf("sync server stopped: %s", err)
		}
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = service.Close()
		_ = srv.Shutdown(ctx)
	})
	return srv.URL()
}

type genesisDoc struct {
	Consensus struct {
		Params struct {
			Block struct {
				MaxGas string `json:"max_gas"`
			} `json:"block"`
		} `json:"params"`
	} `json:"consensus"`
	AppState struct {
		Bank struct {
			Balances []chain.GenesisAccount `json:"balances"`
		} `json:"bank"`
		Feemarket struct {
			Params struct {
				NoBaseFee bool `json:"no_base_fee"`
			} `json:"params"`
		} `json:"feemarket"`
		EVM struct {
			Params struct {
				EVMDenom string `json:"evm_denom"`
			} `json:"params"`
		} `json:"evm"`
	} `json:"app_state"`
}

type nodeConfig struct {
	DBBackend string `toml:"db_backend"`
	P2P       struct {
		PersistentPeers string `toml:"persistent_peers"`
		AddrBookStrict  bool   `toml:"addr_book_strict"`
	} `toml:"p2p"`
	Mempool struct {
		Size int `toml:"size"`
	} `toml:"mempool"`
}

type appConfig struct {
	MinimumGasPrices string   `toml:"minimum-gas-prices"`
	IndexEvents      []string `toml:"index-events"`
	EVM              struct {
		BlockExecutor string `toml:"block-executor"`
	} `toml:"evm"`
}

// bootstrapNetwork runs InitCommon and Bootstrap on one instance per entry
// of groups, concurrently, and returns the results in the same order.
func bootstrapNetwork(t *testing.T, groups []string, patch func(*Options)) []*Result {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	url := startMemoryServer(t)
	fake := chaintest.New()
	run := xid.New().String()

	counts := map[string]int{}
	for _, g := range groups {
		counts[g]++
	}

	results := make([]*Result, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	for i, group := range groups {
		i, group := i, group
		params := &runtime.RunParams{
			TestPlan:               "chainbench",
			TestCase:               "entrypoint",
			TestRun:                run,
			TestGroupID:            group,
			TestGroupInstanceCount: counts[group],
			TestInstanceCount:      len(groups),
			TestInstanceParams:     map[string]string{"num_accounts": "2"},
		}
		inst, err := instance.Dial(ctx, zap.NewNop().Sugar(), params, url)
		require.NoError(t, err)
		t.Cleanup(func() { _ = inst.Close() })

		opts, err := OptionsFromParams(params, t.TempDir(), "127.0.0.1")
		require.NoError(t, err)
		if patch != nil {
			patch(opts)
		}

		g.Go(func() error {
			if err := inst.InitCommon(gctx); err != nil {
				return err
			}
			res, err := Bootstrap(gctx, zap.NewNop().Sugar(), inst, fake, opts)
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())
	return results
}

func TestBootstrapNetwork(t *testing.T) {
	groups := []string{runtime.ValidatorGroup, runtime.FullnodeGroup, runtime.FullnodeGroup}
	results := bootstrapNetwork(t, groups, func(o *Options) {
		o.GenesisPatch = json.RawMessage(`{"consensus":{"params":{"block":{"max_gas":"200000000"}}}}`)
		o.ConfigPatch = json.RawMessage(`{"mempool":{"size":20000}}`)
	})

	var validator *Result
	leaders := 0
	for _, r := range results {
		if r.Leadership == instance.Leader {
			leaders++
			require.Equal(t, runtime.FullnodeGroup, r.Self.Group)
		}
		if r.Self.Group == runtime.ValidatorGroup {
			validator = r
		}
	}
	require.Equal(t, 1, leaders)
	require.NotNil(t, validator)

	for _, r := range results {
		// every node holds the very same genesis bytes.
		require.Equal(t, results[0].Genesis, r.Genesis)
		onDisk, err := os.ReadFile(GenesisPath(r.Node.Home))
		require.NoError(t, err)
		require.Equal(t, r.Genesis, onDisk)

		// every node dials the two others.
		peers := strings.Split(r.PersistentPeers, ",")
		require.Len(t, peers, 2)
		require.NotContains(t, peers, r.Self.PeerID)
		for _, p := range results {
			if p != r {
				require.Contains(t, peers, p.Self.PeerID)
			}
		}

		// the validator gentx is included exactly once.
		txs, err := chaintest.DecodeGentxs(r.Node.Home)
		require.NoError(t, err)
		require.Len(t, txs, 1)
		require.Equal(t, validator.Self.NodeID, txs[0].NodeID)

		var cfg nodeConfig
		_, err = toml.DecodeFile(filepath.Join(r.Node.Home, "config", "config.toml"), &cfg)
		require.NoError(t, err)
		require.Equal(t, r.PersistentPeers, cfg.P2P.PersistentPeers)
		require.Equal(t, "rocksdb", cfg.DBBackend)
		require.False(t, cfg.P2P.AddrBookStrict)
		require.Equal(t, 20000, cfg.Mempool.Size)

		var app appConfig
		_, err = toml.DecodeFile(filepath.Join(r.Node.Home, "config", "app.toml"), &app)
		require.NoError(t, err)
		require.Equal(t, "0basecro", app.MinimumGasPrices)
		require.Equal(t, []string{"ethereum_tx.ethereumTxHash"}, app.IndexEvents)
		require.Equal(t, "block-stm", app.EVM.BlockExecutor)
	}

	var doc genesisDoc
	require.NoError(t, json.Unmarshal(results[0].Genesis, &doc))
	require.Equal(t, "200000000", doc.Consensus.Params.Block.MaxGas)
	require.Equal(t, chain.DefaultDenom, doc.AppState.EVM.Params.EVMDenom)
	require.True(t, doc.AppState.Feemarket.Params.NoBaseFee)
	// one validator account and two test accounts per instance.
	require.Len(t, doc.AppState.Bank.Balances, 3*3)

	var accounts []chain.GenesisAccount
	for _, p := range results[0].Peers {
		accounts = append(accounts, p.Accounts...)
	}
	require.Equal(t, accounts, doc.AppState.Bank.Balances)
}

func TestBootstrapValidatorsOnly(t *testing.T) {
	groups := []string{runtime.ValidatorGroup, runtime.ValidatorGroup}
	results := bootstrapNetwork(t, groups, nil)

	leaders := 0
	for _, r := range results {
		if r.Leadership == instance.Leader {
			leaders++
		}
		require.Equal(t, results[0].Genesis, r.Genesis)

		txs, err := chaintest.DecodeGentxs(r.Node.Home)
		require.NoError(t, err)
		require.Len(t, txs, 2)
	}
	require.Equal(t, 1, leaders)

	var doc genesisDoc
	require.NoError(t, json.Unmarshal(results[0].Genesis, &doc))
	require.Len(t, doc.AppState.Bank.Balances, 2*3)
}

func TestGenesisLeadership(t *testing.T) {
	mixed := []chain.PeerPacket{{Group: runtime.ValidatorGroup}, {Group: runtime.FullnodeGroup}}
	validatorsOnly := []chain.PeerPacket{{Group: runtime.ValidatorGroup}, {Group: runtime.ValidatorGroup}}

	globalLeader := instance.Roles{GlobalSeq: 1, GroupSeq: 1, Global: instance.Leader, Group: instance.Leader}
	groupLeader := instance.Roles{GlobalSeq: 2, GroupSeq: 1, Group: instance.Leader}

	require.Equal(t, instance.Follower, GenesisLeadership(globalLeader, runtime.ValidatorGroup, mixed))
	require.Equal(t, instance.Leader, GenesisLeadership(groupLeader, runtime.FullnodeGroup, mixed))
	require.Equal(t, instance.Leader, GenesisLeadership(globalLeader, runtime.ValidatorGroup, validatorsOnly))
	require.Equal(t, instance.Follower, GenesisLeadership(groupLeader, runtime.ValidatorGroup, validatorsOnly))
}

func TestOptionsFromParams(t *testing.T) {
	params := &runtime.RunParams{TestInstanceParams: map[string]string{
		"chain_id":      "testnet_9000-1",
		"num_accounts":  "5",
		"genesis_patch": `{"app_state":{}}`,
	}}
	opts, err := OptionsFromParams(params, "/home", "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, "testnet_9000-1", opts.ChainID)
	require.Equal(t, 5, opts.NumAccounts)
	require.Equal(t, json.RawMessage(`{"app_state":{}}`), opts.GenesisPatch)
	require.Nil(t, opts.AppPatch)

	params.TestInstanceParams["app_patch"] = "{"
	_, err = OptionsFromParams(params, "/home", "10.0.0.1")
	require.Error(t, err)
}

func TestGenerate(t *testing.T) {
	out := t.TempDir()
	fake := chaintest.New()

	peers, err := Generate(context.Background(), zap.NewNop().Sugar(), fake, &GenerateOptions{
		OutDir:      out,
		ChainID:     runtime.DefaultChainID,
		Validators:  2,
		Fullnodes:   1,
		NumAccounts: 1,
		NumTxs:      10,
	})
	require.NoError(t, err)
	require.Len(t, peers, 3)
	require.Equal(t, "testplan-2", peers[2].IP)

	leaderGenesis, err := os.ReadFile(GenesisPath(NodeHome(out, runtime.FullnodeGroup, 0)))
	require.NoError(t, err)
	for _, home := range []string{
		NodeHome(out, runtime.ValidatorGroup, 0),
		NodeHome(out, runtime.ValidatorGroup, 1),
	} {
		b, err := os.ReadFile(GenesisPath(home))
		require.NoError(t, err)
		require.Equal(t, leaderGenesis, b)

		txs, err := chaintest.DecodeGentxs(home)
		require.NoError(t, err)
		require.Len(t, txs, 2)
	}

	var summary Summary
	b, err := os.ReadFile(filepath.Join(out, "config.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &summary))
	require.Equal(t, Summary{Validators: 2, Fullnodes: 1, NumAccounts: 1, NumTxs: 10}, summary)
}
