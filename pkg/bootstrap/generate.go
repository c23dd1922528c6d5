package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/testground/chainbench/pkg/chain"
	"github.com/testground/chainbench/pkg/runtime"
	"github.com/testground/chainbench/pkg/topology"
)

// DefaultHostnameTemplate names the hosts of a generated network; {index} is
// replaced with the global index of the node.
const DefaultHostnameTemplate = "testplan-{index}"

// GenerateOptions describe a network generated ahead of time, without a sync
// service.
type GenerateOptions struct {
	OutDir           string
	HostnameTemplate string
	ChainID          string
	Validators       int
	Fullnodes        int
	NumAccounts      int
	NumTxs           int

	ValidatorGenerateLoad bool

	GenesisPatch interface{}
	ConfigPatch  interface{}
	AppPatch     interface{}
}

// Summary is written next to the generated homes.
type Summary struct {
	Validators            int  `json:"validators"`
	Fullnodes             int  `json:"fullnodes"`
	NumAccounts           int  `json:"num_accounts"`
	NumTxs                int  `json:"num_txs"`
	ValidatorGenerateLoad bool `json:"validator-generate-load"`
}

// NodeHome is where Generate puts the home of the i-th node of group.
func NodeHome(outDir, group string, i int) string {
	return filepath.Join(outDir, group, strconv.Itoa(i))
}

// Generate initializes every node home of a network under opts.OutDir,
// assembles the genesis and patches every node with it. Global indices are
// 0-based: validators first, then full nodes.
func Generate(ctx context.Context, log *zap.SugaredLogger, cmd chain.Command, opts *GenerateOptions) ([]chain.PeerPacket, error) {
	if opts.Validators < 1 {
		return nil, fmt.Errorf("a network needs at least one validator")
	}
	tmpl := opts.HostnameTemplate
	if tmpl == "" {
		tmpl = DefaultHostnameTemplate
	}

	type member struct {
		group string
		seq   int
	}
	var members []member
	for i := 0; i < opts.Validators; i++ {
		members = append(members, member{runtime.ValidatorGroup, i})
	}
	for i := 0; i < opts.Fullnodes; i++ {
		members = append(members, member{runtime.FullnodeGroup, i})
	}

	nodes := make([]*Node, len(members))
	peers := make([]chain.PeerPacket, len(members))
	for global, m := range members {
		home := NodeHome(opts.OutDir, m.group, m.seq)
		if err := os.MkdirAll(home, 0o755); err != nil {
			return nil, err
		}
		log.Infow("init node", "group", m.group, "seq", m.seq)

		n, err := InitNode(ctx, cmd, NodeOptions{
			Home:        home,
			ChainID:     opts.ChainID,
			Group:       m.group,
			GroupSeq:    m.seq,
			GlobalSeq:   global,
			IP:          strings.ReplaceAll(tmpl, "{index}", strconv.Itoa(global)),
			NumAccounts: opts.NumAccounts,
		})
		if err != nil {
			return nil, err
		}
		nodes[global], peers[global] = n, n.Packet
	}
	if err := chain.ValidatePeers(peers); err != nil {
		return nil, err
	}

	// full node 0 assembles the genesis; validator 0 when there are none.
	leader := nodes[0]
	if opts.Fullnodes > 0 {
		leader = nodes[opts.Validators]
	} else if err := leader.ResetGenesis(); err != nil {
		return nil, err
	}

	log.Infow("prepare genesis", "home", leader.Home)
	genesis, err := GenGenesis(ctx, cmd, leader.Home, peers, opts.GenesisPatch)
	if err != nil {
		return nil, err
	}

	for _, n := range nodes {
		if n != leader {
			if err := os.WriteFile(GenesisPath(n.Home), genesis, 0o644); err != nil {
				return nil, err
			}
		}
		if err := PatchConfigs(n.Home, topology.ConnectAll(n.Packet, peers), opts.ConfigPatch, opts.AppPatch); err != nil {
			return nil, err
		}
	}

	summary, err := json.Marshal(&Summary{
		Validators:            opts.Validators,
		Fullnodes:             opts.Fullnodes,
		NumAccounts:           opts.NumAccounts,
		NumTxs:                opts.NumTxs,
		ValidatorGenerateLoad: opts.ValidatorGenerateLoad,
	})
	if err != nil {
		return nil, err
	}
	return peers, os.WriteFile(filepath.Join(opts.OutDir, "config.json"), summary, 0o644)
}
