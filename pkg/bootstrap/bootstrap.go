// Package bootstrap turns a set of freshly started instances into a chain
// network. Every instance initializes its own node and shares a peer packet;
// a single leader assembles the genesis from all packets and hands it out;
// every node then dials all the others.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/testground/chainbench/pkg/chain"
	"github.com/testground/chainbench/pkg/instance"
	"github.com/testground/chainbench/pkg/runtime"
	"github.com/testground/chainbench/pkg/topology"
)

const (
	PeersTopic   = "peers"
	GenesisTopic = "genesis"

	StageBootstrap = "bootstrap"
)

// Options configure the node an instance bootstraps.
type Options struct {
	Home        string
	IP          string
	ChainID     string
	NumAccounts int

	GenesisPatch interface{}
	ConfigPatch  interface{}
	AppPatch     interface{}
}

// OptionsFromParams reads the chain settings of the run from its instance
// params.
func OptionsFromParams(params *runtime.RunParams, home, ip string) (*Options, error) {
	numAccounts, err := params.NumAccounts()
	if err != nil {
		return nil, err
	}
	opts := &Options{
		Home:        home,
		IP:          ip,
		ChainID:     params.ChainID(),
		NumAccounts: numAccounts,
	}

	patches := map[string]*interface{}{
		"genesis_patch": &opts.GenesisPatch,
		"config_patch":  &opts.ConfigPatch,
		"app_patch":     &opts.AppPatch,
	}
	for name, dst := range patches {
		var raw json.RawMessage
		set, err := params.JSONParam(name, &raw)
		if err != nil {
			return nil, err
		}
		if set {
			*dst = raw
		}
	}
	return opts, nil
}

// Result describes the bootstrapped node.
type Result struct {
	Node            *Node
	Self            chain.PeerPacket
	Peers           []chain.PeerPacket
	Genesis         []byte
	PersistentPeers string
	Leadership      instance.Leadership
}

// GenesisLeadership decides whether an instance assembles the genesis. When
// the network has full nodes the leader of the full node group does it,
// otherwise the global leader does. Exactly one instance of a run is leader.
func GenesisLeadership(roles instance.Roles, group string, peers []chain.PeerPacket) instance.Leadership {
	for _, p := range peers {
		if p.Group == runtime.FullnodeGroup {
			if group == runtime.FullnodeGroup {
				return roles.Group
			}
			return instance.Follower
		}
	}
	return roles.Global
}

// Bootstrap runs the bootstrap protocol for inst. Every instance of the run
// must call it; it blocks until all of them have shared their packets and the
// genesis has been distributed.
func Bootstrap(ctx context.Context, log *zap.SugaredLogger, inst *instance.Instance, cmd chain.Command, opts *Options) (*Result, error) {
	roles, err := inst.Roles()
	if err != nil {
		return nil, err
	}
	params := inst.Params

	inst.RecordStageStart(ctx, StageBootstrap)

	node, err := InitNode(ctx, cmd, NodeOptions{
		Home:        opts.Home,
		ChainID:     opts.ChainID,
		Group:       params.TestGroupID,
		GroupSeq:    int(roles.GroupSeq),
		GlobalSeq:   int(roles.GlobalSeq),
		IP:          opts.IP,
		NumAccounts: opts.NumAccounts,
	})
	if err != nil {
		return nil, err
	}
	log.Infow("node initialized", "peer_id", node.Packet.PeerID, "accounts", len(node.Packet.Accounts))

	items, err := inst.Client.PublishSubscribeN(ctx, PeersTopic, &node.Packet, params.TestInstanceCount)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange peer packets: %w", err)
	}
	peers, err := chain.DecodePeers(items)
	if err != nil {
		return nil, err
	}
	if err := chain.ValidatePeers(peers); err != nil {
		return nil, err
	}
	if !containsPeer(peers, node.Packet.PeerID) {
		return nil, fmt.Errorf("own packet %s missing from peers", node.Packet.PeerID)
	}
	log.Infow("peer packets collected", "peers", len(peers))

	res := &Result{
		Node:       node,
		Self:       node.Packet,
		Peers:      peers,
		Leadership: GenesisLeadership(roles, params.TestGroupID, peers),
	}

	if res.Leadership == instance.Leader {
		if params.IsValidator() {
			if err := node.ResetGenesis(); err != nil {
				return nil, err
			}
		}
		if res.Genesis, err = GenGenesis(ctx, cmd, node.Home, peers, opts.GenesisPatch); err != nil {
			return nil, err
		}
		if _, err := inst.Client.Publish(ctx, GenesisTopic, json.RawMessage(res.Genesis)); err != nil {
			return nil, fmt.Errorf("failed to publish genesis: %w", err)
		}
		log.Infow("genesis published", "bytes", len(res.Genesis))
	} else {
		items, err := inst.Client.SubscribeN(ctx, GenesisTopic, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to receive genesis: %w", err)
		}
		res.Genesis = items[0]
		if err := node.WriteGenesis(ctx, cmd, res.Genesis); err != nil {
			return nil, err
		}
		log.Infow("genesis received", "bytes", len(res.Genesis))
	}

	res.PersistentPeers = topology.ConnectAll(node.Packet, peers)
	if err := PatchConfigs(node.Home, res.PersistentPeers, opts.ConfigPatch, opts.AppPatch); err != nil {
		return nil, err
	}

	inst.RecordStageEnd(ctx, StageBootstrap)
	return res, nil
}

func containsPeer(peers []chain.PeerPacket, peerID string) bool {
	for _, p := range peers {
		if p.PeerID == peerID {
			return true
		}
	}
	return false
}
