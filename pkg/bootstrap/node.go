package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/testground/chainbench/pkg/chain"
	"github.com/testground/chainbench/pkg/runtime"
)

// passphrase answers the keyring prompt of the test backend.
var passphrase = []byte("00000000\n")

// NodeOptions identify the node to initialize.
type NodeOptions struct {
	Home        string
	ChainID     string
	Group       string
	GroupSeq    int
	GlobalSeq   int
	IP          string
	NumAccounts int
}

// Node is an initialized node home and the packet it contributes.
type Node struct {
	Home   string
	Packet chain.PeerPacket

	chainID string
	// pristine is the genesis written by init, before the validator funded
	// itself.
	pristine []byte
}

// GenesisPath is the location of the genesis file in a node home.
func GenesisPath(home string) string {
	return filepath.Join(home, "config", "genesis.json")
}

func (n *Node) flags() []chain.Flag {
	return []chain.Flag{
		chain.F("home", n.Home),
		chain.F("chain_id", n.chainID),
		chain.F("keyring_backend", "test"),
	}
}

func (n *Node) run(ctx context.Context, cmd chain.Command, stdin []byte, positional []string, flags ...chain.Flag) (string, error) {
	return cmd.Run(ctx, stdin, chain.Args(positional, append(flags, n.flags()...)...)...)
}

// InitNode creates the node home, imports its validator key, derives its
// funded accounts and, for validators, signs the genesis transaction.
func InitNode(ctx context.Context, cmd chain.Command, opts NodeOptions) (*Node, error) {
	n := &Node{Home: opts.Home, chainID: opts.ChainID}

	moniker := fmt.Sprintf("%s-%d", opts.Group, opts.GroupSeq)
	if _, err := n.run(ctx, cmd, nil, []string{"init", moniker}, chain.F("default_denom", chain.DefaultDenom)); err != nil {
		return nil, fmt.Errorf("failed to init node: %w", err)
	}

	pristine, err := os.ReadFile(GenesisPath(n.Home))
	if err != nil {
		return nil, err
	}
	n.pristine = pristine

	val, err := chain.GenAccount(opts.GlobalSeq, 0)
	if err != nil {
		return nil, err
	}
	if _, err := n.run(ctx, cmd, passphrase, []string{"keys", "unsafe-import-eth-key", chain.ValidatorAccount, val.KeyHex()}); err != nil {
		return nil, fmt.Errorf("failed to import validator key: %w", err)
	}

	accounts, err := genesisAccounts(opts.GlobalSeq, opts.NumAccounts)
	if err != nil {
		return nil, err
	}

	nodeID, err := n.run(ctx, cmd, nil, []string{"comet", "show-node-id"})
	if err != nil {
		return nil, fmt.Errorf("failed to read node id: %w", err)
	}

	n.Packet = chain.PeerPacket{
		Group:    opts.Group,
		IP:       opts.IP,
		NodeID:   nodeID,
		PeerID:   fmt.Sprintf("%s@%s:%d", nodeID, opts.IP, chain.P2PPort),
		Accounts: accounts,
	}

	if opts.Group == runtime.ValidatorGroup {
		if n.Packet.Gentx, err = n.gentx(ctx, cmd); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// genesisAccounts lists the validator account followed by numAccounts funded
// test accounts.
func genesisAccounts(globalSeq, numAccounts int) ([]chain.GenesisAccount, error) {
	out := make([]chain.GenesisAccount, 0, numAccounts+1)
	for i := 0; i <= numAccounts; i++ {
		acc, err := chain.GenAccount(globalSeq, i)
		if err != nil {
			return nil, err
		}
		addr, err := chain.EthToBech32(acc.Address, chain.Bech32Prefix)
		if err != nil {
			return nil, err
		}
		coin := chain.AccountInitialAmount
		if i == 0 {
			coin = chain.ValidatorInitialAmount
		}
		out = append(out, chain.GenesisAccount{Address: addr, Coins: []chain.Balance{coin}})
	}
	return out, nil
}

func (n *Node) gentx(ctx context.Context, cmd chain.Command) (json.RawMessage, error) {
	if _, err := n.run(ctx, cmd, nil, []string{"genesis", "add-genesis-account", chain.ValidatorAccount, chain.ValidatorInitialAmount.String()}); err != nil {
		return nil, fmt.Errorf("failed to fund validator: %w", err)
	}

	tmp, err := os.MkdirTemp("", "gentx")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	out := filepath.Join(tmp, "gentx.json")
	_, err = n.run(ctx, cmd, nil,
		[]string{"genesis", "gentx", chain.ValidatorAccount, chain.ValidatorStakedAmount.String()},
		chain.F("min_self_delegation", 1),
		chain.F("output_document", out),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gentx: %w", err)
	}

	raw, err := os.ReadFile(out)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("invalid gentx: %w", err)
	}
	return buf.Bytes(), nil
}

// ResetGenesis restores the genesis written by init. A validator leading
// genesis assembly calls it so its own account is not funded twice.
func (n *Node) ResetGenesis() error {
	return os.WriteFile(GenesisPath(n.Home), n.pristine, 0o644)
}

// WriteGenesis installs genesis verbatim and has the chain validate it.
func (n *Node) WriteGenesis(ctx context.Context, cmd chain.Command, genesis []byte) error {
	if err := os.WriteFile(GenesisPath(n.Home), genesis, 0o644); err != nil {
		return err
	}
	if _, err := cmd.Run(ctx, nil, chain.Args([]string{"genesis", "validate"}, chain.F("home", n.Home))...); err != nil {
		return fmt.Errorf("received invalid genesis: %w", err)
	}
	return nil
}
