package chain

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
)

const (
	DefaultDenom     = "basecro"
	ValidatorAccount = "validator"
	Bech32Prefix     = "crc"
	MempoolSize      = 10000
	P2PPort          = 26656
	RPCPort          = 26657
)

var (
	ValidatorInitialAmount = Balance{Amount: "100000000000000000000", Denom: DefaultDenom}
	ValidatorStakedAmount  = Balance{Amount: "10000000000000000000", Denom: DefaultDenom}
	AccountInitialAmount   = Balance{Amount: "10000000000000000000000000", Denom: DefaultDenom}
)

type Balance struct {
	Amount string `json:"amount" validate:"required,numeric"`
	Denom  string `json:"denom" validate:"required"`
}

func (b Balance) String() string {
	return b.Amount + b.Denom
}

type GenesisAccount struct {
	Address string    `json:"address" validate:"required"`
	Coins   []Balance `json:"coins" validate:"required,dive"`
}

// PeerPacket is what every instance contributes to the network: how to reach
// it, the accounts to fund in genesis and, for validators, the signed
// genesis transaction.
type PeerPacket struct {
	Group    string           `json:"group" validate:"required"`
	IP       string           `json:"ip" validate:"required,ip|hostname_rfc1123"`
	NodeID   string           `json:"node_id" validate:"required"`
	PeerID   string           `json:"peer_id" validate:"required"`
	Accounts []GenesisAccount `json:"accounts" validate:"dive"`
	Gentx    json.RawMessage  `json:"gentx,omitempty"`
}

var validate = validator.New()

// ValidatePeers checks every packet and reports all the problems found.
func ValidatePeers(peers []PeerPacket) error {
	var merr *multierror.Error
	seen := make(map[string]int, len(peers))
	for i := range peers {
		if err := validate.Struct(&peers[i]); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("peer %d: %w", i, err))
		}
		if j, ok := seen[peers[i].NodeID]; ok && peers[i].NodeID != "" {
			merr = multierror.Append(merr, fmt.Errorf("peer %d: node id %s already used by peer %d", i, peers[i].NodeID, j))
		}
		seen[peers[i].NodeID] = i
	}
	return merr.ErrorOrNil()
}

// DecodePeers unmarshals the packets collected from the peers topic.
func DecodePeers(items []json.RawMessage) ([]PeerPacket, error) {
	peers := make([]PeerPacket, len(items))
	for i, item := range items {
		if err := json.Unmarshal(item, &peers[i]); err != nil {
			return nil, fmt.Errorf("failed to decode peer packet %d: %w", i, err)
		}
	}
	return peers, nil
}
