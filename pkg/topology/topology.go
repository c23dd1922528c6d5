// Package topology decides which peers a node dials on startup.
package topology

import (
	"strings"

	"github.com/testground/chainbench/pkg/chain"
)

// ConnectAll returns the persistent peers of self in a full mesh: the peer id
// of every other peer, comma separated, in the order given.
func ConnectAll(self chain.PeerPacket, peers []chain.PeerPacket) string {
	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		if p.PeerID == self.PeerID {
			continue
		}
		ids = append(ids, p.PeerID)
	}
	return strings.Join(ids, ",")
}
