package runtime

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"time"
)

// ipOffset keeps derived addresses clear of the low range the runner reserves
// for its own services.
const ipOffset = 256

const (
	DefaultNetwork         = "default"
	NetworkConfiguredState = "network-configured"
	RoutingPolicyAllowAll  = "allow_all"
)

// LinkShape is the traffic shaping applied by the sidecar to a link.
type LinkShape struct {
	Latency       time.Duration `json:"latency"`
	Jitter        time.Duration `json:"jitter"`
	Bandwidth     uint64        `json:"bandwidth"`
	Filter        int           `json:"filter"`
	Loss          float32       `json:"loss"`
	Corrupt       float32       `json:"corrupt"`
	CorruptCorr   float32       `json:"corrupt_corr"`
	Reorder       float32       `json:"reorder"`
	ReorderCorr   float32       `json:"reorder_corr"`
	Duplicate     float32       `json:"duplicate"`
	DuplicateCorr float32       `json:"duplicate_corr"`
}

// LinkRule applies a LinkShape to a subnet.
type LinkRule struct {
	LinkShape
	Subnet string `json:"subnet"`
}

// NetworkConfig is the request an instance publishes for the sidecar to
// configure its data network interface.
type NetworkConfig struct {
	Network       string     `json:"network"`
	Enable        bool       `json:"enable"`
	IPv4          string     `json:"IPv4,omitempty"`
	IPv6          *string    `json:"IPv6"`
	Rules         []LinkRule `json:"rules"`
	Default       LinkShape  `json:"default"`
	CallbackState string     `json:"callback_state"`
	RoutingPolicy string     `json:"routing_policy"`
}

// IPAddress derives the data network address of the instance holding the
// given global sequence number.
func (rp *RunParams) IPAddress(seq int) (net.IP, error) {
	base := rp.TestSubnet.IP.To4()
	if base == nil {
		return nil, fmt.Errorf("test subnet %q is not an IPv4 network", rp.TestSubnet.String())
	}
	n := binary.BigEndian.Uint32(base.Mask(rp.TestSubnet.Mask))
	ip := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(ip, n+uint32(seq+ipOffset))
	if !rp.TestSubnet.Contains(ip) {
		return nil, fmt.Errorf("sequence %d does not fit in subnet %s", seq, rp.TestSubnet.String())
	}
	return ip, nil
}

// NetworkConfig builds the sidecar request assigning this instance its
// derived address. The default link is shaped by the optional "latency" and
// "bandwidth" instance params.
func (rp *RunParams) NetworkConfig(globalSeq int, callbackState string) (*NetworkConfig, error) {
	ip, err := rp.IPAddress(globalSeq)
	if err != nil {
		return nil, err
	}
	ones, _ := rp.TestSubnet.Mask.Size()

	var shape LinkShape
	if shape.Bandwidth, err = rp.BytesParam("bandwidth", 0); err != nil {
		return nil, err
	}
	if v, ok := rp.TestInstanceParams["latency"]; ok {
		if shape.Latency, err = parseLatency(v); err != nil {
			return nil, fmt.Errorf("param latency: %w", err)
		}
	}

	return &NetworkConfig{
		Network:       DefaultNetwork,
		Enable:        true,
		IPv4:          ip.String() + "/" + strconv.Itoa(ones),
		Default:       shape,
		CallbackState: callbackState,
		RoutingPolicy: RoutingPolicyAllowAll,
	}, nil
}

// parseLatency accepts a Go duration or a bare number of milliseconds.
func parseLatency(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}
