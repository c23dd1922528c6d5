// Package network resolves the addresses an instance advertises and waits
// for local services to come up.
package network

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/testground/chainbench/pkg/runtime"
)

const dialInterval = 500 * time.Millisecond

// Loopback is advertised when the instance runs without a sidecar, that is
// when all instances share the host network.
var Loopback = net.IPv4(127, 0, 0, 1).To4()

// DataIP returns the address peers should use to reach this instance.
func DataIP(params *runtime.RunParams) (net.IP, error) {
	if !params.TestSidecar {
		return Loopback, nil
	}
	addrs, err := localAddrs()
	if err != nil {
		return nil, fmt.Errorf("failed to list interface addresses: %w", err)
	}
	return pickDataIP(params.TestSubnet, addrs)
}

func pickDataIP(subnet net.IPNet, addrs []net.IP) (net.IP, error) {
	for _, ip := range addrs {
		if ip4 := ip.To4(); ip4 != nil && subnet.Contains(ip4) {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("no local ipv4 address in data subnet %s", subnet.String())
}

// WaitForPort blocks until a TCP connection to host:port succeeds, ctx is
// done or timeout elapses.
func WaitForPort(ctx context.Context, host string, port int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		return dialInterval, false
	})

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return retry.RetryableError(err)
		}
		return conn.Close()
	})
	if err != nil {
		return fmt.Errorf("port %s not ready: %w", addr, err)
	}
	return nil
}
