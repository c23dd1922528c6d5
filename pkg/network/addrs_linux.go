//go:build linux
// +build linux

package network

import (
	"net"

	"github.com/vishvananda/netlink"
)

func localAddrs() ([]net.IP, error) {
	addrs, err := netlink.AddrList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, err
	}
	out := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		if a.IPNet != nil {
			out = append(out, a.IP)
		}
	}
	return out, nil
}
