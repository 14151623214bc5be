// Package server holds the pieces shared by the LMTP and HTTP front ends.
package server

import (
	"fmt"
	"net"
	"strings"
)

// Networks is a set of client networks. An empty set allows every client.
type Networks []*net.IPNet

// ParseNetworks parses CIDR blocks. A bare IP is treated as a single host.
func ParseNetworks(cidrs []string) (Networks, error) {
	var networks Networks
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		if !strings.Contains(cidr, "/") {
			ip := net.ParseIP(cidr)
			if ip == nil {
				return nil, fmt.Errorf("invalid network '%s': not a valid IP address or CIDR", cidr)
			}
			if ip.To4() != nil {
				cidr += "/32"
			} else {
				cidr += "/128"
			}
		}
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid network '%s': %w", cidr, err)
		}
		networks = append(networks, network)
	}
	return networks, nil
}

// Contains reports whether ip belongs to one of the networks.
func (n Networks) Contains(ip net.IP) bool {
	if len(n) == 0 {
		return true
	}
	if ip == nil {
		return false
	}
	for _, network := range n {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// AllowsAddr is Contains for a connection or request address such as
// "192.0.2.1:5000".
func (n Networks) AllowsAddr(addr string) bool {
	if len(n) == 0 {
		return true
	}
	return n.Contains(RemoteIP(addr))
}

// RemoteIP extracts the IP from a host:port address. It returns nil when
// the address cannot be parsed.
func RemoteIP(addr string) net.IP {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return net.ParseIP(strings.Trim(host, "[]"))
}
