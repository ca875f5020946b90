package media

import (
	"net"
	"strings"
)

// cgnat is the shared address space (100.64.0.0/10) used by carrier NAT and
// by overlay VPNs such as WARP and Tailscale.
var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0).To4(), Mask: net.CIDRMask(10, 32)}

var tunnelMarkers = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

// restrictedNetwork reports whether direct peer connections are unlikely to
// work from this host. Replaced in tests.
var restrictedNetwork = onRestrictedNetwork

func onRestrictedNetwork() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			addrs = nil
		}
		if restrictedInterface(iface.Name, interfaceIPs(addrs)) {
			return true
		}
	}
	return false
}

func restrictedInterface(name string, ips []net.IP) bool {
	name = strings.ToLower(name)
	for _, marker := range tunnelMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	for _, ip := range ips {
		if cgnat.Contains(ip) {
			return true
		}
	}
	return false
}

func interfaceIPs(addrs []net.Addr) []net.IP {
	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		switch v := addr.(type) {
		case *net.IPNet:
			ips = append(ips, v.IP)
		case *net.IPAddr:
			ips = append(ips, v.IP)
		}
	}
	return ips
}
