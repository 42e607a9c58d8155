package discovery

import (
	"net"
)

// broadcastTarget is one destination to send a pheromone datagram to: an
// IPv4 directed broadcast address, or an IPv6 link-local multicast address
// scoped to its interface.
type broadcastTarget struct {
	addr *net.UDPAddr
}

// broadcastTargets returns one target per non-loopback, up interface: the
// interface's IPv4 directed broadcast address if it has one, else the
// IPv6 link-local all-nodes multicast address scoped to that interface.
func broadcastTargets(port int) ([]broadcastTarget, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var targets []broadcastTarget
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		haveIPv4 := false
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			haveIPv4 = true
			bcast := directedBroadcast(ip4, ipNet.Mask)
			targets = append(targets, broadcastTarget{addr: &net.UDPAddr{IP: bcast, Port: port}})
		}
		if !haveIPv4 && iface.Flags&net.FlagMulticast != 0 {
			targets = append(targets, broadcastTarget{
				addr: &net.UDPAddr{IP: net.ParseIP("ff02::1"), Port: port, Zone: iface.Name},
			})
		}
	}
	return targets, nil
}

// directedBroadcast computes the broadcast address for an IPv4 network:
// host bits all set to 1.
func directedBroadcast(ip net.IP, mask net.IPMask) net.IP {
	bcast := make(net.IP, len(ip))
	for i := range ip {
		bcast[i] = ip[i] | ^mask[i]
	}
	return bcast
}

// isLocalAddress reports whether ip matches any address owned by this
// host, used to drop loopback-originated datagrams per the failure
// semantics (a node never ingests its own broadcasts as a remote Signal).
func isLocalAddress(ip string) bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ipNet.IP.String() == ip {
			return true
		}
	}
	return false
}
