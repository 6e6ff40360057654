package discovery

import "net"

// isValidDiscoveryAddress reports whether addr is eligible to receive
// discovery traffic: routable, non-multicast, non-loopback, and not
// port 0. A direct port of original_source's
// is_valid_discovery_address, which exists to stop a malicious peer's
// NEIGHBORS response from using us to scan internal networks or
// exhaust our pending-PING capacity with bogus addresses.
func isValidDiscoveryAddress(addr *net.UDPAddr) bool {
	if addr == nil || addr.Port == 0 {
		return false
	}
	ip := addr.IP
	if ip == nil {
		return false
	}
	if ip.IsUnspecified() || ip.IsLoopback() || ip.IsMulticast() || ip.IsLinkLocalUnicast() {
		return false
	}
	if ip4 := ip.To4(); ip4 != nil {
		if ip4.IsPrivate() {
			return false
		}
		if ip4.Equal(net.IPv4bcast) {
			return false
		}
		if isIPv4Documentation(ip4) {
			return false
		}
		return true
	}

	// IPv6: reject unique local (fc00::/7), site-local (fec0::/10,
	// deprecated), documentation (2001:db8::/32), Teredo (2001::/32),
	// and 6to4 (2002::/16) ranges, then re-check any IPv4-mapped address
	// against the IPv4 rules above so a mapped private/loopback address
	// can't be used to bypass them.
	if ip.IsPrivate() {
		return false
	}
	segments := ip.To16()
	if segments == nil {
		return false
	}
	first := uint16(segments[0])<<8 | uint16(segments[1])
	second := uint16(segments[2])<<8 | uint16(segments[3])
	if first&0xffc0 == 0xfec0 {
		return false
	}
	if first == 0x2001 && second == 0x0db8 {
		return false
	}
	if first == 0x2001 && second == 0x0000 {
		return false
	}
	if first == 0x2002 {
		return false
	}
	if mapped := ip.To4(); mapped != nil {
		return isValidDiscoveryAddress(&net.UDPAddr{IP: mapped, Port: addr.Port})
	}
	return true
}

func isIPv4Documentation(ip4 net.IP) bool {
	switch {
	case ip4[0] == 192 && ip4[1] == 0 && ip4[2] == 2:
		return true
	case ip4[0] == 198 && ip4[1] == 51 && ip4[2] == 100:
		return true
	case ip4[0] == 203 && ip4[1] == 0 && ip4[2] == 113:
		return true
	default:
		return false
	}
}
