package discovery

import (
	"net"
	"testing"
)

func mustResolveUDP(t *testing.T, addr string) *net.UDPAddr {
	t.Helper()
	resolved, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		t.Fatalf("ResolveUDPAddr(%q): %+v", addr, err)
	}
	return resolved
}

func TestIsValidDiscoveryAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"8.8.8.8:53", true},
		{"1.2.3.4:30303", true},
		{"127.0.0.1:30303", false},
		{"10.0.0.5:30303", false},
		{"192.168.1.1:30303", false},
		{"172.16.0.1:30303", false},
		{"169.254.1.1:30303", false},
		{"224.0.0.1:30303", false},
		{"255.255.255.255:30303", false},
		{"0.0.0.0:30303", false},
		{"192.0.2.1:30303", false},
		{"1.2.3.4:0", false},
		{"[::1]:30303", false},
		{"[2001:db8::1]:30303", false},
		{"[fe80::1]:30303", false},
		{"[fc00::1]:30303", false},
		{"[2001:4860:4860::8888]:53", true},
	}

	for _, test := range tests {
		addr := mustResolveUDP(t, test.addr)
		if got := isValidDiscoveryAddress(addr); got != test.want {
			t.Errorf("isValidDiscoveryAddress(%s) = %v, want %v", test.addr, got, test.want)
		}
	}
}
