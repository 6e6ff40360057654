package discovery_test

import (
	"net"
	"testing"
	"time"

	"github.com/tos-network/tosd/discovery"
)

func newTestServer(t *testing.T) *discovery.Server {
	t.Helper()
	identity, err := discovery.NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity: %+v", err)
	}
	server, err := discovery.NewServer(discovery.Config{BindAddress: "127.0.0.1:0"}, identity)
	if err != nil {
		t.Fatalf("NewServer: %+v", err)
	}
	server.Start()
	t.Cleanup(server.Stop)
	return server
}

func udpAddr(t *testing.T, s *discovery.Server) *net.UDPAddr {
	t.Helper()
	addr, ok := s.LocalAddr().(*net.UDPAddr)
	if !ok {
		t.Fatalf("server local address is not a UDPAddr: %v", s.LocalAddr())
	}
	return addr
}

// pingPong has a and b exchange PINGs so each inserts the other into its
// routing table and marks the other's address validated, the two-way
// handshake handleFindNode's anti-amplification check requires before
// either side will answer a FINDNODE from the other.
func pingPong(t *testing.T, a, b *discovery.Server) {
	t.Helper()
	if err := a.PingNode(b.Identity().NodeID(), udpAddr(t, b)); err != nil {
		t.Fatalf("PingNode a->b: %+v", err)
	}
	if err := b.PingNode(a.Identity().NodeID(), udpAddr(t, a)); err != nil {
		t.Fatalf("PingNode b->a: %+v", err)
	}
	time.Sleep(200 * time.Millisecond)
}

func TestPingPongInsertsIntoRoutingTable(t *testing.T) {
	a := newTestServer(t)
	b := newTestServer(t)

	pingPong(t, a, b)

	if !a.RoutingTable().Contains(b.Identity().NodeID()) {
		t.Fatalf("a's routing table does not contain b after ping/pong")
	}
	if !b.RoutingTable().Contains(a.Identity().NodeID()) {
		t.Fatalf("b's routing table does not contain a after ping/pong")
	}
}

// TestFindNodeRoundTripKeepsKnownPeer exercises a full FINDNODE/NEIGHBORS
// round between two real loopback sockets. A three-node version that
// also checks automatic re-pinging of addresses learned from a
// NEIGHBORS payload isn't feasible here: isValidDiscoveryAddress
// (deliberately, per original_source) rejects 127.0.0.1 as a loopback
// address, so a third loopback-bound node would never be re-pinged by
// this path. That forwarding behavior is covered at the unit level
// instead, in TestHandleNeighborsSkipsInvalidAndSelfAddresses.
func TestFindNodeRoundTripKeepsKnownPeer(t *testing.T) {
	a := newTestServer(t)
	b := newTestServer(t)

	pingPong(t, a, b)

	if err := a.FindNodeRequest(b.Identity().NodeID(), udpAddr(t, b), b.Identity().NodeID()); err != nil {
		t.Fatalf("FindNodeRequest: %+v", err)
	}
	time.Sleep(200 * time.Millisecond)

	// a already knew b from the ping/pong handshake; the FINDNODE round
	// trip shouldn't have broken that.
	if !a.RoutingTable().Contains(b.Identity().NodeID()) {
		t.Fatalf("a's routing table lost b after a findnode/neighbors round trip")
	}
}

func TestFindNodeRejectedFromUnvalidatedEndpoint(t *testing.T) {
	a := newTestServer(t)
	b := newTestServer(t)

	// No PING/PONG handshake between a and b: b must refuse to answer.
	if err := a.FindNodeRequest(b.Identity().NodeID(), udpAddr(t, b), b.Identity().NodeID()); err != nil {
		t.Fatalf("FindNodeRequest: %+v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if a.RoutingTable().Contains(b.Identity().NodeID()) {
		t.Fatalf("a's routing table should not have grown from an unanswered findnode")
	}
}
