package discovery

import (
	"crypto/ed25519"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
	"github.com/tos-network/tosd/util/hashing"
)

const (
	// maxPacketSize bounds one UDP datagram this server will send or
	// accept, keeping the protocol inside a single unfragmented packet.
	maxPacketSize = 1280

	// messageTTL is how long a message's Expiration stays valid once
	// sent, and also the forward clock-skew tolerance used to reject
	// suspiciously far-future expirations (a captured-and-replayed
	// packet stamped far in the future would otherwise sail through the
	// expiry check indefinitely).
	messageTTL = 20 * time.Second

	maxNeighbors = 16
)

// messageKind tags which concrete type a packet's payload decodes to.
type messageKind string

const (
	kindPing      messageKind = "ping"
	kindPong      messageKind = "pong"
	kindFindNode  messageKind = "findnode"
	kindNeighbors messageKind = "neighbors"
)

var packetDomainTag = []byte("TOS-DISCOVERY-PACKET-v1")

// NodeInfo is one node's advertised identity and network address.
type NodeInfo struct {
	NodeID    *NodeID
	Address   string
	PublicKey ed25519.PublicKey
}

// VerifyNodeID reports whether n.NodeID is the hash n.PublicKey is
// entitled to claim.
func (n NodeInfo) VerifyNodeID() bool {
	return DeriveNodeID(n.PublicKey).Equal(n.NodeID)
}

func newExpiration() int64 {
	return time.Now().Add(messageTTL).Unix()
}

func isExpirationValid(expiration int64) bool {
	now := time.Now().Unix()
	if expiration < now {
		return false
	}
	return expiration <= now+int64(messageTTL.Seconds())
}

// Ping announces liveness and our current address.
type Ping struct {
	Source     NodeInfo
	Sequence   uint64
	Expiration int64
}

// Pong answers a Ping, echoing the hash of the packet it answers so the
// sender can correlate the reply (and so a captured Pong can't be
// replayed against a different outstanding Ping).
type Pong struct {
	Source     NodeInfo
	PingHash   *externalapi.DomainHash
	Expiration int64
}

// FindNode asks the recipient for the nodes in its routing table closest
// to Target.
type FindNode struct {
	Source     NodeInfo
	Target     *NodeID
	Expiration int64
}

// Neighbors answers a FindNode with candidate nodes.
type Neighbors struct {
	Source     NodeInfo
	Nodes      []NodeInfo
	Expiration int64
}

// packetWire is the on-the-wire envelope: a tagged, signed payload. No
// binary wire codec is named anywhere in the retrieved pack for a raw
// UDP envelope (the teacher's own protowire layer is protobuf-generated
// code this daemon doesn't carry; see DESIGN.md), so this falls back to
// the standard library's encoding/json, kept to a single small envelope
// type rather than spreading the fallback across the package.
type packetWire struct {
	Kind      messageKind
	Payload   json.RawMessage
	Signature []byte
}

// signingInput builds the bytes that get signed/verified for a packet,
// into a freshly allocated buffer rather than appending onto the
// shared packetDomainTag variable (which would alias its backing array
// across the concurrent goroutines receiveLoop spawns per datagram).
func signingInput(kind messageKind, payload []byte) []byte {
	buf := make([]byte, 0, len(packetDomainTag)+len(kind)+len(payload))
	buf = append(buf, packetDomainTag...)
	buf = append(buf, []byte(kind)...)
	buf = append(buf, payload...)
	return buf
}

// signPacket signs kind+payload with identity and returns the encoded
// wire bytes, erroring if the result would exceed maxPacketSize.
func signPacket(identity *Identity, kind messageKind, v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "marshaling %s payload", kind)
	}
	signature := identity.Sign(signingInput(kind, payload))

	wire := packetWire{Kind: kind, Payload: payload, Signature: signature}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, errors.Wrapf(err, "marshaling %s packet", kind)
	}
	if len(data) > maxPacketSize {
		return nil, errors.Wrapf(ErrPacketTooLarge, "%d > %d", len(data), maxPacketSize)
	}
	return data, nil
}

// decodedPacket is a parsed, as-yet-unverified packet.
type decodedPacket struct {
	kind      messageKind
	payload   []byte
	signature []byte
}

// hash returns the content hash of the packet's kind+payload, used to
// correlate a Pong with the Ping it answers.
func (p *decodedPacket) hash() *externalapi.DomainHash {
	return hashing.Keccak256(packetDomainTag, []byte(p.kind), p.payload)
}

// verify checks the packet's signature against publicKey.
func (p *decodedPacket) verify(publicKey ed25519.PublicKey) bool {
	return ed25519.Verify(publicKey, signingInput(p.kind, p.payload), p.signature)
}

func decodePacket(data []byte) (*decodedPacket, error) {
	var wire packetWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, errors.Wrap(err, "decoding discovery packet")
	}
	return &decodedPacket{kind: wire.Kind, payload: wire.Payload, signature: wire.Signature}, nil
}

func (p *decodedPacket) decodePing() (*Ping, error) {
	var msg Ping
	if err := json.Unmarshal(p.payload, &msg); err != nil {
		return nil, errors.Wrap(err, "decoding ping payload")
	}
	return &msg, nil
}

func (p *decodedPacket) decodePong() (*Pong, error) {
	var msg Pong
	if err := json.Unmarshal(p.payload, &msg); err != nil {
		return nil, errors.Wrap(err, "decoding pong payload")
	}
	return &msg, nil
}

func (p *decodedPacket) decodeFindNode() (*FindNode, error) {
	var msg FindNode
	if err := json.Unmarshal(p.payload, &msg); err != nil {
		return nil, errors.Wrap(err, "decoding findnode payload")
	}
	return &msg, nil
}

func (p *decodedPacket) decodeNeighbors() (*Neighbors, error) {
	var msg Neighbors
	if err := json.Unmarshal(p.payload, &msg); err != nil {
		return nil, errors.Wrap(err, "decoding neighbors payload")
	}
	return &msg, nil
}
