package discovery

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/pkg/errors"

	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
	"github.com/tos-network/tosd/util/hashing"
)

// NodeID is a node's Kademlia-space identifier: the content hash of its
// public key, reusing the same 32-byte domain hash type blocks and
// modules are keyed by rather than inventing a parallel one.
type NodeID = externalapi.DomainHash

var nodeIDDomainTag = []byte("TOS-DISCOVERY-NODEID-v1")

// DeriveNodeID computes the NodeID a public key is entitled to claim.
func DeriveNodeID(publicKey ed25519.PublicKey) *NodeID {
	return hashing.Keccak256(nodeIDDomainTag, publicKey)
}

// Identity is a node's discovery keypair.
type Identity struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	nodeID     *NodeID
}

// NewIdentity generates a fresh random discovery identity.
func NewIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generating discovery identity")
	}
	return &Identity{privateKey: priv, publicKey: pub, nodeID: DeriveNodeID(pub)}, nil
}

// NodeID returns the identity's node ID.
func (id *Identity) NodeID() *NodeID { return id.nodeID }

// PublicKey returns the identity's public key.
func (id *Identity) PublicKey() ed25519.PublicKey { return id.publicKey }

// Sign signs message with the identity's private key.
func (id *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(id.privateKey, message)
}
