package escrow

// ArbiterRegistry is the chain-state view SubmitVerdict checks each
// signing arbiter against. Kept as a narrow interface rather than a
// concrete store type so the escrow package stays a pure state
// machine: chainstate supplies the real implementation backed by the
// versioned store's arbiter records.
type ArbiterRegistry interface {
	IsActive(arbiter []byte) (bool, error)
	Stake(arbiter []byte) (uint64, error)
	MinStake() (uint64, error)
}

// SignatureVerifier checks a single signature against a public key and
// message. Cryptographic primitives are treated as a black box per the
// core's scope: callers inject a concrete scheme (ed25519, secp256k1,
// ...) without the escrow package depending on it directly.
type SignatureVerifier interface {
	Verify(publicKey, message, signature []byte) bool
}
