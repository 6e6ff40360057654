// Package crypto supplies the concrete signature scheme behind the
// escrow and chainstate packages' SignatureVerifier interfaces. No
// third-party signature-scheme dependency is named in the retrieved
// domain stack, so this stays on the standard library's crypto/ed25519
// rather than inventing an unretrieved one; everything above this
// package only ever sees the narrow Verify(publicKey, message,
// signature) interface, so the scheme can be swapped later without
// touching a caller.
package crypto

import "crypto/ed25519"

// Ed25519Verifier implements escrow.SignatureVerifier and
// chainstate.SignatureVerifier using ed25519 signatures.
type Ed25519Verifier struct{}

// Verify reports whether signature is a valid ed25519 signature by
// publicKey over message. A malformed public key or signature is
// treated as a failed verification rather than an error.
func (Ed25519Verifier) Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}
