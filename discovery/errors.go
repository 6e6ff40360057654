package discovery

import "github.com/pkg/errors"

var (
	// ErrBindFailed is returned when the discovery UDP socket can't bind.
	ErrBindFailed = errors.New("discovery: failed to bind UDP socket")

	// ErrMessageExpired is returned when a packet's expiration has
	// already passed, or lies further in the future than messageTTL
	// allows (the latter closes a replay window original_source calls
	// out explicitly: accepting arbitrary future expirations would let a
	// captured packet be replayed indefinitely).
	ErrMessageExpired = errors.New("discovery: message expired or not yet valid")

	// ErrInvalidNodeID is returned when a message's claimed node ID does
	// not match the hash of its attached public key.
	ErrInvalidNodeID = errors.New("discovery: node id does not match public key")

	// ErrInvalidSignature is returned when a packet's signature doesn't
	// verify against its claimed source public key.
	ErrInvalidSignature = errors.New("discovery: invalid packet signature")

	// ErrPacketTooLarge is returned when an encoded packet exceeds
	// maxPacketSize.
	ErrPacketTooLarge = errors.New("discovery: packet exceeds maximum size")

	// ErrEndpointNotValidated is returned when a FINDNODE arrives from an
	// address that hasn't completed a PING/PONG round with us yet; we
	// refuse to answer it to avoid being used as a reflection amplifier.
	ErrEndpointNotValidated = errors.New("discovery: endpoint not validated")

	// ErrUnsolicitedResponse is returned when a NEIGHBORS message doesn't
	// correspond to any FINDNODE we have outstanding, or arrives from an
	// address other than the one we sent that FINDNODE to.
	ErrUnsolicitedResponse = errors.New("discovery: unsolicited response")

	// ErrUnknownMessageKind is returned when a packet's message kind tag
	// isn't one this server understands.
	ErrUnknownMessageKind = errors.New("discovery: unknown message kind")
)
