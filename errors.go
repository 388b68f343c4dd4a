package main

import "errors"

// Failure kinds surfaced by the issuance and lifecycle operations. Callers
// classify with errors.Is; every error returned by the service wraps exactly
// one of these.
var (
	// ErrValidation marks bad input shape or range, rejected before any
	// key material is generated.
	ErrValidation = errors.New("validation failed")

	// ErrKeyGeneration marks a failure of the underlying crypto provider.
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrCodec marks malformed PEM material on load.
	ErrCodec = errors.New("malformed PEM material")

	// ErrCAChain marks issuing CA material that is missing or unparsable.
	ErrCAChain = errors.New("issuing CA material unusable")

	// ErrInvalidSAN marks a subject alternative name entry that does not
	// parse (an IP SAN that is not a valid IPv4/IPv6 literal).
	ErrInvalidSAN = errors.New("invalid subject alternative name")

	// ErrInvalidStateTransition marks an illegal revoke, such as revoking
	// a certificate that is not active.
	ErrInvalidStateTransition = errors.New("state transition not allowed")

	// ErrDependencyExists blocks deletion of a CA that still has issued
	// certificates or child CAs.
	ErrDependencyExists = errors.New("certificate authority has dependents")

	// ErrNotFound marks a lookup for a record that does not exist.
	ErrNotFound = errors.New("record not found")
)
