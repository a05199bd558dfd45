package clientset

import "github.com/cockroachdb/errors"

// Sentinel errors for registry operations. The broker's dispatch handlers
// log them and carry on, so a misbehaving client never halts verdict
// production for the rest.
var (
	// ErrDuplicateClient is returned by Register when the name already exists.
	ErrDuplicateClient = errors.New("clientset: duplicate client")

	// ErrUnknownClient is returned by Unregister, Lookup, and SetReputation
	// when the name is not currently registered.
	ErrUnknownClient = errors.New("clientset: unknown client")
)
