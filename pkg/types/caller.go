package types

import "errors"

// Caller carries the authorization decision made outside the core. Mutating
// operations refuse to run unless Authorized is true; the core does not
// check credentials itself.
type Caller struct {
	Name       string
	Authorized bool
}

// Storage lifecycle errors.
var (
	ErrStorageClosed = errors.New("plan storage is closed")
	ErrEmptyTenant   = errors.New("tenant identifier must not be empty")
)
