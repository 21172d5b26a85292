package types

import "errors"

// Entity errors returned by the catalog, the structural store, and the
// detail engine.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrDuplicateName = errors.New("name already exists")
	ErrInvalidName   = errors.New("invalid name")
	ErrInvalidData   = errors.New("invalid entity data")
	ErrUnauthorized  = errors.New("caller is not authorized to modify plans")
)
