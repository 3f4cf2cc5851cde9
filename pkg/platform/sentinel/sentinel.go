package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and allocators return these
// (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: record does not exist in the store
//   - ErrConflict: a uniqueness constraint rejected the write
//   - ErrInvalidState: record is in the wrong state for the requested write
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
)
