package store

import (
	"errors"

	"github.com/DavNight89/adminEstate/internal/estate/schema"
)

// Errors returned by adapters and the services built on them.
//
// Check them with errors.Is():
//
//	if errors.Is(err, store.ErrStorageUnavailable) {
//	    // treat the side as empty
//	}
var (
	// ErrStorageUnavailable is returned when the backing file, directory or
	// database is missing or unreachable.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrSchemaMismatch is carried by normalisation issues for records that
	// miss a required field or hold a value of the wrong type.
	ErrSchemaMismatch = schema.ErrSchemaMismatch

	// ErrConflictUnresolved is logged when two copies of a record tie on
	// every reconciliation criterion.
	ErrConflictUnresolved = errors.New("conflict unresolved")

	// ErrNotFound is returned when a lookup, update or delete targets an
	// id that does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrUnknownKind is returned for a kind with no schema.
	ErrUnknownKind = errors.New("unknown entity kind")
)
