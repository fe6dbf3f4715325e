// Package storage defines the block persistence collaborator consumed by the
// merkle store, plus a mutex-guarded in-memory reference implementation.
// Persistent backends live under internal/badgerstore.
package storage

import (
	"errors"

	"github.com/rewritedb/rewritedb/pkg/cid"
)

// ErrNotFound is returned when no bytes are stored under a Cid.
var ErrNotFound = errors.New("storage: block not found")

// BlockStorage persists raw block bytes keyed by Cid. Implementations must
// treat stored bytes as write-once: a second PutBytes under the same Cid may
// be ignored.
type BlockStorage interface {
	PutBytes(c cid.Cid, data []byte) error
	GetBytes(c cid.Cid) ([]byte, error)
	Has(c cid.Cid) bool
}

// MetaStorage optionally persists small non-content-addressed values, such
// as the current root pointer. Backends that do not implement it keep such
// state in memory only.
type MetaStorage interface {
	PutMeta(key string, val []byte) error
	GetMeta(key string) ([]byte, error)
}
