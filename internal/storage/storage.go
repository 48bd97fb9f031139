// Package storage persists whole JSON documents. Both durable records in
// this service (the signed address book and the policy map) are replaced
// wholesale on every write, so the interface is load/save only; there are
// no partial updates to express.
package storage

import (
	"context"
	"errors"
)

// ErrNotExist is returned when no document has been stored under a name.
var ErrNotExist = errors.New("document does not exist")

// DocumentStore loads and saves named JSON documents. Save replaces the
// whole document atomically; a reader never observes a half-written one.
type DocumentStore interface {
	Load(ctx context.Context, name string, v interface{}) error
	Save(ctx context.Context, name string, v interface{}) error
}
