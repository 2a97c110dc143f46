// Package memory provides in-process implementations of the domain store
// contracts. They honour the same version guards as the postgres stores and
// back the service tests and single-node development runs.
package memory

import (
	"context"
)

// Tx runs fn directly; the memory stores have no transactions, so a failed
// step does not roll back earlier ones.
type Tx struct{}

// WithinTx implements domain.Transactor.
func (Tx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
