package store

import (
	"context"
	"sync"

	csstore "gazetteer/internal/changeset/store"
)

// InMemoryTx gives the write pipeline all-or-nothing semantics over the
// in-memory stores: state is snapshotted before the callback and restored on
// failure. Writers are serialized under one mutex; Postgres deployments get
// finer row-level isolation from the database instead.
type InMemoryTx struct {
	mu         sync.Mutex
	localities *InMemory
	changesets *csstore.InMemory
}

func NewInMemoryTx(localities *InMemory, changesets *csstore.InMemory) *InMemoryTx {
	return &InMemoryTx{localities: localities, changesets: changesets}
}

func (t *InMemoryTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	locSnap := t.localities.Snapshot()
	csSnap := t.changesets.Snapshot()

	if err := fn(ctx); err != nil {
		t.localities.Restore(locSnap)
		t.changesets.Restore(csSnap)
		return err
	}
	return nil
}
