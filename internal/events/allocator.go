// Package events groups camera-trap photographs into capture events and
// allocates the per-project event numbers that identify them.
package events

import (
	"context"
	"sync"

	"github.com/tracewild/camtrap-go/internal/datastore"
)

// Allocator hands out capture event numbers. Numbers are monotonically
// increasing per project and shared across all cameras in the project.
//
// The database counter row is the source of truth and is advanced under a
// row lock, the per-project mutex on top keeps concurrent in-process callers
// from piling up on that lock.
type Allocator struct {
	store datastore.Interface

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// NewAllocator creates an allocator backed by the given datastore.
func NewAllocator(store datastore.Interface) *Allocator {
	return &Allocator{
		store: store,
		locks: make(map[uint]*sync.Mutex),
	}
}

// Next returns the next event number for the project. Safe for concurrent
// use, two callers never receive the same number and numbers never repeat
// across restarts.
func (a *Allocator) Next(ctx context.Context, projectID uint) (int64, error) {
	lock := a.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	return a.store.NextEventNumber(ctx, projectID)
}

func (a *Allocator) projectLock(projectID uint) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	lock, ok := a.locks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[projectID] = lock
	}
	return lock
}
