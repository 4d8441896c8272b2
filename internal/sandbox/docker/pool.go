package docker

import (
	"context"
	"sync/atomic"

	"github.com/deepsense/sandboxd/internal/metrics"
)

// InstancePool is the process-wide bound on concurrently running
// environment instances. A slot must be acquired before an instance is
// created and is released when the instance is destroyed, so queued
// requests wait for capacity instead of exhausting the host.
//
// The pool also keeps the create/destroy ledger: at rest the two counts
// are equal, and a persistent gap means a leaked instance.
type InstancePool struct {
	slots chan struct{}
	m     *metrics.Metrics

	created   atomic.Int64
	destroyed atomic.Int64
}

// NewInstancePool builds a pool with the given concurrency ceiling.
// metrics may be nil (tests).
func NewInstancePool(size int, m *metrics.Metrics) *InstancePool {
	if size < 1 {
		size = 1
	}
	return &InstancePool{
		slots: make(chan struct{}, size),
		m:     m,
	}
}

// Acquire blocks until an instance slot is free or the context is done.
func (p *InstancePool) Acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot acquired with Acquire.
func (p *InstancePool) Release() {
	select {
	case <-p.slots:
	default:
		// Releasing an unacquired slot is a programming error; absorbing
		// it keeps teardown paths safe.
	}
}

// NoteCreated records an instance creation.
func (p *InstancePool) NoteCreated() {
	p.created.Add(1)
	if p.m != nil {
		p.m.InstancesCreated.Inc()
	}
}

// NoteDestroyed records an instance destruction.
func (p *InstancePool) NoteDestroyed() {
	p.destroyed.Add(1)
	if p.m != nil {
		p.m.InstancesDestroyed.Inc()
	}
}

// Stats returns the lifetime created/destroyed counts.
func (p *InstancePool) Stats() (created, destroyed int64) {
	return p.created.Load(), p.destroyed.Load()
}
