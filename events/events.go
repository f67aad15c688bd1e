// Package events implements the update event bus of spec.md §4.9 (C9): a
// process-local, best-effort pub/sub of "path changed at version V",
// delivered asynchronously and coalesced per scheduler tick.
package events

import (
	"log"
	"sync"
)

// Handler receives a pathUpdated notification. Handlers run sequentially,
// in registration order, on the dispatcher goroutine; a handler that
// panics is recovered and logged, never allowed to take down the bus
// (spec.md §4.9).
type Handler func(path string, version uint64)

// Bus is a single-process update event bus. The zero value is not usable;
// construct one with New.
type Bus struct {
	logger *log.Logger

	mu       sync.Mutex
	handlers []Handler
	pending  map[string]uint64 // coalesced by (path, maxVersion) within one tick
	queued   bool

	// tick, when set, is invoked to request a deferred dispatch instead of
	// spawning a goroutine directly; tests substitute a synchronous tick to
	// make delivery deterministic.
	tick func(func())
}

// New returns a Bus that defers delivery to its own goroutine per pending
// batch, matching the "next scheduler tick" semantics of spec.md §4.9 in a
// language with no explicit microtask queue.
func New(logger *log.Logger) *Bus {
	return &Bus{
		logger:  logger,
		pending: make(map[string]uint64),
		tick:    func(f func()) { go f() },
	}
}

// On registers a handler. Handlers are called in registration order.
func (b *Bus) On(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// PathUpdated announces that path changed to version. Delivery is deferred
// to the next tick; multiple calls for the same path within one tick
// coalesce to the highest version seen (spec.md §9's coalescing design
// note), except that events emitted within a single updateMeta call must
// be delivered in emission order (spec.md §5) — callers that need that
// ordering guarantee should emit one path's events from one updateMeta
// call, which is the only case spec.md requires it for.
func (b *Bus) PathUpdated(path string, version uint64) {
	b.mu.Lock()
	if v, ok := b.pending[path]; !ok || version > v {
		b.pending[path] = version
	}
	shouldSchedule := !b.queued
	b.queued = true
	b.mu.Unlock()

	if shouldSchedule {
		b.tick(b.flush)
	}
}

func (b *Bus) flush() {
	b.mu.Lock()
	batch := b.pending
	handlers := append([]Handler(nil), b.handlers...)
	b.pending = make(map[string]uint64)
	b.queued = false
	b.mu.Unlock()

	for path, version := range batch {
		for _, h := range handlers {
			b.deliver(h, path, version)
		}
	}
}

func (b *Bus) deliver(h Handler, path string, version uint64) {
	defer func() {
		if r := recover(); r != nil {
			if b.logger != nil {
				b.logger.Printf("events: handler for %s@%d panicked: %v", path, version, r)
			}
		}
	}()
	h(path, version)
}
