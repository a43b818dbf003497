// Package registry tracks in-flight requests by correlation id.
//
// A Registry owns a fixed table of N ids in [1, N]. An id is free, reserved
// (allocated but not yet registered) or pending. Every state change happens
// under one mutex in constant time; waking the waiter happens after the lock
// is released and never blocks.
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	errspkg "github.com/badaboda/mochevent/internal/runtime/errors"
	"github.com/badaboda/mochevent/internal/runtime/wire"
)

// DefaultCapacity is the number of correlation ids when none is configured.
const DefaultCapacity = 65536

// ID is a correlation id in [1, Capacity].
type ID uint32

// State is the lifecycle state of a PendingRequest.
type State int32

const (
	Pending State = iota
	Resolved
	TimedOut
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case TimedOut:
		return "timed_out"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Outcome is delivered exactly once to a PendingRequest that is resolved or
// failed. Expired requests get nothing: their waiter already knows.
type Outcome struct {
	State State
	Reply wire.ReplyMessage
	Err   error
}

// PendingRequest is one waiting HTTP request.
type PendingRequest struct {
	ID        ID
	CreatedAt time.Time
	Deadline  time.Time

	// state is written under the registry lock.
	state atomic.Int32
	done  chan Outcome
}

// NewPendingRequest returns a pending request ready to be registered.
func NewPendingRequest(id ID, created, deadline time.Time) *PendingRequest {
	return &PendingRequest{
		ID:        id,
		CreatedAt: created,
		Deadline:  deadline,
		done:      make(chan Outcome, 1),
	}
}

// State returns the current lifecycle state.
func (p *PendingRequest) State() State { return State(p.state.Load()) }

// Done receives the outcome of a resolved or failed request.
func (p *PendingRequest) Done() <-chan Outcome { return p.done }

type slotState uint8

const (
	slotFree slotState = iota
	slotReserved
	slotPending
)

type slot struct {
	state   slotState
	pending *PendingRequest
}

// Entry describes one pending request in a Snapshot.
type Entry struct {
	ID        ID        `json:"id"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	Deadline  time.Time `json:"deadline"`
}

// Registry maps correlation ids to pending requests.
type Registry struct {
	mu       sync.Mutex
	slots    []slot // index 0 unused
	free     []ID   // ring of free ids
	head     int
	nfree    int
	pending  int
	reserved int
}

// New returns a registry with capacity ids. capacity <= 0 uses DefaultCapacity.
func New(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Registry{
		slots: make([]slot, capacity+1),
		free:  make([]ID, capacity),
		nfree: capacity,
	}
	for i := range r.free {
		r.free[i] = ID(i + 1)
	}
	return r
}

// Capacity returns the number of ids.
func (r *Registry) Capacity() int { return len(r.free) }

// Allocate reserves a free id. Ids come back out in the order they were freed,
// so a released id is reused as late as possible.
func (r *Registry) Allocate() (ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nfree == 0 {
		return 0, errspkg.ErrExhausted
	}
	id := r.free[r.head]
	r.head = (r.head + 1) % len(r.free)
	r.nfree--
	r.slots[id].state = slotReserved
	r.reserved++
	return id, nil
}

// Register stores p under id, which must have been returned by Allocate and
// not registered since.
func (r *Registry) Register(id ID, p *PendingRequest) error {
	if p == nil {
		return fmt.Errorf("registry: nil pending request for id %d", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.valid(id) || r.slots[id].state != slotReserved {
		return fmt.Errorf("registry: id %d is not reserved", id)
	}
	p.ID = id
	p.state.Store(int32(Pending))
	r.slots[id] = slot{state: slotPending, pending: p}
	r.reserved--
	r.pending++
	return nil
}

// Release frees a reserved id that was never registered.
func (r *Registry) Release(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.valid(id) && r.slots[id].state == slotReserved {
		r.reserved--
		r.freeLocked(id)
	}
}

// Resolve hands reply to the request pending under id. It reports false when
// no request is pending there: unknown, expired, failed or already resolved.
func (r *Registry) Resolve(id ID, reply wire.ReplyMessage) bool {
	p := r.finish(id, Resolved)
	if p == nil {
		return false
	}
	p.done <- Outcome{State: Resolved, Reply: reply}
	return true
}

// Expire marks the request pending under id as timed out. It reports false
// when another transition got there first.
func (r *Registry) Expire(id ID) bool {
	return r.finish(id, TimedOut) != nil
}

// Fail marks the request pending under id as failed and delivers err to it.
func (r *Registry) Fail(id ID, err error) bool {
	p := r.finish(id, Failed)
	if p == nil {
		return false
	}
	p.done <- Outcome{State: Failed, Err: err}
	return true
}

// FailAll fails every pending request with err and returns how many there were.
func (r *Registry) FailAll(err error) int {
	r.mu.Lock()
	var failed []*PendingRequest
	for i := 1; i < len(r.slots); i++ {
		if r.slots[i].state == slotPending {
			p := r.slots[i].pending
			p.state.Store(int32(Failed))
			r.pending--
			r.freeLocked(ID(i))
			failed = append(failed, p)
		}
	}
	r.mu.Unlock()

	for _, p := range failed {
		p.done <- Outcome{State: Failed, Err: err}
	}
	return len(failed)
}

// Len returns the number of pending requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Reserved returns the number of ids allocated but not registered.
func (r *Registry) Reserved() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reserved
}

// Snapshot lists the pending requests in id order.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]Entry, 0, r.pending)
	for i := 1; i < len(r.slots); i++ {
		if r.slots[i].state != slotPending {
			continue
		}
		p := r.slots[i].pending
		entries = append(entries, Entry{
			ID:        ID(i),
			State:     p.State().String(),
			CreatedAt: p.CreatedAt,
			Deadline:  p.Deadline,
		})
	}
	return entries
}

func (r *Registry) finish(id ID, to State) *PendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.valid(id) || r.slots[id].state != slotPending {
		return nil
	}
	p := r.slots[id].pending
	p.state.Store(int32(to))
	r.pending--
	r.freeLocked(id)
	return p
}

func (r *Registry) freeLocked(id ID) {
	tail := (r.head + r.nfree) % len(r.free)
	r.free[tail] = id
	r.nfree++
	r.slots[id] = slot{}
}

func (r *Registry) valid(id ID) bool {
	return id >= 1 && int(id) < len(r.slots)
}
