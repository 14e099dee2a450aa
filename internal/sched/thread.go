// Package sched implements the priority scheduler and priority-donation
// lock registry described in spec.md §4.6–§4.8 (the ReadyList, SleepList,
// lock registry and scheduler core components).
//
// Grounded on original_source/scheduler/answer/thread.cpp and lock.cpp,
// translated from the List/Map collaborators into plain slices and a map
// guarded by sync.Mutex, in biscuit's style of small lock-guarded structs
// (Oichkatzelesfrettschen-biscuit's mem.Physmem_t being the closest analogue
// in the retrieved source).
package sched

import "sync"

// State is a thread's scheduling state.
type State int

const (
	Ready State = iota
	Running
	Sleeping
	Terminated
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Sleeping:
		return "sleeping"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Thread is the scheduler's view of a cooperative thread (spec.md §3).
// OriginalPriority is recorded once at creation (spec.md §9's "Priority-swap
// donation" note) and is never overwritten by donation or by SetMyPriority.
type Thread struct {
	mu sync.Mutex

	Name             string
	Priority         int
	OriginalPriority int
	State            State
}

func newThread(name string, priority int) *Thread {
	return &Thread{Name: name, Priority: priority, OriginalPriority: priority, State: Ready}
}

// priority/setPriority are used internally by the lock registry and ready
// list so every mutation goes through the thread's own lock, matching the
// "thread priority fields are mutated by lock callbacks and SetMyPriority"
// policy (spec.md §5).
func (t *Thread) priority() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Priority
}

func (t *Thread) setPriority(p int) {
	t.mu.Lock()
	t.Priority = p
	t.mu.Unlock()
}

func (t *Thread) donated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Priority != t.OriginalPriority
}

func (t *Thread) restoreOriginal() {
	t.mu.Lock()
	t.Priority = t.OriginalPriority
	t.mu.Unlock()
}

func (t *Thread) setState(s State) {
	t.mu.Lock()
	t.State = s
	t.mu.Unlock()
}

// IsTerminated reports whether the thread has finished running.
func (t *Thread) IsTerminated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.State == Terminated
}
