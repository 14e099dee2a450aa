package sched

import (
	"log/slog"

	"vmemu/internal/klog"
)

// Scheduler owns the ready list, sleep list and lock registry for one
// emulator run (spec.md §4.6–§4.8's "Initialize/shutdown" and "next thread
// to run" operations). Like internal/mm's Arena, these are fields of an
// instance rather than package globals (spec.md §9's "Global cursors" note),
// so tests get an independent clean-room scheduler per case.
type Scheduler struct {
	ready *readyList
	sleep *sleepList
	locks *LockTable
	log   *klog.Logger
}

// New builds an uninitialized Scheduler. Call Initialize before use.
func New(log *klog.Logger) *Scheduler {
	if log == nil {
		log = klog.New(nil)
	}
	r := newReadyList()
	return &Scheduler{
		ready: r,
		sleep: newSleepList(),
		locks: newLockTable(r),
		log:   log,
	}
}

// Initialize (re)creates the ready and sleep lists (initializeCallback).
func (s *Scheduler) Initialize() {
	s.ready = newReadyList()
	s.sleep = newSleepList()
	s.locks = newLockTable(s.ready)
	s.log.Log(slog.LevelInfo, "scheduler initialized")
}

// Shutdown drops the ready and sleep lists (shutdownCallback). Nothing to
// explicitly free in Go; kept as a distinct call so callers mirror the
// source's init/shutdown symmetry.
func (s *Scheduler) Shutdown() {
	s.ready = newReadyList()
	s.sleep = newSleepList()
	s.log.Log(slog.LevelInfo, "scheduler shut down")
}

// Locks returns the scheduler's lock registry.
func (s *Scheduler) Locks() *LockTable { return s.locks }

// ReadyCount reports how many threads are currently ready, for
// internal/stats and diagnostics.
func (s *Scheduler) ReadyCount() int { return s.ready.len() }

// SleepCount reports how many threads are currently asleep.
func (s *Scheduler) SleepCount() int { return s.sleep.len() }

// CreateAndSetThreadToRun creates a new Thread at the given priority, adds
// it to the ready list in priority order, and returns it
// (createAndSetThreadToRun).
func (s *Scheduler) CreateAndSetThreadToRun(name string, priority int) *Thread {
	t := newThread(name, priority)
	s.ready.add(t)
	s.log.Data(slog.LevelDebug, "thread scheduled", slog.String("name", name), slog.Int("priority", priority))
	return t
}

// DestroyThread marks a thread terminated (destroyThread). The thread stays
// in the ready list until the next NextThreadToRun call prunes it — matching
// the source's lazy removal, where nextThreadToRun is what actually detects
// and discards TERMINATED entries.
func (s *Scheduler) DestroyThread(t *Thread) {
	t.setState(Terminated)
}

// HighestPriority scans the ready list for the highest-priority thread
// without consuming it — a read-only diagnostic accessor, grounded on
// thread.cpp's getHighestPriorityThread (unused by nextThreadToRun in the
// source, which instead relies on the list already being sorted; kept here
// as a supplemented accessor for callers that want to peek, e.g. tests and
// internal/stats).
func (s *Scheduler) HighestPriority() (*Thread, bool) {
	ts := s.ready.snapshot()
	if len(ts) == 0 {
		return nil, false
	}
	best := ts[0]
	for _, t := range ts[1:] {
		if t.priority() > best.priority() {
			best = t
		}
	}
	return best, true
}

// NextThreadToRun wakes any sleepers due at currentTick, then returns the
// front of the ready list, skipping and discarding any terminated entries
// (nextThreadToRun).
func (s *Scheduler) NextThreadToRun(currentTick int) (*Thread, bool) {
	if s.ready.len() == 0 && s.sleep.len() == 0 {
		return nil, false
	}

	for _, t := range s.sleep.wake(currentTick) {
		t.setState(Ready)
		s.ready.add(t)
	}

	for {
		t, ok := s.ready.front()
		if !ok {
			return nil, false
		}
		if t.IsTerminated() {
			s.ready.remove(t)
			continue
		}
		return t, true
	}
}

// TickSleep moves thread from the ready list to the sleep list, to wake at
// currentTick+numTicks, and returns the tick at which it fell asleep
// (tickSleep). Stopping the thread's execution is the tick-driven runtime's
// responsibility, not the scheduler's (spec.md §4.6's external collaborator
// split) — callers invoke this then yield control themselves.
func (s *Scheduler) TickSleep(thread *Thread, currentTick, numTicks int) int {
	thread.setState(Sleeping)
	s.ready.remove(thread)
	s.sleep.add(thread, currentTick+numTicks)
	s.log.Data(slog.LevelDebug, "thread sleeping", slog.String("name", thread.Name), slog.Int("ticks", numTicks))
	return currentTick
}

// SetMyPriority sets thread's current priority directly, leaving
// OriginalPriority untouched (setMyPriority; spec.md §9's open question,
// decided in favor of "does not update OriginalPriority" — see
// SPEC_FULL.md). Re-sorts the ready list since priority order may have
// changed.
func (s *Scheduler) SetMyPriority(thread *Thread, priority int) {
	thread.setPriority(priority)
	s.ready.resort()
}
