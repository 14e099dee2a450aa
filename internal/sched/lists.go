package sched

import "sync"

// readyList holds threads that are READY and not asleep, ordered from
// highest priority to lowest, and from older to younger threads at equal
// priority (spec.md §4.6, thread.cpp's compareReadyThreads). The ordering
// comes from a stable sort keyed only on priority: since threads are only
// ever appended in arrival order, a stable sort preserves arrival order
// among ties without the list needing an explicit sequence number.
type readyList struct {
	mu      sync.Mutex
	threads []*Thread
}

func newReadyList() *readyList { return &readyList{} }

func (r *readyList) add(t *Thread) {
	r.mu.Lock()
	r.threads = append(r.threads, t)
	r.sortLocked()
	r.mu.Unlock()
}

func (r *readyList) remove(t *Thread) {
	r.mu.Lock()
	r.removeLocked(t)
	r.mu.Unlock()
}

func (r *readyList) removeLocked(t *Thread) {
	for i, c := range r.threads {
		if c == t {
			r.threads = append(r.threads[:i], r.threads[i+1:]...)
			return
		}
	}
}

// resort re-establishes priority order after a donation or restore changes
// one or more threads' priorities in place.
func (r *readyList) resort() {
	r.mu.Lock()
	r.sortLocked()
	r.mu.Unlock()
}

func (r *readyList) sortLocked() {
	// Insertion sort: the list is almost always already sorted (a single
	// append or a handful of priority changes between calls), and insertion
	// sort is stable without extra bookkeeping, matching compareReadyThreads'
	// "equal priority keeps arrival order" rule.
	ts := r.threads
	for i := 1; i < len(ts); i++ {
		j := i
		for j > 0 && ts[j-1].priority() < ts[j].priority() {
			ts[j-1], ts[j] = ts[j], ts[j-1]
			j--
		}
	}
}

func (r *readyList) front() (*Thread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.threads) == 0 {
		return nil, false
	}
	return r.threads[0], true
}

func (r *readyList) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.threads)
}

// snapshot returns a copy of the current ready threads, for donation/restore
// passes and diagnostics that must not hold the list lock while touching
// each thread's own lock.
func (r *readyList) snapshot() []*Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Thread, len(r.threads))
	copy(out, r.threads)
	return out
}

// sleepEntry pairs a sleeping thread with the tick it should wake at
// (thread.cpp's SleepingThread).
type sleepEntry struct {
	wakeUpTick int
	thread     *Thread
}

// sleepList holds sleeping threads ordered by ascending wakeUpTick
// (thread.cpp's compareSleepingThreads).
type sleepList struct {
	mu      sync.Mutex
	entries []*sleepEntry
}

func newSleepList() *sleepList { return &sleepList{} }

func (s *sleepList) add(t *Thread, wakeUpTick int) {
	s.mu.Lock()
	s.entries = append(s.entries, &sleepEntry{wakeUpTick: wakeUpTick, thread: t})
	es := s.entries
	for i := 1; i < len(es); i++ {
		j := i
		for j > 0 && es[j-1].wakeUpTick > es[j].wakeUpTick {
			es[j-1], es[j] = es[j], es[j-1]
			j--
		}
	}
	s.mu.Unlock()
}

// wake pops every entry with wakeUpTick <= currentTick, in ascending order,
// and returns their threads (thread.cpp's wakeUpSleepingThreads). Since the
// list is sorted ascending, the first entry with wakeUpTick > currentTick
// means nothing after it is ready either.
func (s *sleepList) wake(currentTick int) []*Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	var woken []*Thread
	i := 0
	for i < len(s.entries) && s.entries[i].wakeUpTick <= currentTick {
		woken = append(woken, s.entries[i].thread)
		i++
	}
	s.entries = s.entries[i:]
	return woken
}

func (s *sleepList) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
