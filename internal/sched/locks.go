package sched

import "sync"

// LockTable maps lock ids to the thread currently holding them, and applies
// priority donation on contention (spec.md §4.8, lock.cpp's lockCreated /
// lockAttempted / lockAcquired / lockFailed / lockReleased /
// getThreadHoldingLock).
//
// Unlike lock.cpp, donation here is "set, don't swap": the source swaps the
// holder's and requester's priority fields outright, which only behaves
// like donation for a single non-nested lock wait (spec.md §9's
// "Priority-swap donation" REDESIGN FLAG). This table instead raises the
// holder to max(holder, requester) and, on release, restores every thread
// whose priority still differs from its OriginalPriority.
//
// A lock id's presence as a map key, independent of its value, is what
// distinguishes a known-but-unheld lock from an unknown one (spec.md §3
// "Absent key ≡ unknown lock"; §7's UnknownLock). Created and Released both
// insert the key with a nil value rather than deleting it, so Known can tell
// the two apart even though GetThreadHoldingLock — which answers "who holds
// it", not "does it exist" — returns the same (nil, false) for both.
type LockTable struct {
	mu      sync.Mutex
	holders map[string]*Thread
	ready   *readyList
}

func newLockTable(ready *readyList) *LockTable {
	return &LockTable{holders: make(map[string]*Thread), ready: ready}
}

// Created registers lockID as known and unheld (lockCreated: "insert key,
// value null").
func (lt *LockTable) Created(lockID string) {
	lt.mu.Lock()
	lt.holders[lockID] = nil
	lt.mu.Unlock()
}

// Attempt runs when requester is about to wait on lockId (lockAttempted). If
// the lock is free this is a no-op; otherwise, if the holder's priority is
// lower than the requester's, the holder is elevated to the requester's
// priority and the ready list is re-sorted.
func (lt *LockTable) Attempt(lockID string, requester *Thread) {
	lt.mu.Lock()
	holder := lt.holders[lockID]
	lt.mu.Unlock()

	if holder == nil {
		return
	}
	if holder.priority() < requester.priority() {
		holder.setPriority(requester.priority())
		lt.ready.resort()
	}
}

// Acquired records that thread now holds lockId (lockAcquired).
func (lt *LockTable) Acquired(lockID string, thread *Thread) {
	lt.mu.Lock()
	lt.holders[lockID] = thread
	lt.mu.Unlock()
}

// Failed is a diagnostic-only hook for a requester that failed to acquire
// lockId (lockFailed: "no state change"). It intentionally mutates nothing.
func (lt *LockTable) Failed(lockID string, requester *Thread) {}

// Released clears lockId's holder and, if thread received a donation,
// restores every ready thread (and thread itself) to its OriginalPriority
// before re-sorting (lockReleased: "remove mapping, reinsert with null").
func (lt *LockTable) Released(lockID string, thread *Thread) {
	lt.mu.Lock()
	lt.holders[lockID] = nil
	lt.mu.Unlock()

	if !thread.donated() {
		return
	}
	for _, t := range lt.ready.snapshot() {
		if t.donated() {
			t.restoreOriginal()
		}
	}
	thread.restoreOriginal()
	lt.ready.resort()
}

// GetThreadHoldingLock returns the thread currently holding lockId, if any
// (getThreadHoldingLock). The original dereferences the map result
// unconditionally, a null-deref bug when the lock was never attempted-on;
// this returns (nil, false) instead, for both an unknown lock id and a known
// one with no current holder.
func (lt *LockTable) GetThreadHoldingLock(lockID string) (*Thread, bool) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	t := lt.holders[lockID]
	return t, t != nil
}

// Known reports whether lockID has ever been created, regardless of whether
// it is currently held (spec.md §3 "Absent key ≡ unknown lock") — the
// distinction GetThreadHoldingLock's boolean alone cannot make, since a known
// but unheld lock and an unknown one both report no holder.
func (lt *LockTable) Known(lockID string) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	_, ok := lt.holders[lockID]
	return ok
}
