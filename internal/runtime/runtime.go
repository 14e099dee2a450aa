// Package runtime is a minimal tick-driven thread runtime implementing the
// scheduler's external collaborators (getCurrentTick, getCurrentThread,
// stopExecutingThreadForCycle, createThread — spec.md §6). It exists only so
// cmd/vmemu has something runnable to drive internal/sched and internal/vmm
// with; none of the scheduler or VMM invariant tests depend on it.
//
// Grounded on biscuit's goroutine-per-kernel-thread model (each Ptable_t
// entry corresponds to a live goroutine blocked on a channel/condition
// variable until scheduled) adapted to a single-process, tick-stepped
// cooperative loop instead of biscuit's preemptive one.
package runtime

import (
	"context"
	"log/slog"
	"sync"

	"vmemu/internal/klog"
	"vmemu/internal/sched"
	"vmemu/internal/vmm"
)

// ThreadFunc is the body of a runtime-managed thread. It receives the
// runtime (to call TickSleep/StopExecutingThreadForCycle), its VMM handle,
// and its scheduler handle.
type ThreadFunc func(rt *Runtime, vh *vmm.ThreadHandle, st *sched.Thread)

// Runtime drives a Scheduler with a single tick loop, running each
// READY thread's goroutine to completion or until it yields, one tick at a
// time.
type Runtime struct {
	mu      sync.Mutex
	cond    *sync.Cond
	sched   *sched.Scheduler
	tick    int
	turn    *sched.Thread
	yielded map[*sched.Thread]bool
	log     *klog.Logger
}

// New builds a Runtime over an already-initialized Scheduler.
func New(s *sched.Scheduler, log *klog.Logger) *Runtime {
	if log == nil {
		log = klog.New(nil)
	}
	rt := &Runtime{sched: s, yielded: make(map[*sched.Thread]bool), log: log}
	rt.cond = sync.NewCond(&rt.mu)
	return rt
}

// CreateThread schedules a new thread and starts its goroutine, parked until
// the tick loop grants it the turn (createThread).
func (rt *Runtime) CreateThread(name string, priority int, vh *vmm.ThreadHandle, fn ThreadFunc) *sched.Thread {
	st := rt.sched.CreateAndSetThreadToRun(name, priority)
	go rt.runBody(st, vh, fn)
	return st
}

func (rt *Runtime) runBody(st *sched.Thread, vh *vmm.ThreadHandle, fn ThreadFunc) {
	rt.waitForTurn(st)
	fn(rt, vh, st)
	rt.sched.DestroyThread(st)
	rt.yield(st)
}

func (rt *Runtime) waitForTurn(st *sched.Thread) {
	rt.mu.Lock()
	for rt.turn != st {
		rt.cond.Wait()
	}
	rt.mu.Unlock()
}

func (rt *Runtime) yield(st *sched.Thread) {
	rt.mu.Lock()
	rt.yielded[st] = true
	rt.cond.Broadcast()
	rt.mu.Unlock()
}

// StopExecutingThreadForCycle yields the calling thread's turn back to the
// tick loop and parks until it is granted the turn again
// (stopExecutingThreadForCycle). Thread bodies call this directly only when
// they want to yield without sleeping; TickSleep calls it on their behalf.
func (rt *Runtime) StopExecutingThreadForCycle(st *sched.Thread) {
	rt.yield(st)
	rt.waitForTurn(st)
}

// TickSleep puts st to sleep for numTicks and parks its goroutine until the
// tick loop wakes it (tickSleep, including its stopExecutingThreadForCycle
// tail call).
func (rt *Runtime) TickSleep(st *sched.Thread, numTicks int) int {
	start := rt.sched.TickSleep(st, rt.GetCurrentTick(), numTicks)
	rt.StopExecutingThreadForCycle(st)
	return start
}

// GetCurrentTick implements the getCurrentTick collaborator.
func (rt *Runtime) GetCurrentTick() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.tick
}

// GetCurrentThread implements the getCurrentThread collaborator. Valid only
// when called from within a thread body, where it returns that body's own
// *sched.Thread.
func (rt *Runtime) GetCurrentThread() *sched.Thread {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.turn
}

// Run drives the tick loop: each iteration asks the scheduler for the next
// thread to run, grants it the turn, waits for it to yield or terminate,
// then advances the tick. Returns nil once no threads remain ready or
// asleep, or ctx.Err() if canceled first.
func (rt *Runtime) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		next, ok := rt.sched.NextThreadToRun(rt.GetCurrentTick())
		if !ok {
			if rt.sched.SleepCount() > 0 {
				// Nothing is ready yet, but sleepers remain: idle this tick.
				rt.mu.Lock()
				rt.tick++
				rt.mu.Unlock()
				continue
			}
			rt.log.Log(slog.LevelInfo, "runtime: no threads remain")
			return nil
		}

		rt.mu.Lock()
		rt.turn = next
		delete(rt.yielded, next)
		rt.cond.Broadcast()
		for !rt.yielded[next] {
			rt.cond.Wait()
		}
		rt.tick++
		rt.mu.Unlock()
	}
}
