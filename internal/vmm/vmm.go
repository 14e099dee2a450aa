// Package vmm implements the VMM public surface (spec.md §4.5–§4.6, §6):
// heap/stack allocation, bounds-checked read/write with page-fault handling,
// and thread handle lifecycle.
package vmm

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"vmemu/internal/klog"
	"vmemu/internal/kpanic"
	"vmemu/internal/mm"
	"vmemu/internal/swap"
)

// ThreadHandle is the VMM-side thread identity (spec.md §3/§4.6).
type ThreadHandle struct {
	ThreadID   uint8
	heapBottom uint32
	stackTop   uint32
	mu         sync.Mutex
}

// HeapBottom returns the current heap-growth pointer.
func (t *ThreadHandle) HeapBottom() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.heapBottom
}

// StackTop returns the current stack-growth pointer.
func (t *ThreadHandle) StackTop() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stackTop
}

// VMM ties together the memory arena, swap store, and thread-handle
// allocator (spec.md §6's VMM public surface).
type VMM struct {
	img       *mm.Image
	store     *swap.Store
	panics    kpanic.Handler
	log       *klog.Logger
	nextID    atomic.Uint32 // monotonic thread id, resets via Startup
	threadsMu sync.Mutex
	threads   map[uint8]*ThreadHandle
}

// New builds a VMM over an already-initialized image and swap store.
func New(img *mm.Image, store *swap.Store, panics kpanic.Handler, log *klog.Logger) *VMM {
	if log == nil {
		log = klog.New(nil)
	}
	v := &VMM{img: img, store: store, panics: panics, log: log, threads: make(map[uint8]*ThreadHandle)}
	v.nextID.Store(1)
	return v
}

// Startup resets the thread-id counter to 1, matching the spec's per-run
// reset of the process-wide currentThreadId (spec.md §4.6, original
// callback.c's startupCallback).
func (v *VMM) Startup() {
	v.nextID.Store(1)
}

// Shutdown sweeps any remaining swap files and resets the arena (spec.md
// §4.1/§4.4's shutdown sequence).
func (v *VMM) Shutdown() {
	v.store.Sweep(32, v.img.Config().NumPages)
	v.img.Reset()
}

// CreateThread allocates a fresh ThreadHandle with a monotonically
// increasing id starting at 1 (spec.md §4.6).
func (v *VMM) CreateThread() *ThreadHandle {
	id := uint8(v.nextID.Add(1) - 1)
	cfg := v.img.Config()
	th := &ThreadHandle{
		ThreadID:   id,
		heapBottom: uint32(cfg.UserBase),
		stackTop:   uint32(cfg.AllMemSize),
	}
	v.threadsMu.Lock()
	v.threads[id] = th
	v.threadsMu.Unlock()
	v.log.Log(slog.LevelInfo, "thread created", slog.Int("thread_id", int(id)))
	return th
}

// DestroyThread releases the handle. The spec's destroyThread awaits
// completion of the underlying OS thread before releasing — that lifecycle
// is owned by internal/runtime in this repo, so DestroyThread here only
// forgets the handle once the caller has already ensured the thread body has
// finished.
func (v *VMM) DestroyThread(th *ThreadHandle) {
	v.threadsMu.Lock()
	delete(v.threads, th.ThreadID)
	v.threadsMu.Unlock()
}

// AllocateHeapMem implements spec.md §4.5's allocateHeapMem.
func (v *VMM) AllocateHeapMem(th *ThreadHandle, size int) int {
	th.mu.Lock()
	base := th.heapBottom
	if uint64(base) >= uint64(th.stackTop) {
		th.mu.Unlock()
		v.log.Log(slog.LevelDebug, "heap exhausted", slog.Int("thread_id", int(th.ThreadID)))
		return -1
	}
	th.mu.Unlock()

	if err := v.img.AllocatePages(th.ThreadID, base, base+uint32(size)); err != nil {
		return -1
	}

	th.mu.Lock()
	th.heapBottom += uint32(size)
	th.mu.Unlock()
	return int(base)
}

// AllocateStackMem implements spec.md §4.5's allocateStackMem.
func (v *VMM) AllocateStackMem(th *ThreadHandle, size int) int {
	th.mu.Lock()
	base := th.stackTop - uint32(size)
	if base < uint32(v.img.Config().StackEnd) {
		th.mu.Unlock()
		v.log.Log(slog.LevelDebug, "stack exhausted", slog.Int("thread_id", int(th.ThreadID)))
		return -1
	}
	top := th.stackTop
	th.mu.Unlock()

	if err := v.img.AllocatePages(th.ThreadID, base, top); err != nil {
		return -1
	}

	th.mu.Lock()
	th.stackTop -= uint32(size)
	th.mu.Unlock()
	return int(base)
}

// checkBounds implements spec.md §4.5's bounds check, invoking kernelPanic
// and returning a *kpanic.Fault on violation.
func (v *VMM) checkBounds(th *ThreadHandle, addr, size int) *kpanic.Fault {
	cfg := v.img.Config()
	if addr < cfg.UserBase || addr > cfg.AllMemSize || addr+size > cfg.AllMemSize {
		return kpanic.NewFault(v.panics, th.ThreadID, addr, "address out of bounds")
	}
	return nil
}

// WriteToAddr implements spec.md §4.5's writeToAddr.
func (v *VMM) WriteToAddr(th *ThreadHandle, addr int, data []byte) error {
	if f := v.checkBounds(th, addr, len(data)); f != nil {
		return f
	}
	return v.walk(th, addr, len(data), true, func(phys []byte, off int) {
		copy(phys, data[off:])
	})
}

// ReadFromAddr implements spec.md §4.5's readFromAddr.
func (v *VMM) ReadFromAddr(th *ThreadHandle, addr int, out []byte) error {
	if f := v.checkBounds(th, addr, len(out)); f != nil {
		return f
	}
	return v.walk(th, addr, len(out), false, func(phys []byte, off int) {
		copy(out[off:], phys)
	})
}

// walk implements the page-by-page copy loop shared by read and write
// (spec.md §4.5 step 2–4). write marks the touched frame as accessed since
// it is either freshly allocated or served from disk; read does not,
// matching the source's asymmetry (spec.md §4.5, §9's "Missing accessed
// update on read" note).
//
// spec.md §4.5 step 3 reads as if the page-table lock stays held across the
// FTE acquire ("Acquire the FTE lock ... Release FTE lock, release
// page-table lock"), but §5 fixes the total lock order as
// eviction ⊃ free-list ⊃ frame ⊃ page-table — the opposite nesting. evictAFrame
// (internal/mm) holds the victim frame's lock while acquiring its owner's
// page-table lock, so a walk that held its own page-table lock while waiting
// on a frame lock would AB-BA deadlock against an evictor targeting that same
// page. This implementation follows §5's order instead: the page-table lock
// is always released before the frame lock is taken, never held across it.
func (v *VMM) walk(th *ThreadHandle, addr, size int, write bool, copyFn func(phys []byte, dataOffset int)) error {
	cfg := v.img.Config()
	pt := v.img.Table(th.ThreadID)

	cur := addr
	dataOffset := 0
	left := size
	for left > 0 {
		vpn := mm.VirtualAddressToVPN(uint32(cur))

		fte, err := v.faultInAndLockFrame(th, pt, vpn)
		if err != nil {
			return err
		}

		if write {
			fte.MarkAccessed()
		}

		off := cur & 0xFFF
		n := cfg.PageSize - off
		if n > left {
			n = left
		}
		copyFn(fte.PhysAddr[off:off+n], dataOffset)

		fte.Unlock()

		left -= n
		dataOffset += n
		cur += n
	}
	return nil
}

// faultInAndLockFrame resolves vpn to a present frame and returns it locked,
// without ever holding pt's lock and a frame lock at the same time (see
// walk's lock-ordering note). Releasing the page-table lock before taking the
// frame lock opens a gap in which the clock evictor could pick this very
// frame and reassign it to someone else before this call acquires it; once
// the frame lock is held, it re-checks that the frame still belongs to
// (th, vpn) and restarts the fault-in from scratch on a mismatch rather than
// operating on a frame that is no longer this page's (spec.md §3 invariant
// 1).
func (v *VMM) faultInAndLockFrame(th *ThreadHandle, pt *mm.PageTable, vpn uint32) (*mm.FTE, error) {
	for {
		pt.Lock()
		frameIdx, err := v.faultIn(th, pt, vpn)
		pt.Unlock()
		if err != nil {
			return nil, err
		}

		fte := v.img.Frame(frameIdx)
		fte.Lock()
		if fte.OwnerThreadID != th.ThreadID || uint32(fte.VPN) != vpn {
			fte.Unlock()
			continue
		}
		return fte, nil
	}
}

// faultIn implements the present-bit retry loop shared by read/write (spec.md
// §4.5 step 2): while the PTE is not present, drop the page-table lock,
// allocate a frame, swap in from disk, and recheck. pt must be locked on
// entry and is locked again on return (even on error), matching the caller's
// unlock discipline.
func (v *VMM) faultIn(th *ThreadHandle, pt *mm.PageTable, vpn uint32) (uint16, error) {
	pte := pt.Entry(int(vpn))
	for !pte.Present {
		pt.Unlock()

		idx, err := v.img.AllocateFrameForPage(th.ThreadID, uint16(vpn))
		if err != nil {
			pt.Lock()
			return 0, err
		}
		if err := v.img.SwapIn(th.ThreadID, uint16(vpn), idx); err != nil {
			pt.Lock()
			return 0, err
		}

		pt.Lock()
		pte = pt.Entry(int(vpn))
	}
	return pte.FrameIndex, nil
}

// CacheFileName implements spec.md §6's getCacheFileName.
func (v *VMM) CacheFileName(th *ThreadHandle, addr int) string {
	vpn := mm.VirtualAddressToVPN(uint32(addr))
	return swap.CacheFileName(th.ThreadID, uint16(vpn))
}
