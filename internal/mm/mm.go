// Package mm implements the physical-memory arena, two-level page tables and
// clock-algorithm frame eviction described in spec.md §3–§4.1–§4.3 (the
// MemoryImage, PageTable/PageDirectory and FrameTable/FreeList components).
//
// Grounded on biscuit's mem/vm packages (Oichkatzelesfrettschen-biscuit):
// a sync.Mutex-guarded arena struct owning fixed-size slices of descriptors,
// addressed by small integer indices rather than raw pointers. Unlike
// biscuit, nothing here talks to a modified Go runtime or an MMU — the
// "physical memory" is just a []byte, matching the spec's literal framing of
// an emulator rather than a kernel.
package mm

import (
	"log/slog"
	"sync"

	"vmemu/internal/config"
	"vmemu/internal/klog"
	"vmemu/internal/kpanic"
	"vmemu/internal/swap"
)

// PTE is a page-table entry (spec.md §3).
type PTE struct {
	FrameIndex uint16
	Valid      bool
	Present    bool
}

// PageTable holds one thread's page table entries, guarded by its own lock
// (spec.md §3 "PageTable"). The lock is held only while reading/writing
// PTEs, never across free-list manipulation; the one place it is held across
// I/O is evictAFrame, which keeps the victim owner's table locked while the
// frame is paged out.
type PageTable struct {
	mu      sync.Mutex
	entries []PTE
}

func newPageTable(numPages int) *PageTable {
	return &PageTable{entries: make([]PTE, numPages)}
}

// Lock acquires the page table's lock. Exported so vmm's fault-handling
// retry loop (spec.md §4.5) can hold it across the present-bit check without
// mm having to know about that loop's shape.
func (pt *PageTable) Lock() { pt.mu.Lock() }

// Unlock releases the page table's lock.
func (pt *PageTable) Unlock() { pt.mu.Unlock() }

// Entry returns the PTE for the given vpn. Callers must hold the table's
// lock.
func (pt *PageTable) Entry(vpn int) *PTE { return &pt.entries[vpn] }

// release is the shutdown step for the table's lock, and does nothing: a
// sync.Mutex needs no teardown. Named release rather than destroy/close: the
// original C deinitializeSystemMemory calls pthread_mutex_consistent on each
// page-table lock at shutdown instead of destroying it (spec.md §9's
// "Page-table 'lock destroy' call" note identifies this as a likely bug).
// Treating the call as a no-op reproduces the observable behavior without
// inheriting the bug: there is nothing to "make consistent" on a sync.Mutex.
func (pt *PageTable) release() {
	// pt.mu may or may not be held at shutdown depending on call history;
	// a zero-value sync.Mutex is always safe to leave as-is.
}

// Directory is the directory of up to NumPageTables per-thread page tables
// (spec.md §3 "PageDirectory").
type Directory struct {
	tables []*PageTable
}

func newDirectory(numTables, numPages int) *Directory {
	d := &Directory{tables: make([]*PageTable, numTables)}
	for i := range d.tables {
		d.tables[i] = newPageTable(numPages)
	}
	return d
}

// Table returns the page table belonging to threadID (1-based, spec.md
// §4.2's getThreadPageTable).
func (d *Directory) Table(threadID uint8) *PageTable {
	return d.tables[int(threadID)-1]
}

// FTE is a frame-table entry (spec.md §3). PhysAddr is a slice directly into
// the arena's byte region, so copying into/out of it is the "physical
// write".
type FTE struct {
	mu            sync.Mutex
	Accessed      bool
	OwnerThreadID uint8
	VPN           uint16
	FrameIndex    uint16
	PhysAddr      []byte
}

// Lock acquires the frame's lock.
func (f *FTE) Lock() { f.mu.Lock() }

// Unlock releases the frame's lock.
func (f *FTE) Unlock() { f.mu.Unlock() }

// MarkAccessed sets the frame's accessed bit, giving it a "second chance"
// in the clock algorithm: the next sweep clears the bit instead of evicting
// the frame (spec.md §4.3).
func (f *FTE) MarkAccessed() { f.Accessed = true }

// Owner returns the frame's current owning thread id, or 0 if free. Used by
// internal/stats, which must not read OwnerThreadID directly without the
// frame's lock held.
func (f *FTE) Owner() uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.OwnerThreadID
}

// Arena owns the physical byte region, the frame table, the free list, and
// the eviction cursor — the process-wide mutable state spec.md §9's "Global
// cursors" note says should be explicit fields of a process-level context
// rather than package globals, so each Image is an independent clean-room
// instance.
type Arena struct {
	cfg config.EngineConfig

	bytes []byte

	dir    *Directory
	frames []*FTE

	freeMu    sync.Mutex
	freeQueue []uint16 // FIFO of free frame indices

	evictMu     sync.Mutex // process-wide: at most one eviction in flight
	clockCursor int

	store  *swap.Store
	panics kpanic.Handler
	log    *klog.Logger
}

// Image is the MemoryImage plus the PageDirectory and FrameTable bootstrapped
// over it (spec.md §4.1's initialize/deinitialize).
type Image struct {
	*Arena
}

// New bootstraps a fresh Image per spec.md §4.1: zero the byte region,
// place the directory and frame table, chain every frame onto the free
// list in index order.
func New(cfg config.EngineConfig, store *swap.Store, panics kpanic.Handler, log *klog.Logger) *Image {
	if log == nil {
		log = klog.New(nil)
	}
	a := &Arena{
		cfg:    cfg,
		bytes:  make([]byte, cfg.AllMemSize),
		dir:    newDirectory(cfg.NumPageTables, cfg.NumPages),
		frames: make([]*FTE, cfg.NumFrames),
		store:  store,
		panics: panics,
		log:    log,
	}
	a.freeQueue = make([]uint16, 0, cfg.NumFrames)
	for i := 0; i < cfg.NumFrames; i++ {
		phys := a.bytes[cfg.UserBase+i*cfg.PageSize : cfg.UserBase+(i+1)*cfg.PageSize]
		a.frames[i] = &FTE{FrameIndex: uint16(i), PhysAddr: phys}
		a.freeQueue = append(a.freeQueue, uint16(i))
	}
	log.Log(slog.LevelInfo, "memory image initialized", slog.Int("frames", cfg.NumFrames), slog.Int("all_mem_size", cfg.AllMemSize))
	return &Image{Arena: a}
}

// Reset zeroes the arena (spec.md §4.1's deinitialize). Its lock-release
// step calls each table's release, which is a no-op.
func (img *Image) Reset() {
	for _, t := range img.dir.tables {
		t.release()
	}
	for i := range img.bytes {
		img.bytes[i] = 0
	}
	img.log.Log(slog.LevelInfo, "memory image reset")
}

// Config returns the engine configuration the image was built with.
func (img *Image) Config() config.EngineConfig { return img.cfg }

// VirtualAddressToVPN extracts the virtual page number from a virtual
// address (spec.md §4.2).
func VirtualAddressToVPN(addr uint32) uint32 {
	return (addr & 0x7FF000) >> 12
}

func offsetInPage(addr uint32) uint32 { return addr & 0xFFF }

// Table returns the page table belonging to threadID.
func (img *Image) Table(threadID uint8) *PageTable {
	return img.dir.Table(threadID)
}

// Frame returns the frame table entry at index idx.
func (img *Image) Frame(idx uint16) *FTE {
	return img.frames[idx]
}

// FreeCount reports the current free-list length (spec.md §8 property 2).
func (img *Image) FreeCount() int {
	img.freeMu.Lock()
	defer img.freeMu.Unlock()
	return len(img.freeQueue)
}

// FrameCount reports the total number of physical frames in the arena.
func (img *Image) FrameCount() int { return len(img.frames) }

// OwnedFrameCount reports how many frames currently have a non-zero owner —
// used by the tests' FreeCount invariant checks.
func (img *Image) OwnedFrameCount() int {
	n := 0
	for _, f := range img.frames {
		f.mu.Lock()
		if f.OwnerThreadID != 0 {
			n++
		}
		f.mu.Unlock()
	}
	return n
}

// AllocatePages implements spec.md §4.2's allocatePages over the half-open
// range [startAddr, endAddr).
func (img *Image) AllocatePages(threadID uint8, startAddr, endAddr uint32) error {
	pt := img.Table(threadID)
	cur := startAddr
	for cur < endAddr {
		vpn := VirtualAddressToVPN(cur)

		pt.mu.Lock()
		pte := pt.entries[vpn]
		pt.mu.Unlock()

		for !pte.Valid || !pte.Present {
			if _, err := img.AllocateFrameForPage(threadID, uint16(vpn)); err != nil {
				return err
			}
			pt.mu.Lock()
			pte = pt.entries[vpn]
			pt.mu.Unlock()
		}

		off := offsetInPage(cur)
		if endAddr-cur > uint32(img.cfg.PageSize)-off {
			cur += uint32(img.cfg.PageSize) - off
		} else {
			cur = endAddr
		}
	}
	return nil
}

// AllocateFrameForPage implements spec.md §4.3's allocateFrameForPage.
func (img *Image) AllocateFrameForPage(threadID uint8, vpn uint16) (uint16, error) {
	img.freeMu.Lock()
	// A loop, not a single check-then-evict: under concurrent allocation
	// (spec.md §1, §8 property 3) two callers can both observe an empty
	// queue, each evict one frame, and one can steal the other's refilled
	// frame before it reacquires freeMu. Re-checking after every eviction
	// retries instead of indexing into a queue that's still empty.
	for len(img.freeQueue) == 0 {
		img.freeMu.Unlock()
		if err := img.evictAFrame(); err != nil {
			return 0, err
		}
		img.freeMu.Lock()
	}

	idx := img.freeQueue[0]
	img.freeQueue = img.freeQueue[1:]
	img.freeMu.Unlock()

	f := img.frames[idx]
	f.mu.Lock()
	f.Accessed = true
	f.OwnerThreadID = threadID
	f.VPN = vpn
	f.mu.Unlock()

	pt := img.Table(threadID)
	pt.mu.Lock()
	pt.entries[vpn].FrameIndex = idx
	pt.entries[vpn].Valid = true
	pt.entries[vpn].Present = true
	pt.mu.Unlock()

	img.log.Data(slog.LevelDebug, "frame allocated", slog.Int("thread_id", int(threadID)), slog.Int("vpn", int(vpn)), slog.Int("frame", int(idx)))
	return idx, nil
}

// evictAFrame implements spec.md §4.3's clock algorithm. Lock order
// eviction ⊃ free-list ⊃ frame ⊃ page-table is maintained throughout.
func (img *Image) evictAFrame() error {
	img.evictMu.Lock()
	defer img.evictMu.Unlock()

	var victim *FTE
	n := len(img.frames)
	for victim == nil {
		f := img.frames[img.clockCursor]
		img.clockCursor = (img.clockCursor + 1) % n

		f.mu.Lock()
		if f.OwnerThreadID == 0 {
			f.mu.Unlock()
			continue
		}
		if f.Accessed {
			f.Accessed = false
			f.mu.Unlock()
			continue
		}
		victim = f
		// leave victim locked; break out holding the lock
		break
	}

	owner := victim.OwnerThreadID
	vpn := victim.VPN
	idx := victim.FrameIndex
	pt := img.Table(owner)

	pt.mu.Lock()
	if err := img.store.PageOut(owner, vpn, victim.PhysAddr); err != nil {
		pt.mu.Unlock()
		victim.mu.Unlock()
		return kpanic.NewFault(img.panics, owner, err, "swap page out failed")
	}
	pt.entries[vpn].Present = false
	pt.entries[vpn].FrameIndex = 0
	pt.mu.Unlock()

	victim.OwnerThreadID = 0
	victim.VPN = 0
	victim.mu.Unlock()

	img.freeMu.Lock()
	img.freeQueue = append(img.freeQueue, idx)
	img.freeMu.Unlock()

	img.log.Data(slog.LevelDebug, "frame evicted", slog.Int("thread_id", int(owner)), slog.Int("vpn", int(vpn)), slog.Int("frame", int(idx)))
	return nil
}

// SwapIn loads vpn's swap file into frameIndex and updates the frame's
// ownership fields (spec.md §4.4's swapPageFromDisk, invoked from the VMM
// layer once a frame has been allocated for a faulting page).
func (img *Image) SwapIn(threadID uint8, vpn uint16, frameIndex uint16) error {
	f := img.frames[frameIndex]
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := img.store.PageIn(threadID, vpn, f.PhysAddr); err != nil {
		return kpanic.NewFault(img.panics, threadID, err, "swap page in failed")
	}
	f.OwnerThreadID = threadID
	f.VPN = vpn
	return nil
}
