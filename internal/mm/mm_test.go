package mm

import (
	"testing"

	"vmemu/internal/config"
	"vmemu/internal/kpanic"
	"vmemu/internal/swap"
)

func testConfig() config.EngineConfig {
	return config.EngineConfig{
		PageSize:      4096,
		AllMemSize:    16384, // 4 pages
		UserBase:      0,
		StackEnd:      0,
		NumFrames:     2,
		NumPages:      4,
		NumPageTables: 2,
		SwapDir:       ".",
	}
}

func newTestImage(t *testing.T) *Image {
	t.Helper()
	cfg := testConfig()
	store, err := swap.New(t.TempDir(), cfg.PageSize)
	if err != nil {
		t.Fatalf("swap.New: %v", err)
	}
	var panicked []uint8
	h := kpanic.Func(func(threadID uint8, _ any) { panicked = append(panicked, threadID) })
	img := New(cfg, store, h, nil)
	t.Cleanup(func() {
		if len(panicked) > 0 {
			t.Logf("kernel panics recorded during test: %v", panicked)
		}
	})
	return img
}

func TestNewImageStartsWithAllFramesFree(t *testing.T) {
	img := newTestImage(t)
	if got, want := img.FreeCount(), img.FrameCount(); got != want {
		t.Fatalf("FreeCount() = %d, want %d", got, want)
	}
	if got := img.OwnedFrameCount(); got != 0 {
		t.Fatalf("OwnedFrameCount() = %d, want 0", got)
	}
}

func TestAllocateFrameForPageConsumesFreeList(t *testing.T) {
	img := newTestImage(t)

	idx0, err := img.AllocateFrameForPage(1, 0)
	if err != nil {
		t.Fatalf("AllocateFrameForPage(vpn=0): %v", err)
	}
	idx1, err := img.AllocateFrameForPage(1, 1)
	if err != nil {
		t.Fatalf("AllocateFrameForPage(vpn=1): %v", err)
	}
	if idx0 == idx1 {
		t.Fatalf("expected distinct frame indices, got %d twice", idx0)
	}
	if got := img.FreeCount(); got != 0 {
		t.Fatalf("FreeCount() = %d, want 0", got)
	}
	if got := img.OwnedFrameCount(); got != 2 {
		t.Fatalf("OwnedFrameCount() = %d, want 2", got)
	}

	pt := img.Table(1)
	pt.Lock()
	e0, e1 := pt.Entry(0), pt.Entry(1)
	pt.Unlock()
	if !e0.Present || !e0.Valid || e0.FrameIndex != idx0 {
		t.Fatalf("PTE(0) = %+v, want present/valid with frame %d", e0, idx0)
	}
	if !e1.Present || !e1.Valid || e1.FrameIndex != idx1 {
		t.Fatalf("PTE(1) = %+v, want present/valid with frame %d", e1, idx1)
	}
}

func TestAllocateFrameForPageEvictsWhenFull(t *testing.T) {
	img := newTestImage(t)

	if _, err := img.AllocateFrameForPage(1, 0); err != nil {
		t.Fatalf("AllocateFrameForPage(vpn=0): %v", err)
	}
	if _, err := img.AllocateFrameForPage(1, 1); err != nil {
		t.Fatalf("AllocateFrameForPage(vpn=1): %v", err)
	}

	// A third allocation with no free frames must evict one of the first two.
	idx2, err := img.AllocateFrameForPage(1, 2)
	if err != nil {
		t.Fatalf("AllocateFrameForPage(vpn=2): %v", err)
	}

	pt := img.Table(1)
	pt.Lock()
	e0, e1, e2 := pt.Entry(0), pt.Entry(1), pt.Entry(2)
	pt.Unlock()

	if !e2.Present || e2.FrameIndex != idx2 {
		t.Fatalf("PTE(2) = %+v, want present with frame %d", e2, idx2)
	}

	// Exactly one of the first two pages should have been evicted, leaving a
	// swap file behind for it (spec.md §8 property 1).
	evicted := 0
	for vpn, e := range []*PTE{e0, e1} {
		if !e.Present {
			evicted++
			if !img.store.Exists(1, uint16(vpn)) {
				t.Fatalf("PTE(%d) evicted but no swap file present", vpn)
			}
		}
	}
	if evicted != 1 {
		t.Fatalf("expected exactly 1 eviction among the first two pages, got %d", evicted)
	}
	if got := img.OwnedFrameCount(); got != img.FrameCount() {
		t.Fatalf("OwnedFrameCount() = %d, want %d (arena fully owned when every frame is live)", got, img.FrameCount())
	}
}

func TestAllocatePagesSpansMultiplePages(t *testing.T) {
	img := newTestImage(t)

	if err := img.AllocatePages(1, 0, uint32(img.cfg.PageSize)+1); err != nil {
		t.Fatalf("AllocatePages: %v", err)
	}

	pt := img.Table(1)
	pt.Lock()
	e0, e1 := pt.Entry(0), pt.Entry(1)
	pt.Unlock()
	if !e0.Valid || !e0.Present {
		t.Fatalf("PTE(0) = %+v, want valid and present", e0)
	}
	if !e1.Valid || !e1.Present {
		t.Fatalf("PTE(1) = %+v, want valid and present", e1)
	}
}
