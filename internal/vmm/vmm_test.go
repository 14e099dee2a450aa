package vmm

import (
	"bytes"
	"errors"
	"testing"

	"vmemu/internal/config"
	"vmemu/internal/kpanic"
	"vmemu/internal/mm"
	"vmemu/internal/swap"
)

func newTestVMM(t *testing.T, numFrames int) *VMM {
	t.Helper()
	cfg := config.EngineConfig{
		PageSize:      4096,
		UserBase:      4096,
		StackEnd:      4096,
		AllMemSize:    4096 + numFrames*4096,
		NumFrames:     numFrames,
		NumPages:      numFrames + 1,
		NumPageTables: 4,
		SwapDir:       ".",
	}
	store, err := swap.New(t.TempDir(), cfg.PageSize)
	if err != nil {
		t.Fatalf("swap.New: %v", err)
	}
	img := mm.New(cfg, store, nil, nil)
	return New(img, store, nil, nil)
}

func TestWriteReadRoundTrip(t *testing.T) {
	v := newTestVMM(t, 2)
	th := v.CreateThread()

	addr := v.AllocateHeapMem(th, 4096)
	if addr < 0 {
		t.Fatal("AllocateHeapMem returned -1")
	}

	want := bytes.Repeat([]byte{0x5A}, 4096)
	if err := v.WriteToAddr(th, addr, want); err != nil {
		t.Fatalf("WriteToAddr: %v", err)
	}

	got := make([]byte, 4096)
	if err := v.ReadFromAddr(th, addr, got); err != nil {
		t.Fatalf("ReadFromAddr: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("read back data does not match what was written")
	}
}

func TestWriteAcrossPageBoundary(t *testing.T) {
	v := newTestVMM(t, 2)
	th := v.CreateThread()

	addr := v.AllocateHeapMem(th, 2*4096)
	if addr < 0 {
		t.Fatal("AllocateHeapMem returned -1")
	}

	want := append(bytes.Repeat([]byte{0x11}, 4096), bytes.Repeat([]byte{0x22}, 4096)...)
	if err := v.WriteToAddr(th, addr, want); err != nil {
		t.Fatalf("WriteToAddr: %v", err)
	}

	got := make([]byte, len(want))
	if err := v.ReadFromAddr(th, addr, got); err != nil {
		t.Fatalf("ReadFromAddr: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("cross-page read back does not match what was written")
	}
}

func TestEvictionRoundTrip(t *testing.T) {
	// Only 2 physical frames for 3 pages worth of heap: allocating the third
	// page forces an eviction of one of the first two before any of them has
	// been written (spec.md scenario S3). The virtual space is one page larger
	// than physical memory, which newTestVMM's layout does not allow.
	cfg := config.EngineConfig{
		PageSize:      4096,
		UserBase:      4096,
		StackEnd:      4096,
		AllMemSize:    4096 + 3*4096,
		NumFrames:     2,
		NumPages:      4,
		NumPageTables: 4,
		SwapDir:       ".",
	}
	store, err := swap.New(t.TempDir(), cfg.PageSize)
	if err != nil {
		t.Fatalf("swap.New: %v", err)
	}
	v := New(mm.New(cfg, store, nil, nil), store, nil, nil)
	th := v.CreateThread()

	addr := v.AllocateHeapMem(th, 3*4096)
	if addr < 0 {
		t.Fatal("AllocateHeapMem returned -1")
	}

	want := bytes.Repeat([]byte{0x99}, 3*4096)
	for i := range want {
		want[i] = byte(i % 251)
	}

	if err := v.WriteToAddr(th, addr, want); err != nil {
		t.Fatalf("WriteToAddr: %v", err)
	}

	got := make([]byte, len(want))
	if err := v.ReadFromAddr(th, addr, got); err != nil {
		t.Fatalf("ReadFromAddr: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("data did not survive an eviction/swap-in round trip intact")
	}
}

func TestOutOfBoundsTriggersKernelPanic(t *testing.T) {
	cfg := config.EngineConfig{
		PageSize:      4096,
		UserBase:      4096,
		StackEnd:      4096,
		AllMemSize:    4096 + 2*4096,
		NumFrames:     2,
		NumPages:      3,
		NumPageTables: 4,
		SwapDir:       ".",
	}
	store, err := swap.New(t.TempDir(), cfg.PageSize)
	if err != nil {
		t.Fatalf("swap.New: %v", err)
	}
	var panicked []uint8
	h := kpanic.Func(func(threadID uint8, _ any) { panicked = append(panicked, threadID) })
	img := mm.New(cfg, store, h, nil)
	v := New(img, store, h, nil)
	th := v.CreateThread()

	err = v.WriteToAddr(th, 0, []byte{1})
	if err == nil {
		t.Fatal("expected an error writing below UserBase")
	}
	var fault *kpanic.Fault
	if !errors.As(err, &fault) {
		t.Fatalf("WriteToAddr error = %v, want *kpanic.Fault", err)
	}
	if len(panicked) != 1 || panicked[0] != th.ThreadID {
		t.Fatalf("kernelPanic called with %v, want exactly [%d]", panicked, th.ThreadID)
	}
}

func TestCacheFileNameMatchesSwapNaming(t *testing.T) {
	v := newTestVMM(t, 1)
	th := v.CreateThread()
	addr := v.AllocateHeapMem(th, 4096)
	if addr < 0 {
		t.Fatal("AllocateHeapMem returned -1")
	}
	got := v.CacheFileName(th, addr)
	want := swap.CacheFileName(th.ThreadID, uint16(mm.VirtualAddressToVPN(uint32(addr))))
	if got != want {
		t.Fatalf("CacheFileName = %q, want %q", got, want)
	}
}
