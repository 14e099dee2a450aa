package swap

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"golang.org/x/tools/txtar"
)

func TestPageOutPageInRoundTrip(t *testing.T) {
	store, err := New(t.TempDir(), 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	want := bytes.Repeat([]byte{0xAB}, 16)
	if err := store.PageOut(3, 7, want); err != nil {
		t.Fatalf("PageOut: %v", err)
	}
	if !store.Exists(3, 7) {
		t.Fatal("expected swap file to exist after PageOut")
	}

	got := make([]byte, 16)
	if err := store.PageIn(3, 7, got); err != nil {
		t.Fatalf("PageIn: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("PageIn returned %v, want %v", got, want)
	}
	if store.Exists(3, 7) {
		t.Fatal("expected swap file to be deleted after PageIn")
	}
}

func TestPageInMissingFile(t *testing.T) {
	store, err := New(t.TempDir(), 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	buf := make([]byte, 16)
	err = store.PageIn(1, 2, buf)
	if !errors.Is(err, ErrMissing) {
		t.Fatalf("PageIn on missing file = %v, want ErrMissing", err)
	}
}

func TestPageOutWrongSize(t *testing.T) {
	store, err := New(t.TempDir(), 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.PageOut(1, 1, []byte{1, 2, 3}); err == nil {
		t.Fatal("expected PageOut to reject a buffer of the wrong size")
	}
}

// TestPageOutRoundTripsGoldenFixture parses a txtar archive built in the
// test into a 32-byte golden page and checks that those exact bytes
// round-trip through PageOut/PageIn.
func TestPageOutRoundTripsGoldenFixture(t *testing.T) {
	archive := txtar.Parse([]byte("-- page.bin --\n" + strings.Repeat("A", 32) + "\n"))
	if len(archive.Files) != 1 {
		t.Fatalf("golden archive has %d files, want 1", len(archive.Files))
	}
	golden := bytes.TrimSuffix(archive.Files[0].Data, []byte("\n"))
	if len(golden) != 32 {
		t.Fatalf("golden fixture is %d bytes, want 32", len(golden))
	}

	store, err := New(t.TempDir(), 32)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.PageOut(9, 1, golden); err != nil {
		t.Fatalf("PageOut: %v", err)
	}

	got := make([]byte, 32)
	if err := store.PageIn(9, 1, got); err != nil {
		t.Fatalf("PageIn: %v", err)
	}
	if !bytes.Equal(got, golden) {
		t.Fatalf("round-tripped page = %q, want golden %q", got, golden)
	}
}

func TestCacheFileName(t *testing.T) {
	if got, want := CacheFileName(5, 12), "5_12.swp"; got != want {
		t.Fatalf("CacheFileName = %q, want %q", got, want)
	}
}

func TestSweepRemovesEverySwapFile(t *testing.T) {
	store, err := New(t.TempDir(), 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data := bytes.Repeat([]byte{0x01}, 16)
	for tid := uint8(0); tid <= 2; tid++ {
		for vpn := uint16(0); vpn < 3; vpn++ {
			if err := store.PageOut(tid, vpn, data); err != nil {
				t.Fatalf("PageOut(%d,%d): %v", tid, vpn, err)
			}
		}
	}

	store.Sweep(2, 3)

	for tid := uint8(0); tid <= 2; tid++ {
		for vpn := uint16(0); vpn < 3; vpn++ {
			if store.Exists(tid, vpn) {
				t.Fatalf("expected Sweep to remove %d_%d.swp", tid, vpn)
			}
		}
	}
}
