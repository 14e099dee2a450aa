// Package swap implements per-(thread,page) backing files for evicted
// frames (spec.md §4.4).
//
// Grounded on original_source/mm/src/answer/swap.c's swapPageToDisk /
// swapPageFromDisk, translated from fopen/fwrite/fread into os.File, with
// one hardening addition: PageOut writes to a temp file and fsyncs before
// renaming into place, so a crash mid-write can never leave a truncated
// "<id>_<vpn>.swp" behind (see SPEC_FULL.md's Swap module section).
package swap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrMissing is returned by PageIn when the expected swap file for a
// present=false page does not exist — spec.md §7's MissingSwapOnFault.
var ErrMissing = errors.New("swap: backing file missing")

// Store manages swap files for one emulator instance under Dir.
type Store struct {
	Dir      string
	PageSize int
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string, pageSize int) (*Store, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("swap: creating dir %s: %w", dir, err)
	}
	return &Store{Dir: dir, PageSize: pageSize}, nil
}

// fileName returns "<ownerThreadId>_<vpn>.swp" (spec.md §4.4/§6).
func (s *Store) fileName(threadID uint8, vpn uint16) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%d_%d.swp", threadID, vpn))
}

// CacheFileName exposes the same naming without the directory prefix, for
// getCacheFileName (spec.md §6) callers that only want the bare name.
func CacheFileName(threadID uint8, vpn uint16) string {
	return fmt.Sprintf("%d_%d.swp", threadID, vpn)
}

// PageOut writes the page's PAGE_SIZE bytes to its backing file, truncating
// any prior contents (spec.md §4.4's swapPageToDisk). The write goes through
// a temp file + fdatasync + rename so a partial write is never observable
// under the final name.
func (s *Store) PageOut(threadID uint8, vpn uint16, data []byte) error {
	if len(data) != s.PageSize {
		return fmt.Errorf("swap: page out: expected %d bytes, got %d", s.PageSize, len(data))
	}
	final := s.fileName(threadID, vpn)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("swap: opening %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("swap: writing %s: %w", tmp, err)
	}
	if err := unix.Fdatasync(int(f.Fd())); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("swap: fdatasync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("swap: closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("swap: renaming %s: %w", tmp, err)
	}
	return nil
}

// PageIn reads a page's backing file into data and deletes it (spec.md
// §4.4's swapPageFromDisk: "deleted on swap-in").
func (s *Store) PageIn(threadID uint8, vpn uint16, data []byte) error {
	if len(data) != s.PageSize {
		return fmt.Errorf("swap: page in: expected buffer of %d bytes, got %d", s.PageSize, len(data))
	}
	name := s.fileName(threadID, vpn)
	f, err := os.Open(name)
	if errors.Is(err, os.ErrNotExist) {
		return ErrMissing
	}
	if err != nil {
		return fmt.Errorf("swap: opening %s: %w", name, err)
	}
	n, err := f.Read(data)
	f.Close()
	if err != nil {
		return fmt.Errorf("swap: reading %s: %w", name, err)
	}
	if n != s.PageSize {
		return fmt.Errorf("swap: short read from %s: got %d of %d bytes", name, n, s.PageSize)
	}
	return os.Remove(name)
}

// Exists reports whether a swap file exists for (threadID, vpn) — used by
// property tests (spec.md §8 property 1).
func (s *Store) Exists(threadID uint8, vpn uint16) bool {
	_, err := os.Stat(s.fileName(threadID, vpn))
	return err == nil
}

// Sweep deletes every swap file in the thread/vpn ranges given (spec.md
// §4.4's shutdown cleanup). The original C sweeps threadId in [0,32] and vpn
// in [256, NUM_PAGE_TABLE_ENTRIES]; this repo widens vpn to [0, numPages)
// and keeps thread 0 in range, since a cleanup routine that only reaches
// 3/4 of the VPN space is worth fixing rather than preserving (see
// SPEC_FULL.md's Swap module section).
func (s *Store) Sweep(maxThreadID int, numPages int) {
	for t := 0; t <= maxThreadID; t++ {
		for v := 0; v < numPages; v++ {
			os.Remove(s.fileName(uint8(t), uint16(v)))
		}
	}
}
