//go:build unix

package fastparser

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MmapFile memory-maps a file for reading.
// Returns the mapped byte slice and a cleanup function that must be called to unmap the file.
//
// This is useful for processing large CSV files efficiently:
//   - The file is mapped into memory without loading it entirely
//   - The OS handles paging data in/out as needed
//   - csv.Open uses this to sample the dialect and then parse the same
//     mapping without a second read or a seek back to the start
//
// Example usage:
//
//	data, cleanup, err := MmapFile("large.csv")
//	if err != nil {
//	    return err
//	}
//	defer cleanup()
//
//	r, err := csv.NewReader(bytes.NewReader(data), dialect)
//	// Scan rows from r...
//
// IMPORTANT: Do not use the data slice after calling cleanup().
func MmapFile(filename string) ([]byte, func(), error) {
	// Open the file
	f, err := os.Open(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}

	// Get file size
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to stat file: %w", err)
	}

	size := stat.Size()
	if size == 0 {
		// Empty file - return empty slice and cleanup that just closes the file
		return []byte{}, func() { f.Close() }, nil
	}

	// Memory-map the file
	data, err := unix.Mmap(
		int(f.Fd()),
		0,
		int(size),
		unix.PROT_READ,
		unix.MAP_SHARED,
	)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to mmap file: %w", err)
	}

	// madvise the kernel to expect sequential access, matching how a
	// streaming CSV parse walks the mapped bytes once from front to back.
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)

	// Create cleanup function that unmaps and closes
	cleanup := func() {
		_ = unix.Munmap(data)
		f.Close()
	}

	return data, cleanup, nil
}
