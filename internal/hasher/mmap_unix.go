// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package hasher

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapFile opens path and memory-maps its full contents read-only and
// private, exactly as bureau's cache device maps its backing file,
// except PROT_READ/MAP_PRIVATE rather than MAP_SHARED since the
// hasher never writes through the mapping and must not observe
// concurrent writers' changes mid-hash. The returned cleanup must be
// called exactly once, regardless of whether hashing succeeds.
func mapFile(path string) (data []byte, cleanup func() error, err error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, nil, fmt.Errorf("stating %s: %w", path, err)
	}
	if stat.Mode&unix.S_IFMT != unix.S_IFREG {
		unix.Close(fd)
		return nil, nil, fmt.Errorf("%s is not a regular file", path)
	}
	if stat.Size == 0 {
		unix.Close(fd)
		return nil, func() error { return nil }, nil
	}

	data, err = unix.Mmap(fd, 0, int(stat.Size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		unix.Close(fd)
		return nil, nil, fmt.Errorf("memory-mapping %s: %w", path, err)
	}

	cleanup = func() error {
		mapErr := unix.Munmap(data)
		closeErr := unix.Close(fd)
		if mapErr != nil {
			return mapErr
		}
		return closeErr
	}
	return data, cleanup, nil
}
