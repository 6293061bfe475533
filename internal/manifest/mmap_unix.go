// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package manifest

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapFile memory-maps path's full contents read-only, mirroring the
// hasher pool's own mmap sequence for the same reason: the content-
// addressing hash is computed over the artifact exactly as it will be
// read back, not over a separately buffered copy.
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
	if stat.Size == 0 {
		unix.Close(fd)
		return nil, nil, fmt.Errorf("%s is empty", path)
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
