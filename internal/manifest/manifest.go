// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest writes the two repository manifest artifacts — a
// recursive directory listing and a sorted list of file hashes — and
// content-addresses each by its own BLAKE3 root: write to a temporary
// name, memory-map it, hash it, and rename it to its hex digest.
package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/nilgrove/repodex/internal/blake3hash"
	"github.com/nilgrove/repodex/internal/schema"
	"github.com/nilgrove/repodex/internal/store"
	"github.com/nilgrove/repodex/internal/wire"
)

// DefaultInterval is the write throttle applied when no configuration
// override is given.
const DefaultInterval = 5 * time.Minute

// Writer produces both manifest artifacts against a store, throttled
// to at most once per interval unless a caller forces an immediate
// write.
type Writer struct {
	st       *store.Store
	objDir   string
	interval time.Duration
	compress bool

	mu        sync.Mutex
	dirty     bool
	lastWrite time.Time
}

// New returns a Writer that stores artifacts under objDir, creating
// it if necessary. interval <= 0 disables the time-based throttle
// (every MarkDirty is eligible to trigger an immediate Flush).
func New(st *store.Store, objDir string, interval time.Duration, compress bool) (*Writer, error) {
	if err := os.MkdirAll(objDir, 0o755); err != nil {
		return nil, fmt.Errorf("manifest: creating %s: %w", objDir, err)
	}
	return &Writer{st: st, objDir: objDir, interval: interval, compress: compress}, nil
}

// MarkDirty records that the store has changed since the last write,
// making the writer eligible to produce new artifacts on the next
// Flush once the configured interval has elapsed.
func (w *Writer) MarkDirty() {
	w.mu.Lock()
	w.dirty = true
	w.mu.Unlock()
}

// Flush writes both artifacts if due: either force is set, or the
// writer is dirty and at least interval has passed since the last
// write. The dirty flag is cleared before the write runs, so a
// MarkDirty call arriving while Flush is in progress is preserved for
// the next call rather than lost.
func (w *Writer) Flush(force bool) error {
	w.mu.Lock()
	due := force
	if !due && w.dirty {
		due = w.interval <= 0 || time.Since(w.lastWrite) >= w.interval
	}
	if !due {
		w.mu.Unlock()
		return nil
	}
	w.dirty = false
	w.mu.Unlock()

	if err := w.writeDirectoryListing(); err != nil {
		return fmt.Errorf("manifest: writing directory listing: %w", err)
	}
	if err := w.writeHashList(); err != nil {
		return fmt.Errorf("manifest: writing hash list: %w", err)
	}

	w.mu.Lock()
	w.lastWrite = time.Now()
	w.mu.Unlock()
	return nil
}

func (w *Writer) writeDirectoryListing() error {
	tmpPath, err := w.encodeArtifact("dirlisting-*.tmp", func(enc *wire.Encoder) error {
		return w.st.Transact(store.ReadOnly, func(txn *store.Txn) error {
			return encodeDirectory(txn, enc, schema.RootDirID)
		})
	})
	if err != nil {
		return err
	}
	return w.finalizeArtifact(tmpPath, schema.HeaderDirListingRoot, nil)
}

func (w *Writer) writeHashList() error {
	var hashes []blake3hash.Hash
	err := w.st.Transact(store.ReadOnly, func(txn *store.Txn) error {
		it, err := store.NewHashIterator(txn)
		if err != nil {
			return err
		}
		defer it.Close()
		for {
			h, ok, err := it.Next()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			hashes = append(hashes, h)
		}
	})
	if err != nil {
		return fmt.Errorf("listing distinct file hashes: %w", err)
	}
	if len(hashes) == 0 {
		return nil
	}

	tmpPath, err := w.encodeArtifact("hashlist-*.tmp", func(enc *wire.Encoder) error {
		enc.BeginIndefiniteArray()
		for _, h := range hashes {
			enc.WriteBytes(h[:])
		}
		enc.EndIndefinite()
		return nil
	})
	if err != nil {
		return err
	}

	count := uint64(len(hashes))
	return w.finalizeArtifact(tmpPath, schema.HeaderHashListRoot, func(txn *store.Txn) error {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, count)
		return txn.Put(schema.HeaderKey(schema.HeaderHashListCount), buf)
	})
}

// encodeDirectory writes one directory's triple — subdir_names, files,
// subdirs — in the grammar described by §4.5, descending depth-first
// into subdirectories after its own shape is fully written.
func encodeDirectory(txn *store.Txn, enc *wire.Encoder, dirID uint64) error {
	type subdir struct {
		name string
		id   uint64
	}
	type file struct {
		name string
		size int64
		b3   blake3hash.Hash
	}

	var dirs []subdir
	var files []file

	c, err := store.NewDirCursor(txn, dirID)
	if err != nil {
		return err
	}
	for {
		name, value, ok, nextErr := c.Next()
		if nextErr != nil {
			c.Close()
			return nextErr
		}
		if !ok {
			break
		}
		switch schema.ClassifyEntry(value) {
		case schema.EntrySubdir:
			dirs = append(dirs, subdir{name: name, id: schema.DecodeSubdirValue(value)})
		case schema.EntryHashed:
			_, size, b3 := schema.DecodeHashedValue(value)
			files = append(files, file{name: name, size: size, b3: b3})
		}
	}
	c.Close()

	enc.BeginArray(3)

	enc.BeginIndefiniteArray()
	for _, d := range dirs {
		enc.WriteText(d.name)
	}
	enc.EndIndefinite()

	enc.BeginIndefiniteArray()
	for _, f := range files {
		enc.BeginMap(3)
		enc.WriteUint(0)
		enc.WriteText(f.name)
		enc.WriteUint(1)
		enc.WriteInt(f.size)
		enc.WriteUint(2)
		enc.WriteBytes(f.b3[:])
	}
	enc.EndIndefinite()

	enc.BeginIndefiniteArray()
	for _, d := range dirs {
		if err := encodeDirectory(txn, enc, d.id); err != nil {
			return err
		}
	}
	enc.EndIndefinite()

	return enc.Err()
}

// encodeArtifact writes a temp file under objDir matching pattern,
// running fill against a wire.Encoder over it (wrapped in a streaming
// zstd writer when compression is configured), and returns the temp
// file's path. The file is removed on any failure.
func (w *Writer) encodeArtifact(pattern string, fill func(enc *wire.Encoder) error) (tmpPath string, err error) {
	tmpFile, err := os.CreateTemp(w.objDir, pattern)
	if err != nil {
		return "", fmt.Errorf("creating temp artifact: %w", err)
	}
	tmpPath = tmpFile.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	var dest io.Writer = tmpFile
	var zw *zstd.Encoder
	if w.compress {
		zw, err = zstd.NewWriter(tmpFile)
		if err != nil {
			tmpFile.Close()
			return "", fmt.Errorf("opening zstd writer: %w", err)
		}
		dest = zw
	}

	enc := wire.NewEncoder(dest)
	fillErr := fill(enc)
	encErr := enc.Err()

	var closeErr error
	if zw != nil {
		closeErr = zw.Close()
	}
	if cerr := tmpFile.Close(); closeErr == nil {
		closeErr = cerr
	}

	if fillErr != nil {
		return "", fillErr
	}
	if encErr != nil {
		return "", encErr
	}
	if closeErr != nil {
		return "", closeErr
	}

	success = true
	return tmpPath, nil
}

// finalizeArtifact hashes the temp file at tmpPath, renames it to its
// hex digest under objDir (or discards it if that digest is already
// present), and atomically updates the header record at rootTag — and,
// when provided, extra — only if the digest changed. The previous
// artifact is unlinked only after that update commits.
func (w *Writer) finalizeArtifact(tmpPath string, rootTag byte, extra func(txn *store.Txn) error) error {
	data, cleanup, err := mapFile(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("mapping temp artifact: %w", err)
	}
	newHash := blake3hash.HashRoot(data)
	if cerr := cleanup(); cerr != nil {
		return fmt.Errorf("unmapping temp artifact: %w", cerr)
	}

	finalPath := filepath.Join(w.objDir, newHash.Format())
	if _, statErr := os.Stat(finalPath); statErr == nil {
		if rerr := os.Remove(tmpPath); rerr != nil {
			return fmt.Errorf("removing duplicate temp artifact: %w", rerr)
		}
	} else if rerr := os.Rename(tmpPath, finalPath); rerr != nil {
		return fmt.Errorf("renaming artifact to %s: %w", finalPath, rerr)
	}

	var oldHash blake3hash.Hash
	var hadOld, changed bool
	err = w.st.Transact(store.ReadWrite, func(txn *store.Txn) error {
		key := schema.HeaderKey(rootTag)
		v, ok, gerr := txn.Get(key)
		if gerr != nil {
			return gerr
		}
		if ok {
			copy(oldHash[:], v)
			hadOld = true
			if bytes.Equal(v, newHash[:]) {
				return nil
			}
		}
		if perr := txn.Put(key, append([]byte(nil), newHash[:]...)); perr != nil {
			return perr
		}
		if extra != nil {
			if eerr := extra(txn); eerr != nil {
				return eerr
			}
		}
		changed = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating header: %w", err)
	}

	if changed && hadOld && oldHash != newHash {
		oldPath := filepath.Join(w.objDir, oldHash.Format())
		if rerr := os.Remove(oldPath); rerr != nil && !os.IsNotExist(rerr) {
			return fmt.Errorf("unlinking stale artifact: %w", rerr)
		}
	}
	return nil
}
