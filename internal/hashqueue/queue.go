// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hashqueue implements the bounded, resumable work queue of
// unhashed file entries that the hasher pool drains: a small in-memory
// cache backed by a depth-first walk of the persisted directory tree,
// plus aggregate counters tracking how much work remains.
package hashqueue

import (
	"sync"

	"github.com/nilgrove/repodex/internal/blake3hash"
	"github.com/nilgrove/repodex/internal/indexerr"
	"github.com/nilgrove/repodex/internal/schema"
	"github.com/nilgrove/repodex/internal/store"
	"github.com/nilgrove/repodex/internal/vpath"
)

// Capacity bounds the in-memory cache of pending entries.
const Capacity = 100

// Entry is one unhashed file awaiting a hasher.
type Entry struct {
	DirID uint64
	Name  string
	Path  string
	Size  int64
}

// Queue is a process-wide singleton by construction, grouped behind
// the engine handle per §9 rather than left as package-level state.
type Queue struct {
	mu           sync.Mutex
	cache        []Entry
	populated    bool
	totalFiles   uint64
	totalSize    uint64
	resumeCursor string
}

// New returns an empty, unpopulated queue.
func New() *Queue {
	return &Queue{}
}

// Reset drops the cache, clears the aggregate counters, and clears the
// resume cursor. Called whenever an unhashed directory entry is
// deleted, since a cached entry may have referenced it; this is the
// coarse invalidation policy of §9's Open Question resolution.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cache = nil
	q.populated = false
	q.totalFiles = 0
	q.totalSize = 0
	q.resumeCursor = ""
}

// Totals reports the queue's advisory aggregate counters.
func (q *Queue) Totals() (files, size uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalFiles, q.totalSize
}

// Populate walks the directory tree from the root. If the queue has
// never been populated since the last Reset, it computes the full
// aggregate counters while filling the cache; otherwise it resumes
// from the last cursor, filling only the cache. The walk is performed
// in the persisted store's sorted order, so the cache is filled
// ascending and then reversed, letting Next pop from the end in
// natural order.
func (q *Queue) Populate(txn *store.Txn) error {
	q.mu.Lock()
	startCursor := q.resumeCursor
	firstRun := !q.populated
	q.mu.Unlock()

	w, err := newTreeWalker(txn)
	if err != nil {
		return err
	}
	defer w.closeAll()

	if startCursor != "" {
		if err := w.skipTo(startCursor); err != nil {
			return err
		}
	}

	var entries []Entry
	var totalFiles, totalSize uint64
	var lastPath string
	var sawMore bool

	for {
		entry, ok, err := w.next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if startCursor != "" && entry.Path == startCursor {
			continue // the entry at the resume cursor itself is discarded
		}
		if firstRun {
			totalFiles++
			totalSize += uint64(entry.Size)
		}
		if len(entries) == Capacity {
			sawMore = true
			if !firstRun {
				break
			}
			continue
		}
		entries = append(entries, entry)
		lastPath = entry.Path
	}

	reverseEntries(entries)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.cache = entries
	if firstRun {
		q.totalFiles = totalFiles
		q.totalSize = totalSize
		q.populated = true
	}
	if sawMore {
		q.resumeCursor = lastPath
	} else {
		q.resumeCursor = ""
	}
	return nil
}

// Next pops one cached entry, repopulating first if the cache is
// empty and either the queue has never been populated or a resume
// cursor indicates more work exists beyond the current cache.
func (q *Queue) Next(txn *store.Txn) (Entry, bool, error) {
	q.mu.Lock()
	empty := len(q.cache) == 0
	needsPopulate := empty && (!q.populated || q.resumeCursor != "")
	q.mu.Unlock()

	if needsPopulate {
		if err := q.Populate(txn); err != nil {
			return Entry{}, false, err
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.cache) == 0 {
		return Entry{}, false, nil
	}
	e := q.cache[len(q.cache)-1]
	q.cache = q.cache[:len(q.cache)-1]
	return e, true, nil
}

// Store persists a hasher's result for entry inside the caller's
// write transaction. It first re-reads the directory entry: if it no
// longer exists, is no longer unhashed, or its size has changed, the
// entry raced with a concurrent scan and the result is dropped. On
// success it replaces the entry with its hashed variant, writes the
// piece index when pieces is non-empty, registers the hash-to-path
// reverse index entry, and decrements the advisory counters.
func (q *Queue) Store(txn *store.Txn, entry Entry, b3 blake3hash.Hash, pieces []blake3hash.Hash) error {
	key := schema.DirEntryKey(entry.DirID, entry.Name)
	value, ok, err := txn.Get(key)
	if err != nil {
		return err
	}
	if !ok || schema.ClassifyEntry(value) != schema.EntryUnhashed {
		return indexerr.Raced("hash queue entry no longer matches an unhashed directory entry")
	}
	lastmod, size := schema.DecodeUnhashedValue(value)
	if size != entry.Size {
		return indexerr.Raced("hash queue entry size no longer matches the persisted entry")
	}

	if err := txn.Put(key, schema.HashedValue(lastmod, size, b3)); err != nil {
		return err
	}
	if len(pieces) > 0 {
		if err := txn.Put(schema.PieceIndexKey(b3), schema.EncodePieceIndex(size, pieces)); err != nil {
			return err
		}
	}
	// Put, not Insert: Store's body may run again on a transaction
	// retry, and re-registering the same (hash, path) pair must not
	// fail the second time.
	if err := txn.Put(schema.HashPathKey(b3, entry.Path), []byte(entry.Path)); err != nil {
		return err
	}

	q.mu.Lock()
	if q.totalFiles > 0 {
		q.totalFiles--
	}
	if q.totalSize >= uint64(size) {
		q.totalSize -= uint64(size)
	} else {
		q.totalSize = 0
	}
	q.mu.Unlock()
	return nil
}

func reverseEntries(e []Entry) {
	for i, j := 0, len(e)-1; i < j; i, j = i+1, j-1 {
		e[i], e[j] = e[j], e[i]
	}
}

// treeWalker performs a depth-first, sorted-order walk of the
// persisted directory tree, yielding only unhashed file entries.
type treeWalker struct {
	txn   *store.Txn
	stack []walkFrame
}

type walkFrame struct {
	dirID   uint64
	virtual string
	cursor  *store.DirCursor
}

func newTreeWalker(txn *store.Txn) (*treeWalker, error) {
	c, err := store.NewDirCursor(txn, schema.RootDirID)
	if err != nil {
		return nil, err
	}
	return &treeWalker{txn: txn, stack: []walkFrame{{dirID: schema.RootDirID, virtual: "", cursor: c}}}, nil
}

func (w *treeWalker) closeAll() {
	for _, f := range w.stack {
		f.cursor.Close()
	}
}

// next returns the next unhashed file entry, descending into
// subdirectories depth-first as it encounters them.
func (w *treeWalker) next() (Entry, bool, error) {
	for len(w.stack) > 0 {
		top := &w.stack[len(w.stack)-1]
		name, value, ok, err := top.cursor.Next()
		if err != nil {
			return Entry{}, false, err
		}
		if !ok {
			top.cursor.Close()
			w.stack = w.stack[:len(w.stack)-1]
			continue
		}

		entryVirtual := vpath.Join(top.virtual, name)
		switch schema.ClassifyEntry(value) {
		case schema.EntrySubdir:
			childID := schema.DecodeSubdirValue(value)
			c, err := store.NewDirCursor(w.txn, childID)
			if err != nil {
				return Entry{}, false, err
			}
			w.stack = append(w.stack, walkFrame{dirID: childID, virtual: entryVirtual, cursor: c})
		case schema.EntryUnhashed:
			_, size := schema.DecodeUnhashedValue(value)
			return Entry{DirID: top.dirID, Name: name, Path: entryVirtual, Size: size}, true, nil
		}
	}
	return Entry{}, false, nil
}

// skipTo repositions the walker so a subsequent next call yields the
// entry at path (or its in-order successor, if path no longer exists)
// by descending level-by-level using skipTo(head(cursor)) at each
// directory along the way, per §4.3's construction note.
func (w *treeWalker) skipTo(path string) error {
	var stack []walkFrame
	dirID := schema.RootDirID
	virtual := ""
	rest := path

	for rest != "" {
		name := vpath.Head(rest)
		tail := vpath.Tail(rest)

		c, err := store.NewDirCursor(w.txn, dirID)
		if err != nil {
			return err
		}
		if err := c.SkipTo(name); err != nil {
			return err
		}

		if tail == "" {
			stack = append(stack, walkFrame{dirID: dirID, virtual: virtual, cursor: c})
			break
		}

		entryName, value, ok, err := c.Next()
		if err != nil {
			return err
		}
		stack = append(stack, walkFrame{dirID: dirID, virtual: virtual, cursor: c})
		if !ok || entryName != name || schema.ClassifyEntry(value) != schema.EntrySubdir {
			// The resume path no longer exists in the store (an
			// intervening scan removed it); resume from wherever
			// this level's cursor now sits instead.
			break
		}

		dirID = schema.DecodeSubdirValue(value)
		virtual = vpath.Join(virtual, name)
		rest = tail
	}

	w.closeAll()
	w.stack = stack
	return nil
}
