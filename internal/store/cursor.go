// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"

	"github.com/PowerDNS/lmdb-go/lmdb"

	"github.com/nilgrove/repodex/internal/schema"
)

// Cursor wraps a raw database cursor with the range-seek, step,
// insert, and delete operations of §4.1; point get and point delete
// are methods of Txn.
type Cursor struct {
	cursor *lmdb.Cursor
}

// Close releases the cursor. Safe to call multiple times.
func (c *Cursor) Close() {
	c.cursor.Close()
}

// SeekRange positions the cursor at the smallest key >= key, returning
// ok=false if no such key exists.
func (c *Cursor) SeekRange(key []byte) (k, v []byte, ok bool, err error) {
	k, v, err = c.cursor.Get(key, nil, lmdb.SetRange)
	return endOfRange(k, v, err)
}

// Next steps to the next key in order.
func (c *Cursor) Next() (k, v []byte, ok bool, err error) {
	k, v, err = c.cursor.Get(nil, nil, lmdb.Next)
	return endOfRange(k, v, err)
}

// Prev steps to the previous key in order.
func (c *Cursor) Prev() (k, v []byte, ok bool, err error) {
	k, v, err = c.cursor.Get(nil, nil, lmdb.Prev)
	return endOfRange(k, v, err)
}

func endOfRange(k, v []byte, err error) ([]byte, []byte, bool, error) {
	if lmdb.IsNotFound(err) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	return k, v, true, nil
}

// Insert inserts a strictly new key at the cursor's database,
// failing if the key is already present.
func (c *Cursor) Insert(key, value []byte) error {
	return c.cursor.Put(key, value, lmdb.NoOverwrite)
}

// Put inserts or overwrites the key at the cursor's current position
// (or anywhere in the database, since the underlying Put variant used
// here does not require prior positioning).
func (c *Cursor) Put(key, value []byte) error {
	return c.cursor.Put(key, value, 0)
}

// DeleteCurrent deletes the key/value pair at the cursor's current
// position.
func (c *Cursor) DeleteCurrent() error {
	return c.cursor.Del(0)
}

// SkipTo positions the cursor so that the next call to Next yields
// the first persisted directory entry whose name is >= name (or the
// entry immediately after, if no exact match exists). It is built as
// a range-seek to the target key followed by a previous-step, so that
// the ordinary forward Next used by the scanner's joint walk lands on
// the sought entry, per §4.1's construction note.
func (c *Cursor) SkipTo(parentID uint64, name string) error {
	target := schema.DirEntryKey(parentID, name)
	if _, _, _, err := c.SeekRange(target); err != nil {
		return err
	}
	// Whether SeekRange landed exactly on target, on the entry after
	// it, or found nothing (cursor now at EOF), stepping back one
	// leaves the cursor positioned so a subsequent Next yields the
	// sought entry (or its successor if it does not exist).
	_, _, _, err := c.Prev()
	return err
}

// DirCursor iterates the persisted entries of one parent directory in
// name order, stopping when the namespace-1/parent-id prefix changes.
type DirCursor struct {
	cursor   *Cursor
	parentID uint64
	prefix   []byte
	started  bool
	done     bool
}

// NewDirCursor returns a cursor over parentID's entries, positioned
// before the first one.
func NewDirCursor(txn *Txn, parentID uint64) (*DirCursor, error) {
	c, err := txn.Cursor()
	if err != nil {
		return nil, err
	}
	return &DirCursor{cursor: c, parentID: parentID, prefix: schema.DirEntryPrefix(parentID)}, nil
}

// Close releases the underlying cursor.
func (d *DirCursor) Close() {
	d.cursor.Close()
}

// Next returns the next entry's name and raw value, or ok=false once
// the directory's entries are exhausted.
func (d *DirCursor) Next() (name string, value []byte, ok bool, err error) {
	if d.done {
		return "", nil, false, nil
	}

	var k, v []byte
	if !d.started {
		d.started = true
		k, v, ok, err = d.cursor.SeekRange(d.prefix)
	} else {
		k, v, ok, err = d.cursor.Next()
	}
	if err != nil || !ok {
		d.done = true
		return "", nil, false, err
	}
	if !bytes.HasPrefix(k, d.prefix) {
		d.done = true
		return "", nil, false, nil
	}
	return schema.SplitDirEntryKey(k, d.parentID), v, true, nil
}

// SkipTo repositions the cursor so the next Next call returns the
// first remaining entry whose name is >= name.
func (d *DirCursor) SkipTo(name string) error {
	d.started = true
	d.done = false
	return d.cursor.SkipTo(d.parentID, name)
}

// HashPathIterator walks every namespace-4 path registered for one
// file hash, using the 33-byte (namespace + hash) prefix.
type HashPathIterator struct {
	cursor  *Cursor
	prefix  []byte
	started bool
	done    bool
}

// NewHashPathIterator returns an iterator over fileHash's registered
// virtual paths.
func NewHashPathIterator(txn *Txn, fileHash [32]byte) (*HashPathIterator, error) {
	c, err := txn.Cursor()
	if err != nil {
		return nil, err
	}
	prefix := make([]byte, 1+32)
	prefix[0] = schema.NamespaceHashPath
	copy(prefix[1:], fileHash[:])
	return &HashPathIterator{cursor: c, prefix: prefix}, nil
}

// Close releases the underlying cursor.
func (it *HashPathIterator) Close() {
	it.cursor.Close()
}

// Next returns the next registered path, or ok=false when exhausted.
func (it *HashPathIterator) Next() (key, virtualPath []byte, ok bool, err error) {
	if it.done {
		return nil, nil, false, nil
	}

	var k, v []byte
	if !it.started {
		it.started = true
		k, v, ok, err = it.cursor.SeekRange(it.prefix)
	} else {
		k, v, ok, err = it.cursor.Next()
	}
	if err != nil || !ok {
		it.done = true
		return nil, nil, false, err
	}
	if !bytes.HasPrefix(k, it.prefix) {
		it.done = true
		return nil, nil, false, nil
	}
	return k, v, true, nil
}

// IsEmpty reports whether fileHash has no registered paths at all.
func IsEmpty(txn *Txn, fileHash [32]byte) (bool, error) {
	it, err := NewHashPathIterator(txn, fileHash)
	if err != nil {
		return false, err
	}
	defer it.Close()
	_, _, ok, err := it.Next()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// HashIterator walks the distinct file hashes present across
// namespace 4, in sorted order, suppressing the repeats that occur
// because one hash may have several registered paths.
type HashIterator struct {
	cursor   *Cursor
	started  bool
	done     bool
	lastHash [32]byte
	haveLast bool
}

// NewHashIterator returns an iterator over all distinct file hashes
// with at least one registered path.
func NewHashIterator(txn *Txn) (*HashIterator, error) {
	c, err := txn.Cursor()
	if err != nil {
		return nil, err
	}
	return &HashIterator{cursor: c}, nil
}

// Close releases the underlying cursor.
func (it *HashIterator) Close() {
	it.cursor.Close()
}

// Next returns the next distinct file hash, or ok=false when
// exhausted.
func (it *HashIterator) Next() (hash [32]byte, ok bool, err error) {
	for {
		var k []byte
		var stepOk bool
		if !it.started {
			it.started = true
			k, _, stepOk, err = it.cursor.SeekRange([]byte{schema.NamespaceHashPath})
		} else {
			k, _, stepOk, err = it.cursor.Next()
		}
		if err != nil {
			return hash, false, err
		}
		if !stepOk || len(k) == 0 || k[0] != schema.NamespaceHashPath {
			return hash, false, nil
		}

		var current [32]byte
		copy(current[:], k[1:33])

		if it.haveLast && current == it.lastHash {
			continue
		}
		it.lastHash = current
		it.haveLast = true
		return current, true, nil
	}
}
