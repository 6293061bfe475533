// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"encoding/binary"
	"fmt"

	"github.com/nilgrove/repodex/internal/indexerr"
	"github.com/nilgrove/repodex/internal/schema"
)

// SchemaVersionMajor and SchemaVersionMinor are written to the header
// on first open and checked on every subsequent open; a major mismatch
// refuses to open the store.
const (
	SchemaVersionMajor byte = 1
	SchemaVersionMinor byte = 0
)

// initHeader creates the header records on first open and refuses to
// proceed against a store written by an incompatible major version.
func (s *Store) initHeader() error {
	return s.Transact(ReadWrite, func(txn *Txn) error {
		key := schema.HeaderKey(schema.HeaderSchemaVersion)
		v, ok, err := txn.Get(key)
		if err != nil {
			return err
		}
		if !ok {
			return txn.Put(key, []byte{SchemaVersionMajor, SchemaVersionMinor})
		}
		if len(v) != 2 || v[0] != SchemaVersionMajor {
			return indexerr.Fatal(fmt.Sprintf("schema version %v is incompatible with major version %d", v, SchemaVersionMajor), nil)
		}
		return nil
	})
}

// NextDirID allocates and persists the next directory identifier from
// the header's monotonic sequence counter (§3). Identifiers are never
// reused within a committed transaction: the counter is advanced in
// the same transaction that consumes the value it returns, so a body
// retried by Transact's resize protocol reads the not-yet-advanced
// counter again and allocates the same identifier it would have on a
// clean run.
func (t *Txn) NextDirID() (uint64, error) {
	key := schema.HeaderKey(schema.HeaderDirSeq)
	v, ok, err := t.Get(key)
	if err != nil {
		return 0, err
	}

	next := uint64(1)
	if ok {
		next = binary.LittleEndian.Uint64(v)
	}

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, next+1)
	if err := t.Put(key, buf); err != nil {
		return 0, err
	}
	return next, nil
}
