// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"github.com/PowerDNS/lmdb-go/lmdb"
)

// Txn is a handle to one transaction's operations over the store's
// single database. It must not be used after the body function that
// received it returns.
type Txn struct {
	txn *lmdb.Txn
	dbi lmdb.DBI
}

// Get performs a point lookup, returning ok=false if key is absent.
func (t *Txn) Get(key []byte) (value []byte, ok bool, err error) {
	v, err := t.txn.Get(t.dbi, key)
	if lmdb.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Put inserts or overwrites key with value.
func (t *Txn) Put(key, value []byte) error {
	return t.txn.Put(t.dbi, key, value, 0)
}

// Insert inserts key with value only if key is not already present.
// If key already exists it returns the binding's error for the
// lmdb.KeyExist errno.
func (t *Txn) Insert(key, value []byte) error {
	return t.txn.Put(t.dbi, key, value, lmdb.NoOverwrite)
}

// Delete removes key, reporting whether it was present.
func (t *Txn) Delete(key []byte) (wasPresent bool, err error) {
	err = t.txn.Del(t.dbi, key, nil)
	if lmdb.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Cursor opens a cursor over the store's database for this
// transaction's lifetime.
func (t *Txn) Cursor() (*Cursor, error) {
	c, err := t.txn.OpenCursor(t.dbi)
	if err != nil {
		return nil, err
	}
	return &Cursor{cursor: c}, nil
}
