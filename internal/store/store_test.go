// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"testing"

	"github.com/nilgrove/repodex/internal/schema"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := openTestStore(t)

	key := schema.HeaderKey(schema.HeaderDirSeq)
	value := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	err := s.Transact(ReadWrite, func(txn *Txn) error {
		return txn.Put(key, value)
	})
	if err != nil {
		t.Fatalf("put transaction: %v", err)
	}

	var got []byte
	err = s.Transact(ReadOnly, func(txn *Txn) error {
		v, ok, err := txn.Get(key)
		if err != nil {
			return err
		}
		if !ok {
			t.Fatal("expected key to be present")
		}
		got = append([]byte{}, v...)
		return nil
	})
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if string(got) != string(value) {
		t.Errorf("got %v, want %v", got, value)
	}

	err = s.Transact(ReadWrite, func(txn *Txn) error {
		wasPresent, err := txn.Delete(key)
		if err != nil {
			return err
		}
		if !wasPresent {
			t.Error("expected key to have been present before delete")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("delete transaction: %v", err)
	}

	err = s.Transact(ReadOnly, func(txn *Txn) error {
		_, ok, err := txn.Get(key)
		if err != nil {
			return err
		}
		if ok {
			t.Error("expected key to be absent after delete")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("post-delete get transaction: %v", err)
	}
}

func TestInsertFailsOnExisting(t *testing.T) {
	s := openTestStore(t)
	key := schema.DirEntryKey(schema.RootDirID, "a")

	err := s.Transact(ReadWrite, func(txn *Txn) error {
		return txn.Insert(key, schema.UnhashedValue(1, 2))
	})
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}

	err = s.Transact(ReadWrite, func(txn *Txn) error {
		return txn.Insert(key, schema.UnhashedValue(3, 4))
	})
	if err == nil {
		t.Fatal("expected second insert of the same key to fail")
	}
}

func TestDirCursorOrdersByName(t *testing.T) {
	s := openTestStore(t)
	names := []string{"b", "a", "d", "c"}

	err := s.Transact(ReadWrite, func(txn *Txn) error {
		for _, n := range names {
			if err := txn.Insert(schema.DirEntryKey(schema.RootDirID, n), schema.UnhashedValue(0, 0)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("populate: %v", err)
	}

	var got []string
	err = s.Transact(ReadOnly, func(txn *Txn) error {
		dc, err := NewDirCursor(txn, schema.RootDirID)
		if err != nil {
			return err
		}
		defer dc.Close()
		for {
			name, _, ok, err := dc.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			got = append(got, name)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read transaction: %v", err)
	}

	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDirCursorSkipTo(t *testing.T) {
	s := openTestStore(t)
	names := []string{"a", "b", "d", "e"}

	err := s.Transact(ReadWrite, func(txn *Txn) error {
		for _, n := range names {
			if err := txn.Insert(schema.DirEntryKey(schema.RootDirID, n), schema.UnhashedValue(0, 0)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("populate: %v", err)
	}

	err = s.Transact(ReadOnly, func(txn *Txn) error {
		dc, err := NewDirCursor(txn, schema.RootDirID)
		if err != nil {
			return err
		}
		defer dc.Close()

		if err := dc.SkipTo("c"); err != nil {
			return err
		}
		name, _, ok, err := dc.Next()
		if err != nil {
			return err
		}
		if !ok || name != "d" {
			t.Errorf("SkipTo(c) then Next: got (%q,%v), want (\"d\",true)", name, ok)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read transaction: %v", err)
	}
}
