// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scanner

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/nilgrove/repodex/internal/mount"
	"github.com/nilgrove/repodex/internal/schema"
	"github.com/nilgrove/repodex/internal/store"
)

type fakeInvalidator struct{ resets int }

func (f *fakeInvalidator) Reset() { f.resets++ }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustScan(t *testing.T, st *store.Store, mnt *mount.Tree, inv QueueInvalidator) {
	t.Helper()
	if err := Scan(context.Background(), st, mnt, inv, testLogger(), ""); err != nil {
		t.Fatalf("Scan: %v", err)
	}
}

func TestScanCreatesEntries(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, "d"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "d", "b"), nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	st := openTestStore(t)
	mnt := mount.New()
	if err := mnt.Bind("", root); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	mustScan(t, st, mnt, &fakeInvalidator{})

	err := st.Transact(store.ReadOnly, func(txn *store.Txn) error {
		aVal, ok, err := txn.Get(schema.DirEntryKey(schema.RootDirID, "a"))
		if err != nil {
			return err
		}
		if !ok || schema.ClassifyEntry(aVal) != schema.EntryUnhashed {
			t.Fatalf("expected %q to be an unhashed entry", "a")
		}
		_, size := schema.DecodeUnhashedValue(aVal)
		if size != 5 {
			t.Errorf("got size %d, want 5", size)
		}

		dVal, ok, err := txn.Get(schema.DirEntryKey(schema.RootDirID, "d"))
		if err != nil {
			return err
		}
		if !ok || schema.ClassifyEntry(dVal) != schema.EntrySubdir {
			t.Fatalf("expected %q to be a subdirectory entry", "d")
		}
		childID := schema.DecodeSubdirValue(dVal)

		bVal, ok, err := txn.Get(schema.DirEntryKey(childID, "b"))
		if err != nil {
			return err
		}
		if !ok || schema.ClassifyEntry(bVal) != schema.EntryUnhashed {
			t.Fatalf("expected %q to be an unhashed entry", "b")
		}
		_, size = schema.DecodeUnhashedValue(bVal)
		if size != 0 {
			t.Errorf("got size %d, want 0", size)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verification transaction: %v", err)
	}
}

func TestScanFixedPoint(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	st := openTestStore(t)
	mnt := mount.New()
	if err := mnt.Bind("", root); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	mustScan(t, st, mnt, &fakeInvalidator{})

	var seqAfterFirst uint64
	err := st.Transact(store.ReadOnly, func(txn *store.Txn) error {
		v, ok, err := txn.Get(schema.HeaderKey(schema.HeaderDirSeq))
		if err != nil {
			return err
		}
		if ok {
			seqAfterFirst = decodeSeq(v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read seq: %v", err)
	}

	mustScan(t, st, mnt, &fakeInvalidator{})

	var seqAfterSecond uint64
	err = st.Transact(store.ReadOnly, func(txn *store.Txn) error {
		v, ok, err := txn.Get(schema.HeaderKey(schema.HeaderDirSeq))
		if err != nil {
			return err
		}
		if ok {
			seqAfterSecond = decodeSeq(v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read seq: %v", err)
	}

	if seqAfterFirst != seqAfterSecond {
		t.Errorf("identifier sequence advanced on an unchanged re-scan: %d -> %d", seqAfterFirst, seqAfterSecond)
	}
}

func decodeSeq(v []byte) uint64 {
	return binary.LittleEndian.Uint64(v)
}

func TestScanDeletesRemovedEntry(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	st := openTestStore(t)
	mnt := mount.New()
	if err := mnt.Bind("", root); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	inv := &fakeInvalidator{}
	mustScan(t, st, mnt, inv)

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	mustScan(t, st, mnt, inv)

	if inv.resets == 0 {
		t.Error("expected the hash queue to be invalidated on deletion of an unhashed entry")
	}

	err := st.Transact(store.ReadOnly, func(txn *store.Txn) error {
		_, ok, err := txn.Get(schema.DirEntryKey(schema.RootDirID, "a"))
		if err != nil {
			return err
		}
		if ok {
			t.Error("expected entry for removed file to be gone")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verification transaction: %v", err)
	}
}

func TestScanPreservesUnchangedHashedEntry(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a")
	content := []byte("hello")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	st := openTestStore(t)
	mnt := mount.New()
	if err := mnt.Bind("", root); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	mustScan(t, st, mnt, &fakeInvalidator{})

	var b3 [32]byte
	b3[0] = 0xAB
	err := st.Transact(store.ReadWrite, func(txn *store.Txn) error {
		v, ok, err := txn.Get(schema.DirEntryKey(schema.RootDirID, "a"))
		if err != nil || !ok {
			t.Fatalf("expected entry for %q to exist", "a")
		}
		lastmod, size := schema.DecodeUnhashedValue(v)
		return txn.Put(schema.DirEntryKey(schema.RootDirID, "a"), schema.HashedValue(lastmod, size, b3))
	})
	if err != nil {
		t.Fatalf("seeding hashed entry: %v", err)
	}

	mustScan(t, st, mnt, &fakeInvalidator{})

	err = st.Transact(store.ReadOnly, func(txn *store.Txn) error {
		v, ok, err := txn.Get(schema.DirEntryKey(schema.RootDirID, "a"))
		if err != nil {
			return err
		}
		if !ok || schema.ClassifyEntry(v) != schema.EntryHashed {
			t.Fatal("expected the hashed entry to survive an unchanged re-scan")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verification transaction: %v", err)
	}
}

func TestScanDowngradesModifiedHashedEntry(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	st := openTestStore(t)
	mnt := mount.New()
	if err := mnt.Bind("", root); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	mustScan(t, st, mnt, &fakeInvalidator{})

	var b3 [32]byte
	b3[0] = 0xCD
	err := st.Transact(store.ReadWrite, func(txn *store.Txn) error {
		v, ok, err := txn.Get(schema.DirEntryKey(schema.RootDirID, "a"))
		if err != nil || !ok {
			t.Fatalf("expected entry for %q to exist", "a")
		}
		lastmod, size := schema.DecodeUnhashedValue(v)
		return txn.Put(schema.DirEntryKey(schema.RootDirID, "a"), schema.HashedValue(lastmod, size, b3))
	})
	if err != nil {
		t.Fatalf("seeding hashed entry: %v", err)
	}

	if err := os.WriteFile(path, []byte("hello world, this is longer"), 0o644); err != nil {
		t.Fatalf("WriteFile (modified): %v", err)
	}

	mustScan(t, st, mnt, &fakeInvalidator{})

	err = st.Transact(store.ReadOnly, func(txn *store.Txn) error {
		v, ok, err := txn.Get(schema.DirEntryKey(schema.RootDirID, "a"))
		if err != nil {
			return err
		}
		if !ok || schema.ClassifyEntry(v) != schema.EntryUnhashed {
			t.Fatal("expected the modified entry to be downgraded to unhashed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verification transaction: %v", err)
	}
}
