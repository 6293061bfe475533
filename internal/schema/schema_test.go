// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"bytes"
	"testing"

	"github.com/nilgrove/repodex/internal/blake3hash"
)

func TestDirEntryKeyRoundTrip(t *testing.T) {
	key := DirEntryKey(42, "hello.txt")
	if got := SplitDirEntryKey(key, 42); got != "hello.txt" {
		t.Errorf("got %q, want %q", got, "hello.txt")
	}
}

func TestValueEncodingRoundTrips(t *testing.T) {
	lastmod, size := int64(1700000000), int64(4096)
	uv := UnhashedValue(lastmod, size)
	if ClassifyEntry(uv) != EntryUnhashed {
		t.Fatal("expected EntryUnhashed")
	}
	gotL, gotS := DecodeUnhashedValue(uv)
	if gotL != lastmod || gotS != size {
		t.Errorf("unhashed round trip: got (%d,%d), want (%d,%d)", gotL, gotS, lastmod, size)
	}

	b3 := blake3hash.HashRoot([]byte("content"))
	hv := HashedValue(lastmod, size, b3)
	if ClassifyEntry(hv) != EntryHashed {
		t.Fatal("expected EntryHashed")
	}
	gotL, gotS, gotB3 := DecodeHashedValue(hv)
	if gotL != lastmod || gotS != size || gotB3 != b3 {
		t.Errorf("hashed round trip mismatch")
	}

	sv := SubdirValue(7)
	if ClassifyEntry(sv) != EntrySubdir {
		t.Fatal("expected EntrySubdir")
	}
	if DecodeSubdirValue(sv) != 7 {
		t.Error("subdir round trip mismatch")
	}
}

func TestPieceIndexRoundTrip(t *testing.T) {
	pieces := []blake3hash.Hash{
		blake3hash.HashRoot([]byte("a")),
		blake3hash.HashRoot([]byte("b")),
	}
	v := EncodePieceIndex(12345, pieces)
	size, gotPieces := DecodePieceIndex(v)
	if size != 12345 || len(gotPieces) != 2 {
		t.Fatalf("got size=%d pieces=%d", size, len(gotPieces))
	}
	for i := range pieces {
		if pieces[i] != gotPieces[i] {
			t.Errorf("piece %d mismatch", i)
		}
	}
}

func TestHashPathKeyDeterministic(t *testing.T) {
	h := blake3hash.HashRoot([]byte("file"))
	k1 := HashPathKey(h, "/a/b/c")
	k2 := HashPathKey(h, "/a/b/c")
	if !bytes.Equal(k1, k2) {
		t.Error("expected deterministic key for identical inputs")
	}

	prefix := HashPathPrefix(h)
	if !bytes.HasPrefix(k1, prefix) {
		t.Error("expected key to carry the hash-path prefix")
	}
}
