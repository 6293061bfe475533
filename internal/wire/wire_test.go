// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestUintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 23, 24, 255, 256, 65535, 65536, 4294967295, 4294967296, ^uint64(0)}
	for _, v := range values {
		var buf bytes.Buffer
		enc := NewEncoder(&buf)
		enc.WriteUint(v)
		if err := enc.Err(); err != nil {
			t.Fatalf("encode %d: %v", v, err)
		}

		dec := NewDecoder(&buf)
		got, err := dec.ReadUint()
		if err != nil {
			t.Fatalf("decode %d: %v", v, err)
		}
		if got != v {
			t.Errorf("uint round trip: got %d, want %d", got, v)
		}
	}
}

func TestIntRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 23, -24, 1000, -1000, 1<<63 - 1, -1 << 63}
	for _, v := range values {
		var buf bytes.Buffer
		enc := NewEncoder(&buf)
		enc.WriteInt(v)

		dec := NewDecoder(&buf)
		got, err := dec.ReadInt()
		if err != nil {
			t.Fatalf("decode %d: %v", v, err)
		}
		if got != v {
			t.Errorf("int round trip: got %d, want %d", got, v)
		}
	}
}

func TestIntRoundTripFuzz(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	for i := 0; i < 2000; i++ {
		v := int64(rng.Uint64())
		var buf bytes.Buffer
		enc := NewEncoder(&buf)
		enc.WriteInt(v)

		dec := NewDecoder(&buf)
		got, err := dec.ReadInt()
		if err != nil {
			t.Fatalf("decode %d: %v", v, err)
		}
		if got != v {
			t.Errorf("int round trip: got %d, want %d", got, v)
		}
	}
}

func TestBytesAndTextRoundTrip(t *testing.T) {
	byteCases := [][]byte{{}, {0}, []byte("hello"), make([]byte, 70000)}
	for _, b := range byteCases {
		var buf bytes.Buffer
		enc := NewEncoder(&buf)
		enc.WriteBytes(b)

		dec := NewDecoder(&buf)
		got, err := dec.ReadBytes()
		if err != nil {
			t.Fatalf("decode bytes len %d: %v", len(b), err)
		}
		if !bytes.Equal(got, b) {
			t.Errorf("bytes round trip mismatch for length %d", len(b))
		}
	}

	textCases := []string{"", "a", "日本語", "x"}
	for _, s := range textCases {
		var buf bytes.Buffer
		enc := NewEncoder(&buf)
		enc.WriteText(s)

		dec := NewDecoder(&buf)
		got, err := dec.ReadText()
		if err != nil {
			t.Fatalf("decode text %q: %v", s, err)
		}
		if got != s {
			t.Errorf("text round trip: got %q, want %q", got, s)
		}
	}
}

func TestDefiniteArrayRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	enc.BeginArray(3)
	enc.WriteUint(1)
	enc.WriteUint(2)
	enc.WriteUint(3)

	dec := NewDecoder(&buf)
	length, indefinite, err := dec.ReadArrayHeader()
	if err != nil {
		t.Fatalf("ReadArrayHeader: %v", err)
	}
	if indefinite || length != 3 {
		t.Fatalf("got length=%d indefinite=%v, want 3/false", length, indefinite)
	}
	for i := uint64(0); i < length; i++ {
		v, err := dec.ReadUint()
		if err != nil {
			t.Fatalf("item %d: %v", i, err)
		}
		if v != i+1 {
			t.Errorf("item %d: got %d, want %d", i, v, i+1)
		}
	}
}

func TestIndefiniteArrayRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	enc.BeginIndefiniteArray()
	enc.WriteText("a")
	enc.WriteText("b")
	enc.WriteText("c")
	enc.EndIndefinite()

	dec := NewDecoder(&buf)
	_, indefinite, err := dec.ReadArrayHeader()
	if err != nil {
		t.Fatalf("ReadArrayHeader: %v", err)
	}
	if !indefinite {
		t.Fatal("expected indefinite-length array")
	}

	var got []string
	for {
		isBreak, err := dec.PeekIsBreak()
		if err != nil {
			t.Fatalf("PeekIsBreak: %v", err)
		}
		if isBreak {
			break
		}
		s, err := dec.ReadText()
		if err != nil {
			t.Fatalf("ReadText: %v", err)
		}
		got = append(got, s)
	}

	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIndefiniteMapRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	enc.BeginIndefiniteMap()
	enc.WriteUint(0)
	enc.WriteText("name")
	enc.WriteUint(1)
	enc.WriteUint(42)
	enc.EndIndefinite()

	dec := NewDecoder(&buf)
	_, indefinite, err := dec.ReadMapHeader()
	if err != nil {
		t.Fatalf("ReadMapHeader: %v", err)
	}
	if !indefinite {
		t.Fatal("expected indefinite-length map")
	}

	isBreak, err := dec.PeekIsBreak()
	if err != nil || isBreak {
		t.Fatalf("unexpected break/err at first pair: %v %v", isBreak, err)
	}
	key0, err := dec.ReadUint()
	if err != nil || key0 != 0 {
		t.Fatalf("key0 = %d, err = %v", key0, err)
	}
	name, err := dec.ReadText()
	if err != nil || name != "name" {
		t.Fatalf("name = %q, err = %v", name, err)
	}

	isBreak, err = dec.PeekIsBreak()
	if err != nil || isBreak {
		t.Fatalf("unexpected break/err at second pair: %v %v", isBreak, err)
	}
	key1, err := dec.ReadUint()
	if err != nil || key1 != 1 {
		t.Fatalf("key1 = %d, err = %v", key1, err)
	}
	val1, err := dec.ReadUint()
	if err != nil || val1 != 42 {
		t.Fatalf("val1 = %d, err = %v", val1, err)
	}

	isBreak, err = dec.PeekIsBreak()
	if err != nil {
		t.Fatalf("PeekIsBreak at end: %v", err)
	}
	if !isBreak {
		t.Fatal("expected break at end of map")
	}
}
