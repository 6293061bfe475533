// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema encodes and decodes the store's namespace-tagged key
// space: header records (namespace 0), directory entries (namespace
// 1), piece indexes (namespace 2), file metadata (namespace 3), and
// the hash-to-path reverse index (namespace 4). Fixed-width integers
// are always little-endian, resolving the byte-order open question in
// favor of portability between machines reading the same store file.
package schema

import (
	"encoding/binary"

	"github.com/nilgrove/repodex/internal/blake3hash"
)

// Namespace tags, the first byte of every key.
const (
	NamespaceHeader   = 0
	NamespaceDirEntry = 1
	NamespacePiece    = 2
	NamespaceMeta     = 3
	NamespaceHashPath = 4
)

// Header sub-tags, the second byte of a namespace-0 key.
const (
	HeaderSchemaVersion  = 0x00
	HeaderDirSeq         = 0x01
	HeaderDirListingRoot = 0x02
	HeaderHashListRoot   = 0x03
	HeaderHashListCount  = 0x04
)

// RootDirID is the identifier of the repository root directory.
const RootDirID uint64 = 0

// Directory entry value sizes, discriminating the three variants.
const (
	UnhashedValueLen = 16
	HashedValueLen   = 48
	SubdirValueLen   = 8
)

// HeaderKey builds a namespace-0 key for the given sub-tag.
func HeaderKey(subTag byte) []byte {
	return []byte{NamespaceHeader, subTag}
}

// DirEntryPrefix builds the key prefix common to every entry of one
// parent directory: namespace 1 followed by the 8-byte little-endian
// parent id. Appending a name yields the full key for that entry.
func DirEntryPrefix(parentID uint64) []byte {
	key := make([]byte, 1+8)
	key[0] = NamespaceDirEntry
	binary.LittleEndian.PutUint64(key[1:], parentID)
	return key
}

// DirEntryKey builds the full key for one directory entry.
func DirEntryKey(parentID uint64, name string) []byte {
	prefix := DirEntryPrefix(parentID)
	key := make([]byte, len(prefix)+len(name))
	copy(key, prefix)
	copy(key[len(prefix):], name)
	return key
}

// SplitDirEntryKey recovers the entry name from a full namespace-1
// key, given the parent id it was built with. It panics if key does
// not have the expected namespace-1 prefix for parentID — callers
// only ever call this on keys returned from a cursor already
// positioned within that directory's prefix range.
func SplitDirEntryKey(key []byte, parentID uint64) string {
	prefix := DirEntryPrefix(parentID)
	if len(key) < len(prefix) || string(key[:len(prefix)]) != string(prefix) {
		panic("schema: key is not a namespace-1 entry")
	}
	return string(key[len(prefix):])
}

// UnhashedValue encodes an unhashed file's {lastmod, size}.
func UnhashedValue(lastmod, size int64) []byte {
	v := make([]byte, UnhashedValueLen)
	binary.LittleEndian.PutUint64(v[0:8], uint64(lastmod))
	binary.LittleEndian.PutUint64(v[8:16], uint64(size))
	return v
}

// DecodeUnhashedValue decodes a 16-byte unhashed-file value.
func DecodeUnhashedValue(v []byte) (lastmod, size int64) {
	lastmod = int64(binary.LittleEndian.Uint64(v[0:8]))
	size = int64(binary.LittleEndian.Uint64(v[8:16]))
	return
}

// HashedValue encodes a hashed file's {lastmod, size, b3}.
func HashedValue(lastmod, size int64, b3 blake3hash.Hash) []byte {
	v := make([]byte, HashedValueLen)
	binary.LittleEndian.PutUint64(v[0:8], uint64(lastmod))
	binary.LittleEndian.PutUint64(v[8:16], uint64(size))
	copy(v[16:48], b3[:])
	return v
}

// DecodeHashedValue decodes a 48-byte hashed-file value.
func DecodeHashedValue(v []byte) (lastmod, size int64, b3 blake3hash.Hash) {
	lastmod = int64(binary.LittleEndian.Uint64(v[0:8]))
	size = int64(binary.LittleEndian.Uint64(v[8:16]))
	copy(b3[:], v[16:48])
	return
}

// SubdirValue encodes a subdirectory entry's child directory id.
func SubdirValue(childID uint64) []byte {
	v := make([]byte, SubdirValueLen)
	binary.LittleEndian.PutUint64(v, childID)
	return v
}

// DecodeSubdirValue decodes an 8-byte subdirectory value.
func DecodeSubdirValue(v []byte) uint64 {
	return binary.LittleEndian.Uint64(v)
}

// EntryKind classifies a directory entry by its value length.
type EntryKind int

const (
	EntryUnknown EntryKind = iota
	EntryUnhashed
	EntryHashed
	EntrySubdir
)

// ClassifyEntry returns the entry kind implied by a value's length.
func ClassifyEntry(value []byte) EntryKind {
	switch len(value) {
	case UnhashedValueLen:
		return EntryUnhashed
	case HashedValueLen:
		return EntryHashed
	case SubdirValueLen:
		return EntrySubdir
	default:
		return EntryUnknown
	}
}

// PieceIndexKey builds the namespace-2 key for a file hash.
func PieceIndexKey(fileHash blake3hash.Hash) []byte {
	key := make([]byte, 1+32)
	key[0] = NamespacePiece
	copy(key[1:], fileHash[:])
	return key
}

// EncodePieceIndex encodes a piece index value: 8-byte file size
// followed by the flat concatenation of piece chaining values.
func EncodePieceIndex(size int64, pieces []blake3hash.Hash) []byte {
	v := make([]byte, 8+32*len(pieces))
	binary.LittleEndian.PutUint64(v[0:8], uint64(size))
	for i, p := range pieces {
		copy(v[8+32*i:8+32*(i+1)], p[:])
	}
	return v
}

// DecodePieceIndex decodes a piece index value.
func DecodePieceIndex(v []byte) (size int64, pieces []blake3hash.Hash) {
	size = int64(binary.LittleEndian.Uint64(v[0:8]))
	rest := v[8:]
	pieces = make([]blake3hash.Hash, len(rest)/32)
	for i := range pieces {
		copy(pieces[i][:], rest[32*i:32*(i+1)])
	}
	return
}

// MetaKey builds the namespace-3 key for a file hash.
func MetaKey(fileHash blake3hash.Hash) []byte {
	key := make([]byte, 1+32)
	key[0] = NamespaceMeta
	copy(key[1:], fileHash[:])
	return key
}

// HashPathPrefix builds the namespace-4 key prefix shared by every
// path registered for one file hash: namespace 4 plus the 32-byte
// hash. Appending the 8-byte path-hash suffix yields a full key.
func HashPathPrefix(fileHash blake3hash.Hash) []byte {
	key := make([]byte, 1+32)
	key[0] = NamespaceHashPath
	copy(key[1:], fileHash[:])
	return key
}

// HashPathKey builds the full namespace-4 key for one (file hash,
// virtual path) pair, using the leading 8 bytes of BLAKE3(path) as
// the disambiguating suffix.
func HashPathKey(fileHash blake3hash.Hash, virtualPath string) []byte {
	prefix := HashPathPrefix(fileHash)
	pathHash := blake3hash.HashRoot([]byte(virtualPath))
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	copy(key[len(prefix):], pathHash[:8])
	return key
}
