// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package scanner reconciles the store's persisted directory state
// against a live filesystem listing in a single linear merge pass per
// directory, preserving identifiers and hash state for anything that
// did not change and cascading deletes for anything that disappeared.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"

	"github.com/nilgrove/repodex/internal/indexerr"
	"github.com/nilgrove/repodex/internal/mount"
	"github.com/nilgrove/repodex/internal/schema"
	"github.com/nilgrove/repodex/internal/store"
	"github.com/nilgrove/repodex/internal/vpath"
)

// QueueInvalidator is notified whenever an unhashed directory entry is
// deleted, since a hash queue entry may still reference it. The hash
// queue satisfies this with a full Reset, per the coarse-invalidation
// design note.
type QueueInvalidator interface {
	Reset()
}

// frame is one pending directory in the scanner's explicit stack: the
// store's identifier for it and its virtual path.
type frame struct {
	dirID   uint64
	virtual string
}

type fileStat struct {
	lastmod int64
	size    int64
}

// Scan reconciles the directory tree rooted at rootVirtual. rootVirtual
// must already resolve to a persisted directory — "" (the store root)
// always does; a nested virtual path must have been reached by a
// previous scan starting from "". The scan proceeds depth-first over
// an explicit LIFO stack of pending directories rather than program-stack
// recursion, bounding stack depth on deep trees. ctx is checked between
// directories so a caller can stop a multi-root run at a clean boundary.
func Scan(ctx context.Context, st *store.Store, mnt *mount.Tree, inv QueueInvalidator, logger *slog.Logger, rootVirtual string) error {
	rootID, err := resolveDirID(st, rootVirtual)
	if err != nil {
		return fmt.Errorf("scanner: resolving root %q: %w", rootVirtual, err)
	}

	stack := []frame{{dirID: rootID, virtual: vpath.Clean(rootVirtual)}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := reconcileDirectory(st, mnt, inv, logger, f)
		if err != nil {
			return fmt.Errorf("scanner: reconciling %q: %w", f.virtual, err)
		}
		stack = append(stack, children...)
	}
	return nil
}

// resolveDirID walks the persisted tree from the root to find the
// directory identifier bound to virtual, without touching the
// filesystem. "" always resolves to the root identifier.
func resolveDirID(st *store.Store, virtual string) (uint64, error) {
	virtual = vpath.Clean(virtual)
	dirID := schema.RootDirID

	err := st.Transact(store.ReadOnly, func(txn *store.Txn) error {
		rest := virtual
		for rest != "" {
			name := vpath.Head(rest)
			value, ok, err := txn.Get(schema.DirEntryKey(dirID, name))
			if err != nil {
				return err
			}
			if !ok || schema.ClassifyEntry(value) != schema.EntrySubdir {
				return indexerr.Skippable(fmt.Sprintf("virtual path %q is not a persisted directory", virtual), nil)
			}
			dirID = schema.DecodeSubdirValue(value)
			rest = vpath.Tail(rest)
		}
		return nil
	})
	return dirID, err
}

// reconcileDirectory lists the filesystem (if f's virtual path
// resolves to one) and the mount tree's nested mount points at f, then
// runs the merge-reconcile join against the persisted entries of f's
// directory identifier inside one read-write transaction. It returns
// the child frames to push onto the scanner's stack.
func reconcileDirectory(st *store.Store, mnt *mount.Tree, inv QueueInvalidator, logger *slog.Logger, f frame) ([]frame, error) {
	var dirNames []string
	files := map[string]fileStat{}

	if fsPath, haveFS := mnt.VirtualToFS(f.virtual); haveFS {
		listed, listedFiles, err := listDirectory(fsPath, f.virtual, logger)
		if err != nil {
			logger.Warn("skipping directory listing", "path", f.virtual, "err", err)
		} else {
			dirNames = listed
			files = listedFiles
		}
	}

	dirs := mergeMountNames(dirNames, files, mnt.MountChildNames(f.virtual), f.virtual, logger)
	fileNames := sortedKeys(files)

	var children []frame
	err := st.Transact(store.ReadWrite, func(txn *store.Txn) error {
		children = nil
		return reconcileOneLevel(txn, f.dirID, f.virtual, dirs, fileNames, files, inv, &children)
	})
	return children, err
}

// listDirectory lists fsPath, applying the filename filter and
// skipping non-regular entries and symlinks with an info-level event.
func listDirectory(fsPath, virtual string, logger *slog.Logger) ([]string, map[string]fileStat, error) {
	entries, err := os.ReadDir(fsPath)
	if err != nil {
		return nil, nil, err
	}

	var dirNames []string
	files := map[string]fileStat{}

	for _, entry := range entries {
		name := entry.Name()
		if err := vpath.ValidateName(name); err != nil {
			logger.Info("skipping entry with invalid name", "path", virtual, "name", name, "err", err)
			continue
		}

		typ := entry.Type()
		entryVirtual := vpath.Join(virtual, name)
		switch {
		case typ&fs.ModeSymlink != 0:
			logger.Info("skipping symlink", "path", entryVirtual)
		case typ.IsDir():
			dirNames = append(dirNames, name)
		case typ.IsRegular():
			info, err := entry.Info()
			if err != nil {
				logger.Info("skipping entry: stat failed", "path", entryVirtual, "err", err)
				continue
			}
			files[name] = fileStat{lastmod: info.ModTime().Unix(), size: info.Size()}
		default:
			logger.Info("skipping non-regular entry", "path", entryVirtual)
		}
	}

	sort.Strings(dirNames)
	return dirNames, files, nil
}

// mergeMountNames folds the mount tree's nested mount points at
// virtual into the filesystem's directory listing, applying the
// mount-wins-over-filesystem-entry precedence rule: a mount point
// removes any filesystem file of the same name, logging an
// informational event, and is always treated as a directory.
func mergeMountNames(dirNames []string, files map[string]fileStat, mountNames []string, virtual string, logger *slog.Logger) []string {
	set := make(map[string]struct{}, len(dirNames)+len(mountNames))
	for _, d := range dirNames {
		set[d] = struct{}{}
	}
	for _, m := range mountNames {
		if _, isFile := files[m]; isFile {
			delete(files, m)
			logger.Info("mount point overrides filesystem entry", "path", vpath.Join(virtual, m))
		}
		set[m] = struct{}{}
	}

	merged := make([]string, 0, len(set))
	for name := range set {
		merged = append(merged, name)
	}
	sort.Strings(merged)
	return merged
}

func sortedKeys(files map[string]fileStat) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// peekExpected returns whichever of the next pending directory or file
// name sorts first, breaking ties in favor of the directory, and
// whether anything remains pending at all.
func peekExpected(dirs, files []string, di, fi *int) (name string, isDir bool, ok bool) {
	hasDir := *di < len(dirs)
	hasFile := *fi < len(files)
	switch {
	case hasDir && hasFile:
		if dirs[*di] <= files[*fi] {
			return dirs[*di], true, true
		}
		return files[*fi], false, true
	case hasDir:
		return dirs[*di], true, true
	case hasFile:
		return files[*fi], false, true
	default:
		return "", false, false
	}
}

func advanceExpected(isDir bool, di, fi *int) {
	if isDir {
		*di++
	} else {
		*fi++
	}
}

// reconcileOneLevel runs the three-way joint walk of §4.2 between the
// persisted entries of dirID and the expected (dirs, fileNames)
// sequences, mutating the store to match and appending a frame for
// every subdirectory (new or preserved) that the scanner should
// descend into next.
func reconcileOneLevel(txn *store.Txn, dirID uint64, virtual string, dirs, fileNames []string, files map[string]fileStat, inv QueueInvalidator, children *[]frame) error {
	dc, err := store.NewDirCursor(txn, dirID)
	if err != nil {
		return err
	}
	defer dc.Close()

	di, fi := 0, 0
	entName, entValue, entOk, err := dc.Next()
	if err != nil {
		return err
	}

	for {
		expName, expIsDir, haveExp := peekExpected(dirs, fileNames, &di, &fi)

		switch {
		case !entOk && !haveExp:
			return nil

		case !entOk:
			if err := insertExpected(txn, dirID, virtual, expName, expIsDir, files, children); err != nil {
				return err
			}
			advanceExpected(expIsDir, &di, &fi)

		case !haveExp:
			if err := deleteEntry(txn, dirID, entName, entValue, vpath.Join(virtual, entName), inv); err != nil {
				return err
			}
			if entName, entValue, entOk, err = dc.Next(); err != nil {
				return err
			}

		case expName < entName:
			if err := insertExpected(txn, dirID, virtual, expName, expIsDir, files, children); err != nil {
				return err
			}
			advanceExpected(expIsDir, &di, &fi)

		case expName == entName:
			if err := reconcileMatch(txn, dirID, virtual, expName, expIsDir, entValue, files, inv, children); err != nil {
				return err
			}
			advanceExpected(expIsDir, &di, &fi)
			if entName, entValue, entOk, err = dc.Next(); err != nil {
				return err
			}

		default: // expName > entName
			if err := deleteEntry(txn, dirID, entName, entValue, vpath.Join(virtual, entName), inv); err != nil {
				return err
			}
			if entName, entValue, entOk, err = dc.Next(); err != nil {
				return err
			}
		}
	}
}

func insertExpected(txn *store.Txn, dirID uint64, virtual, name string, isDir bool, files map[string]fileStat, children *[]frame) error {
	if isDir {
		childID, err := txn.NextDirID()
		if err != nil {
			return err
		}
		if err := txn.Insert(schema.DirEntryKey(dirID, name), schema.SubdirValue(childID)); err != nil {
			return err
		}
		*children = append(*children, frame{dirID: childID, virtual: vpath.Join(virtual, name)})
		return nil
	}
	return txn.Insert(schema.DirEntryKey(dirID, name), schema.UnhashedValue(files[name].lastmod, files[name].size))
}

// reconcileMatch handles the expected == persisted case: reuse the
// existing entry when its kind matches and (for files) its content
// signature is unchanged; otherwise delete and re-insert.
func reconcileMatch(txn *store.Txn, dirID uint64, virtual, name string, expIsDir bool, entValue []byte, files map[string]fileStat, inv QueueInvalidator, children *[]frame) error {
	kind := schema.ClassifyEntry(entValue)
	entryVirtual := vpath.Join(virtual, name)

	switch {
	case expIsDir && kind == schema.EntrySubdir:
		*children = append(*children, frame{dirID: schema.DecodeSubdirValue(entValue), virtual: entryVirtual})
		return nil

	case !expIsDir && (kind == schema.EntryUnhashed || kind == schema.EntryHashed):
		var lastmod, size int64
		if kind == schema.EntryUnhashed {
			lastmod, size = schema.DecodeUnhashedValue(entValue)
		} else {
			lastmod, size, _ = schema.DecodeHashedValue(entValue)
		}
		fresh := files[name]
		if fresh.lastmod <= lastmod && fresh.size == size {
			return nil // unchanged: preserve existing hash state
		}
		if err := deleteEntry(txn, dirID, name, entValue, entryVirtual, inv); err != nil {
			return err
		}
		return txn.Insert(schema.DirEntryKey(dirID, name), schema.UnhashedValue(fresh.lastmod, fresh.size))

	default:
		// The filesystem entry changed kind (file <-> directory).
		if err := deleteEntry(txn, dirID, name, entValue, entryVirtual, inv); err != nil {
			return err
		}
		return insertExpected(txn, dirID, virtual, name, expIsDir, files, children)
	}
}

// deleteEntry removes one persisted directory entry, recursing into
// its children first if it is a subdirectory, and cascading into the
// hash-to-path reverse index (and, when the last path to a hash is
// removed, the piece index and metadata record) if it is a hashed
// file. Deleting an unhashed entry resets the hash queue, since a
// pending work item may have referenced it.
func deleteEntry(txn *store.Txn, parentID uint64, name string, value []byte, entryVirtual string, inv QueueInvalidator) error {
	switch schema.ClassifyEntry(value) {
	case schema.EntrySubdir:
		if err := deleteDirectoryContents(txn, schema.DecodeSubdirValue(value), entryVirtual, inv); err != nil {
			return err
		}
	case schema.EntryHashed:
		_, _, b3 := schema.DecodeHashedValue(value)
		if err := unregisterHash(txn, b3, entryVirtual); err != nil {
			return err
		}
	case schema.EntryUnhashed:
		inv.Reset()
	}

	_, err := txn.Delete(schema.DirEntryKey(parentID, name))
	return err
}

func deleteDirectoryContents(txn *store.Txn, dirID uint64, virtual string, inv QueueInvalidator) error {
	names, values, err := collectEntries(txn, dirID)
	if err != nil {
		return err
	}
	for i, name := range names {
		if err := deleteEntry(txn, dirID, name, values[i], vpath.Join(virtual, name), inv); err != nil {
			return err
		}
	}
	return nil
}

func collectEntries(txn *store.Txn, dirID uint64) (names []string, values [][]byte, err error) {
	dc, err := store.NewDirCursor(txn, dirID)
	if err != nil {
		return nil, nil, err
	}
	defer dc.Close()

	for {
		name, value, ok, err := dc.Next()
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return names, values, nil
		}
		names = append(names, name)
		values = append(values, append([]byte(nil), value...))
	}
}

func unregisterHash(txn *store.Txn, b3 [32]byte, virtualPath string) error {
	if _, err := txn.Delete(schema.HashPathKey(b3, virtualPath)); err != nil {
		return err
	}
	empty, err := store.IsEmpty(txn, b3)
	if err != nil {
		return err
	}
	if !empty {
		return nil
	}
	if _, err := txn.Delete(schema.PieceIndexKey(b3)); err != nil {
		return err
	}
	_, err = txn.Delete(schema.MetaKey(b3))
	return err
}
