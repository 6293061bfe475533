// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store wraps an embedded ordered key-value environment with
// the transaction lifecycle the indexing engine needs: automatic
// retry on map-full and map-resized signals, coordinated map resizes
// across concurrent transactions, and typed cursor helpers over the
// single database the engine keeps its namespace-tagged keys in.
//
// No repository in the example pack binds a store with LMDB's
// MapFull/MapResized/dynamic-resize vocabulary, so this package is
// built directly against github.com/PowerDNS/lmdb-go/lmdb, the real
// binding for that semantics, rather than adapted from a pack example.
package store

import (
	"fmt"
	"sync"

	"github.com/PowerDNS/lmdb-go/lmdb"

	"github.com/nilgrove/repodex/internal/indexerr"
)

// Mode selects whether a transaction may write.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// InitialMapSize is the environment's map size when a store is
// created fresh.
const InitialMapSize int64 = 32 * 1024 * 1024

// dbiName is the single database this engine keeps all namespaces in;
// namespace tags (§3) discriminate key ranges within it.
const dbiName = "repodex"

// Store owns the map environment and primary database handle. It is a
// process-wide singleton by construction (one process opens one
// store), grouped here behind a single handle per the engine design
// note rather than left as package-level state.
type Store struct {
	env *lmdb.Env
	dbi lmdb.DBI

	mu        sync.Mutex
	cond      *sync.Cond
	activeTxn int
	resizing  bool
}

// Open opens (creating if necessary) the ordered key-value
// environment rooted at dir. Sync-on-commit is disabled: the store
// tolerates non-durable commits, per the non-goal of strong power-loss
// durability.
func Open(dir string) (*Store, error) {
	env, err := lmdb.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("store: creating environment: %w", err)
	}
	if err := env.SetMaxDBs(1); err != nil {
		return nil, fmt.Errorf("store: setting max databases: %w", err)
	}
	if err := env.SetMapSize(InitialMapSize); err != nil {
		return nil, fmt.Errorf("store: setting initial map size: %w", err)
	}
	if err := env.Open(dir, lmdb.NoSync, 0o644); err != nil {
		return nil, fmt.Errorf("store: opening environment at %s: %w", dir, err)
	}

	s := &Store{env: env}
	s.cond = sync.NewCond(&s.mu)

	err = env.Update(func(txn *lmdb.Txn) error {
		dbi, err := txn.OpenDBI(dbiName, lmdb.Create)
		if err != nil {
			return err
		}
		s.dbi = dbi
		return nil
	})
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("store: opening database: %w", err)
	}

	if err := s.initHeader(); err != nil {
		env.Close()
		return nil, fmt.Errorf("store: initializing header: %w", err)
	}

	return s, nil
}

// Close releases the environment. It is not required on orderly
// shutdown but is invoked by the command-line entrypoint's signal
// handling for cleanliness.
func (s *Store) Close() error {
	return s.env.Close()
}

func txnFlags(mode Mode) uint {
	if mode == ReadOnly {
		return lmdb.Readonly
	}
	return 0
}

func isMapFull(err error) bool {
	return err != nil && lmdb.IsMapFull(err)
}

func isMapResized(err error) bool {
	return err != nil && lmdb.IsMapResized(err)
}

// Transact runs body inside a fresh transaction of the given mode. On
// success it commits; on failure it aborts. If the body or the commit
// signals MapFull or MapResized, the map is resized (refreshed or
// grown by 50%) under the store's resize coordination and the whole
// body is re-run from scratch against a new transaction — so body
// must be idempotent given the same committed state, since it may run
// more than once.
func (s *Store) Transact(mode Mode, body func(*Txn) error) error {
	for {
		s.beginGuard()

		txn, err := s.env.BeginTxn(nil, txnFlags(mode))
		if err != nil {
			s.endGuard()
			return indexerr.Fatal("beginning transaction", err)
		}

		wtxn := &Txn{txn: txn, dbi: s.dbi}
		bodyErr := body(wtxn)

		var commitErr error
		if bodyErr == nil {
			commitErr = txn.Commit()
		} else {
			txn.Abort()
		}

		signal := bodyErr
		if signal == nil {
			signal = commitErr
		}

		if isMapFull(signal) || isMapResized(signal) {
			grow := isMapFull(signal)
			resizeErr := s.resize(grow)
			s.endGuard()
			if resizeErr != nil {
				return indexerr.Fatal("resizing store map", resizeErr)
			}
			continue
		}

		s.endGuard()

		if bodyErr != nil {
			return bodyErr
		}
		if commitErr != nil {
			return indexerr.Fatal("committing transaction", commitErr)
		}
		return nil
	}
}

// beginGuard blocks while a resize is in progress, then registers one
// more active transaction.
func (s *Store) beginGuard() {
	s.mu.Lock()
	for s.resizing {
		s.cond.Wait()
	}
	s.activeTxn++
	s.mu.Unlock()
}

// endGuard unregisters the calling transaction and wakes any resize
// or transaction waiting on the count changing.
func (s *Store) endGuard() {
	s.mu.Lock()
	s.activeTxn--
	s.mu.Unlock()
	s.cond.Broadcast()
}

// resize performs the map resize protocol of §4.1: set the resizing
// flag (blocking new transactions), wait until the calling
// transaction is the only active one, perform the resize, then clear
// the flag and wake waiters. grow selects between growing the map by
// 50% (MapFull) and merely refreshing it from the environment's
// current on-disk size (MapResized).
func (s *Store) resize(grow bool) error {
	s.mu.Lock()
	s.resizing = true
	for s.activeTxn > 1 {
		s.cond.Wait()
	}

	var err error
	if grow {
		info, infoErr := s.env.Info()
		if infoErr != nil {
			err = infoErr
		} else {
			newSize := info.MapSize + info.MapSize/2
			err = s.env.SetMapSize(newSize)
		}
	} else {
		err = s.env.SetMapSize(0)
	}

	s.resizing = false
	s.mu.Unlock()
	s.cond.Broadcast()
	return err
}
