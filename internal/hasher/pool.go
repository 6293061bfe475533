// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hasher drains the hash queue with a small pool of worker
// goroutines, each memory-mapping one file at a time and computing its
// BLAKE3 root hash plus, for large files, the chaining value of every
// piece.
package hasher

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/time/rate"

	"github.com/nilgrove/repodex/internal/blake3hash"
	"github.com/nilgrove/repodex/internal/hashqueue"
	"github.com/nilgrove/repodex/internal/indexerr"
	"github.com/nilgrove/repodex/internal/mount"
	"github.com/nilgrove/repodex/internal/store"
)

// DefaultPieceSize is used when a config does not override it.
const DefaultPieceSize int64 = 1 << 20

// Pool runs a fixed number of worker goroutines against a shared
// store and hash queue until the queue is drained or the context is
// canceled.
type Pool struct {
	st        *store.Store
	mnt       *mount.Tree
	queue     *hashqueue.Queue
	logger    *slog.Logger
	workers   int
	pieceSize int64
	limiter   *rate.Limiter
}

// New returns a pool of workers draining queue against st, resolving
// virtual paths through mnt. workers <= 0 selects min(4, NumCPU).
// pieceSize <= 0 selects DefaultPieceSize. limiter may be nil to leave
// mmap-open syscalls unthrottled.
func New(st *store.Store, mnt *mount.Tree, queue *hashqueue.Queue, logger *slog.Logger, workers int, pieceSize int64, limiter *rate.Limiter) *Pool {
	if workers <= 0 {
		workers = defaultWorkerCount()
	}
	if pieceSize <= 0 {
		pieceSize = DefaultPieceSize
	}
	return &Pool{
		st:        st,
		mnt:       mnt,
		queue:     queue,
		logger:    logger,
		workers:   workers,
		pieceSize: pieceSize,
		limiter:   limiter,
	}
}

func defaultWorkerCount() int {
	n := runtime.NumCPU()
	if n > 4 {
		return 4
	}
	if n < 1 {
		return 1
	}
	return n
}

// Run starts the configured number of workers and blocks until every
// worker has drained the queue or the context is canceled. The first
// worker error (other than context cancellation) stops the pool and
// is returned; other workers observe the canceled context and return
// promptly.
func (p *Pool) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, p.workers)
	for i := 0; i < p.workers; i++ {
		id := i
		go func() {
			err := p.worker(ctx, id)
			if err != nil {
				cancel()
			}
			errs <- err
		}()
	}

	var first error
	for i := 0; i < p.workers; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (p *Pool) worker(ctx context.Context, id int) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		var entry hashqueue.Entry
		var ok bool
		err := p.st.Transact(store.ReadOnly, func(txn *store.Txn) error {
			var err error
			entry, ok, err = p.queue.Next(txn)
			return err
		})
		if err != nil {
			return fmt.Errorf("hasher worker %d: acquiring next entry: %w", id, err)
		}
		if !ok {
			return nil
		}

		b3, pieces, skip, err := p.hashEntry(ctx, entry)
		if err != nil {
			return fmt.Errorf("hasher worker %d: hashing %s: %w", id, entry.Path, err)
		}
		if skip {
			continue
		}

		err = p.st.Transact(store.ReadWrite, func(txn *store.Txn) error {
			return p.queue.Store(txn, entry, b3, pieces)
		})
		if err != nil {
			if indexerr.Is(err, indexerr.QueueRaced) {
				p.logger.Info("hash queue entry raced with a concurrent scan", "path", entry.Path)
				continue
			}
			return fmt.Errorf("hasher worker %d: storing %s: %w", id, entry.Path, err)
		}
		p.logger.Info("hashed file", "path", entry.Path, "size", entry.Size, "hash", b3.Format(), "worker", id)
	}
}

// hashEntry resolves and hashes one queue entry. skip is true when the
// entry could not be hashed for a reason the scanner will itself
// reconcile on its next pass (missing mount binding, open/mmap
// failure), in which case the caller should move on without treating
// it as a fatal pool error.
func (p *Pool) hashEntry(ctx context.Context, entry hashqueue.Entry) (b3 blake3hash.Hash, pieces []blake3hash.Hash, skip bool, err error) {
	fsPath, ok := p.mnt.VirtualToFS(entry.Path)
	if !ok {
		p.logger.Info("skipping hash: no filesystem mapping for virtual path", "path", entry.Path)
		return blake3hash.Hash{}, nil, true, nil
	}

	if entry.Size == 0 {
		return blake3hash.HashRoot(nil), nil, false, nil
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return blake3hash.Hash{}, nil, false, err
		}
	}

	data, cleanup, err := mapFile(fsPath)
	if err != nil {
		p.logger.Info("skipping hash: mapping file failed", "path", entry.Path, "err", err)
		return blake3hash.Hash{}, nil, true, nil
	}
	defer func() {
		if cerr := cleanup(); cerr != nil && err == nil {
			p.logger.Info("unmapping file after hash", "path", entry.Path, "err", cerr)
		}
	}()

	root, pieceCVs := hashMapped(data, p.pieceSize)
	return root, pieceCVs, false, nil
}

// hashMapped computes the root hash of data, plus the chaining value
// of each piece when data exceeds pieceSize.
func hashMapped(data []byte, pieceSize int64) (blake3hash.Hash, []blake3hash.Hash) {
	if int64(len(data)) <= pieceSize {
		return blake3hash.HashRoot(data), nil
	}

	chunksPerPiece := uint64(pieceSize / blake3hash.ChunkLen)
	numPieces := (int64(len(data)) + pieceSize - 1) / pieceSize
	pieces := make([]blake3hash.Hash, numPieces)
	for i := int64(0); i < numPieces; i++ {
		start := i * pieceSize
		end := start + pieceSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		pieces[i] = blake3hash.HashPiece(uint64(i)*chunksPerPiece, data[start:end])
	}
	root := blake3hash.MergePieces(pieces, chunksPerPiece)
	return root, pieces
}
