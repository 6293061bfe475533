// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine groups the store, mount resolver, hash queue, and
// manifest writer behind a single handle, per the design note that
// implementations should thread this state explicitly rather than
// relying on program-wide statics.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nilgrove/repodex/internal/config"
	"github.com/nilgrove/repodex/internal/hasher"
	"github.com/nilgrove/repodex/internal/hashqueue"
	"github.com/nilgrove/repodex/internal/manifest"
	"github.com/nilgrove/repodex/internal/mount"
	"github.com/nilgrove/repodex/internal/scanner"
	"github.com/nilgrove/repodex/internal/store"
)

// dbSubdir and objSubdir are the store directory layout of §6: a
// root directory holding db/, obj/, config, and an optional log file.
const (
	dbSubdir  = "db"
	objSubdir = "obj"
)

// Engine is the process's single handle onto one store: the ordered
// key-value environment, the mount resolver built from the
// configuration's published_paths, the in-memory hash queue, and the
// manifest writer, all opened once and passed explicitly to every
// operation rather than reached through package-level state.
type Engine struct {
	Config *config.Config
	Store  *store.Store
	Mount  *mount.Tree
	Queue  *hashqueue.Queue

	manifest *manifest.Writer
	logger   *slog.Logger
	runID    uuid.UUID
}

// Open opens the store rooted at root — creating db/ and obj/ as
// needed — binds every configured published path into a mount tree,
// and tags the returned Engine with a random run id attached to every
// subsequent log line for correlation across overlapping invocations
// against the same store.
func Open(cfg *config.Config, root string, logger *slog.Logger) (*Engine, error) {
	runID := uuid.New()
	logger = logger.With("run", runID.String())

	dbPath := filepath.Join(root, dbSubdir)
	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return nil, fmt.Errorf("engine: creating %s: %w", dbPath, err)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("engine: opening store: %w", err)
	}

	mnt := mount.New()
	for _, p := range cfg.PublishedPaths {
		if err := mnt.Bind(p.Virtual, p.FS); err != nil {
			st.Close()
			return nil, fmt.Errorf("engine: binding %q to %q: %w", p.Virtual, p.FS, err)
		}
	}

	mw, err := manifest.New(st, filepath.Join(root, objSubdir), manifest.DefaultInterval, cfg.ManifestCompression)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("engine: opening manifest writer: %w", err)
	}

	return &Engine{
		Config:   cfg,
		Store:    st,
		Mount:    mnt,
		Queue:    hashqueue.New(),
		manifest: mw,
		logger:   logger,
		runID:    runID,
	}, nil
}

// Close releases the store's map environment. Not required on orderly
// shutdown per §5, but invoked by the command-line entrypoint's signal
// handling.
func (e *Engine) Close() error {
	return e.Store.Close()
}

// RunID returns the random identifier this Engine tags its log lines
// with, for embedding in a command-line summary line.
func (e *Engine) RunID() uuid.UUID {
	return e.runID
}

// Scan reconciles the full directory tree against the live filesystem
// starting from the store root, then repopulates the hash queue from
// the resulting unhashed entries so a subsequent RunHasher call has
// up-to-date work.
func (e *Engine) Scan(ctx context.Context) error {
	e.logger.Info("scan starting")
	if err := scanner.Scan(ctx, e.Store, e.Mount, e.Queue, e.logger, ""); err != nil {
		return fmt.Errorf("engine: scanning: %w", err)
	}

	if err := e.Store.Transact(store.ReadOnly, func(txn *store.Txn) error {
		return e.Queue.Populate(txn)
	}); err != nil {
		return fmt.Errorf("engine: populating hash queue: %w", err)
	}

	files, size := e.Queue.Totals()
	e.logger.Info("scan finished", "queued_files", files, "queued_bytes", size)
	e.manifest.MarkDirty()
	return nil
}

// RunHasher drains the hash queue using the configured number of
// worker goroutines and piece size, returning once every queued entry
// has been hashed or skipped.
func (e *Engine) RunHasher(ctx context.Context) error {
	var limiter *rate.Limiter
	if opsPerSecond := e.Config.HashIORate; opsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opsPerSecond), 1)
	}

	pool := hasher.New(e.Store, e.Mount, e.Queue, e.logger, e.Config.ResolvedHashThreads(), e.Config.BLAKE3PieceSize, limiter)
	e.logger.Info("hashing starting", "workers", e.Config.ResolvedHashThreads())
	if err := pool.Run(ctx); err != nil {
		return fmt.Errorf("engine: running hasher pool: %w", err)
	}
	e.logger.Info("hashing finished")
	e.manifest.MarkDirty()
	return nil
}

// WriteManifests flushes both manifest artifacts if due — see
// manifest.Writer.Flush — or unconditionally when force is set.
func (e *Engine) WriteManifests(force bool) error {
	e.logger.Info("manifest flush starting", "forced", force)
	if err := e.manifest.Flush(force); err != nil {
		return fmt.Errorf("engine: writing manifests: %w", err)
	}
	e.logger.Info("manifest flush finished")
	return nil
}
