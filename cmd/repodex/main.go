// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command repodex scans a published set of directories into a store,
// hashes their content with BLAKE3, and writes the store's two
// manifest artifacts, following the teacher's own
// main()/run() error / os/signal.NotifyContext shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nilgrove/repodex/internal/config"
	"github.com/nilgrove/repodex/internal/engine"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		storeFlag  string
		configFlag string
		scan       bool
		hash       bool
		manifest   bool
		once       bool
	)
	flag.StringVar(&storeFlag, "store", "", "store root directory (used when STORE is unset; overrides XDG and home defaults)")
	flag.StringVar(&configFlag, "config", "", "path to the store's config file (default: <store>/config)")
	flag.BoolVar(&scan, "scan", false, "reconcile the store against the live filesystem")
	flag.BoolVar(&hash, "hash", false, "drain the hash queue")
	flag.BoolVar(&manifest, "manifest", false, "write manifest artifacts now, regardless of the configured interval")
	flag.BoolVar(&once, "once", false, "run scan, hash, and a forced manifest write, then exit")
	flag.Parse()

	scan, hash, manifest = selectedStages(scan, hash, manifest, once)

	storeRoot, err := config.ResolveStoreRoot(storeFlag)
	if err != nil {
		return fmt.Errorf("resolving store root: %w", err)
	}

	cfgPath := configFlag
	if cfgPath == "" {
		cfgPath = filepath.Join(storeRoot, "config")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	eng, err := engine.Open(cfg, storeRoot, logger)
	if err != nil {
		return fmt.Errorf("opening engine: %w", err)
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	var files, size uint64
	done := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		done <- runOnce(ctx, eng, scan, hash, manifest, &files, &size)
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received, waiting for the current unit of work to finish")
		wg.Wait()
		if err := <-done; err != nil {
			return err
		}
	}

	logger.Info("run complete",
		"run", eng.RunID().String(),
		"files_hashed", files,
		"bytes_hashed", humanize.Bytes(size),
		"elapsed", time.Since(start),
	)
	return nil
}

// selectedStages resolves which of scan, hash, and manifest actually
// run: -once is shorthand for all three, and no flags at all defaults
// to -once rather than doing nothing.
func selectedStages(scan, hash, manifest, once bool) (bool, bool, bool) {
	if once || (!scan && !hash && !manifest) {
		return true, true, true
	}
	return scan, hash, manifest
}

func runOnce(ctx context.Context, eng *engine.Engine, scan, hash, manifest bool, files, size *uint64) error {
	if scan {
		if err := eng.Scan(ctx); err != nil {
			return err
		}
	}
	if hash {
		*files, *size = eng.Queue.Totals()
		if err := eng.RunHasher(ctx); err != nil {
			return err
		}
	}
	if manifest {
		if err := eng.WriteManifests(true); err != nil {
			return err
		}
	}
	return nil
}
