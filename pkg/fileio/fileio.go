// Package fileio handles the disk side of a processing run: atomic
// in-place rewrites through a temp file, and an advisory lock so two
// runs never rewrite the same file concurrently.
//
// Copyright (C) 2026  Gcodepost Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package fileio

import (
	"fmt"
	"os"
	"path/filepath"

	"gcodepost/pkg/errors"
)

// AtomicWriter writes to a temp file next to the target and renames it
// over the target on Commit. An abandoned writer leaves the target
// untouched.
type AtomicWriter struct {
	target string
	tmp    *os.File
	done   bool
}

// NewAtomicWriter opens a temp file in the target's directory. The temp
// file lives on the same filesystem so the final rename is atomic.
func NewAtomicWriter(target string) (*AtomicWriter, error) {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return nil, errors.StreamIOError("create temp", err)
	}
	return &AtomicWriter{target: target, tmp: tmp}, nil
}

func (w *AtomicWriter) Write(p []byte) (int, error) {
	return w.tmp.Write(p)
}

// Name returns the temp file path, for diagnostics.
func (w *AtomicWriter) Name() string {
	return w.tmp.Name()
}

// Commit syncs the temp file and renames it over the target. The
// target's permissions are preserved when it already exists.
func (w *AtomicWriter) Commit() error {
	if w.done {
		return errors.StreamIOError("commit", fmt.Errorf("writer already closed"))
	}
	w.done = true

	if info, err := os.Stat(w.target); err == nil {
		if err := w.tmp.Chmod(info.Mode().Perm()); err != nil {
			w.tmp.Close()
			os.Remove(w.tmp.Name())
			return errors.StreamIOError("chmod", err)
		}
	}
	if err := w.tmp.Sync(); err != nil {
		w.tmp.Close()
		os.Remove(w.tmp.Name())
		return errors.StreamIOError("sync", err)
	}
	if err := w.tmp.Close(); err != nil {
		os.Remove(w.tmp.Name())
		return errors.StreamIOError("close", err)
	}
	if err := os.Rename(w.tmp.Name(), w.target); err != nil {
		os.Remove(w.tmp.Name())
		return errors.StreamIOError("rename", err)
	}
	return nil
}

// Abort discards the temp file. Safe to call after Commit.
func (w *AtomicWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.tmp.Close()
	os.Remove(w.tmp.Name())
}

// Lock is an advisory file lock tied to an open descriptor.
type Lock struct {
	f *os.File
}

// LockFile takes an exclusive advisory lock on path, creating the file
// if needed. It fails immediately when another process holds the lock.
func LockFile(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.StreamIOError("open", err)
	}
	if err := flockExclusive(f); err != nil {
		f.Close()
		return nil, errors.StreamIOError("lock",
			fmt.Errorf("%s is locked by another process: %w", path, err))
	}
	return &Lock{f: f}, nil
}

// Unlock releases the lock and closes the descriptor.
func (l *Lock) Unlock() error {
	defer l.f.Close()
	return flockRelease(l.f)
}
