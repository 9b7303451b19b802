//go:build linux

// Copyright (C) 2026  Gcodepost Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package fileio

import (
	"os"

	"golang.org/x/sys/unix"
)

func flockExclusive(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func flockRelease(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
