// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fs lists directories for the browse pages and keeps client supplied
// paths inside the served root.
package fs

import (
	"errors"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound is returned when a target does not exist.
	ErrNotFound = errors.New("path not found")
	// ErrNotADirectory is returned when a directory was expected.
	ErrNotADirectory = errors.New("not a directory")
	// ErrEscape is returned when a path resolves outside the served root.
	ErrEscape = errors.New("path escapes served root")
)

// mapStatError maps the provided non-nil error from stat'ing name to one of
// the package errors. In particular, it turns OS-specific errors about walking
// through non-directories into ErrNotFound.
func mapStatError(originalErr error, name string, stat func(string) (os.FileInfo, error)) error {
	if errors.Is(originalErr, iofs.ErrNotExist) {
		return ErrNotFound
	}
	if errors.Is(originalErr, iofs.ErrPermission) {
		return originalErr
	}

	sep := string(filepath.Separator)
	parts := strings.Split(name, sep)
	for i := range parts {
		if parts[i] == "" {
			continue
		}
		fi, err := stat(strings.Join(parts[:i+1], sep))
		if err != nil {
			return originalErr
		}
		if !fi.IsDir() && i < len(parts)-1 {
			return ErrNotFound
		}
	}
	return originalErr
}

// Stat is os.Stat with errors mapped to ErrNotFound where the target is
// missing.
func Stat(name string) (os.FileInfo, error) {
	fi, err := os.Stat(name)
	if err != nil {
		return nil, mapStatError(err, name, os.Stat)
	}
	return fi, nil
}

// StatDir is Stat that additionally requires a directory.
func StatDir(name string) (os.FileInfo, error) {
	fi, err := Stat(name)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, ErrNotADirectory
	}
	return fi, nil
}

// IsMissing reports whether err means the target is absent or of the wrong
// kind. Handlers answer those with the same "Path not found!" body.
func IsMissing(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotADirectory) || errors.Is(err, ErrEscape)
}
