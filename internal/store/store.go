// Package store persists per-module metadata as one property file per module
// id under a repository's cache root.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/magisk-mods/repocache/internal/props"
)

// ErrNotFound is returned when a module has no stored metadata.
var ErrNotFound = errors.New("module metadata not found")

// ParseError reports stored metadata that could not be parsed. The caller is
// expected to delete the file and treat the module's metadata as invalid.
type ParseError struct {
	ModuleID string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing metadata for %s: %v", e.ModuleID, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// InvariantViolationError reports a failed eviction: a stale metadata file
// that could not be deleted. The cache would be left with an orphaned record,
// which usually means a filesystem problem the operator must diagnose.
type InvariantViolationError struct {
	ModuleID string
	Err      error
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("evicting metadata for %s: %v", e.ModuleID, e.Err)
}

func (e *InvariantViolationError) Unwrap() error {
	return e.Err
}

// Store is a file-backed metadata store for one repository.
type Store struct {
	root string
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}
	return &Store{root: dir}, nil
}

// Root returns the store's cache root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) path(moduleID string) string {
	return filepath.Join(s.root, moduleID+".prop")
}

// Write stores the raw property bytes for a module. The write goes to a temp
// file in the same directory and is renamed into place, so a concurrent
// reader never observes a truncated file.
func (s *Store) Write(moduleID string, data []byte) (err error) {
	tmp, err := os.CreateTemp(s.root, moduleID+".prop.tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing metadata: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), s.path(moduleID)); err != nil {
		return fmt.Errorf("renaming metadata into place: %w", err)
	}
	return nil
}

// Read loads and parses a module's stored metadata.
// Returns ErrNotFound when no file exists and a *ParseError when the file
// exists but cannot be parsed.
func (s *Store) Read(moduleID string) (*props.Block, error) {
	data, err := os.ReadFile(s.path(moduleID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", moduleID, ErrNotFound)
		}
		return nil, fmt.Errorf("reading metadata for %s: %w", moduleID, err)
	}
	block, err := props.ParseBytes(data)
	if err != nil {
		return nil, &ParseError{ModuleID: moduleID, Err: err}
	}
	return block, nil
}

// Exists reports whether a metadata file is present for the module.
func (s *Store) Exists(moduleID string) bool {
	_, err := os.Stat(s.path(moduleID))
	return err == nil
}

// Delete removes a module's metadata file. A missing file is not an error:
// nothing is left orphaned. Any other failure is an *InvariantViolationError.
func (s *Store) Delete(moduleID string) error {
	err := os.Remove(s.path(moduleID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &InvariantViolationError{ModuleID: moduleID, Err: err}
	}
	return nil
}

// Purge removes the whole cache root. Used when a repository is removed.
func (s *Store) Purge() error {
	return os.RemoveAll(s.root)
}
