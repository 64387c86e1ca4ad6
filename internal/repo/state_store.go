package repo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// State is the persisted per-repository record: the user-controlled enabled
// flag, the display fields from the last successful sync, and the sync
// timestamp. forceHidden is deliberately absent; it is recomputed from the
// compatibility registry, never persisted.
type State struct {
	URL          string `toml:"url"`
	Name         string `toml:"name,omitempty"`
	Website      string `toml:"website,omitempty"`
	Support      string `toml:"support,omitempty"`
	Donate       string `toml:"donate,omitempty"`
	SubmitModule string `toml:"submit_module,omitempty"`
	Enabled      bool   `toml:"enabled"`
	CatalogDate  int64  `toml:"catalog_date,omitempty"` // catalog's own last_update, epoch millis
	LastSync     int64  `toml:"last_sync,omitempty"`    // epoch millis of last successful sync
}

// StateStore is the repository-registry persistence collaborator. The sync
// engine reads and writes repo state through it instead of owning storage.
type StateStore interface {
	Load(repoID string) (State, bool, error)
	Save(repoID string, st State) error
	Remove(repoID string) error
}

// FileStateStore keeps all repo states in a single TOML file. The file is
// read once at construction and written through on every mutation with a
// temp-file-and-rename, so a crash never leaves a truncated registry.
type FileStateStore struct {
	path string

	mu     sync.Mutex
	states map[string]State
}

type stateFile struct {
	Repos map[string]State `toml:"repos"`
}

// NewFileStateStore opens (or initializes) the registry file at path.
func NewFileStateStore(path string) (*FileStateStore, error) {
	s := &FileStateStore{
		path:   path,
		states: make(map[string]State),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("reading repo registry: %w", err)
	}
	var f stateFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing repo registry: %w", err)
	}
	if f.Repos != nil {
		s.states = f.Repos
	}
	return s, nil
}

// Load returns the state for repoID and whether it exists.
func (s *FileStateStore) Load(repoID string) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[repoID]
	return st, ok, nil
}

// Save stores the state for repoID and flushes the registry file.
func (s *FileStateStore) Save(repoID string, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[repoID] = st
	return s.flushLocked()
}

// Remove deletes the state for repoID and flushes the registry file.
func (s *FileStateStore) Remove(repoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, repoID)
	return s.flushLocked()
}

func (s *FileStateStore) flushLocked() (err error) {
	data, err := toml.Marshal(stateFile{Repos: s.states})
	if err != nil {
		return fmt.Errorf("encoding repo registry: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp registry file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing repo registry: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp registry file: %w", err)
	}
	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing repo registry: %w", err)
	}
	return nil
}

// MemoryStateStore is an in-memory StateStore for hosts that keep repo state
// elsewhere, and for tests.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]State)}
}

func (s *MemoryStateStore) Load(repoID string) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[repoID]
	return st, ok, nil
}

func (s *MemoryStateStore) Save(repoID string, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[repoID] = st
	return nil
}

func (s *MemoryStateStore) Remove(repoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, repoID)
	return nil
}
