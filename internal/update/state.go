package update

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// FileStateStore persists checker state as a small TOML file. Writes go
// through a temp file and rename so a crash never leaves a torn state.
type FileStateStore struct {
	path string
}

func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{path: path}
}

func (s *FileStateStore) Load() (State, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("reading checker state: %w", err)
	}
	var st State
	if err := toml.Unmarshal(data, &st); err != nil {
		return State{}, false, fmt.Errorf("parsing checker state: %w", err)
	}
	return st, true, nil
}

func (s *FileStateStore) Save(st State) (err error) {
	data, err := toml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding checker state: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing checker state: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("renaming checker state into place: %w", err)
	}
	return nil
}
