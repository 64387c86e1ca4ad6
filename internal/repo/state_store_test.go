package repo

import (
	"path/filepath"
	"testing"
)

func TestFileStateStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repos.toml")

	s, err := NewFileStateStore(path)
	if err != nil {
		t.Fatal(err)
	}
	want := State{
		URL:         "https://example.com/modules.json",
		Name:        "Test Repo",
		Website:     "https://example.com/",
		Enabled:     true,
		CatalogDate: 5000,
		LastSync:    6000,
	}
	if err := s.Save("repo_abc", want); err != nil {
		t.Fatal(err)
	}

	// A fresh store re-reads the file from disk.
	s2, err := NewFileStateStore(path)
	if err != nil {
		t.Fatal(err)
	}
	got, ok, err := s2.Load("repo_abc")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("saved state not found after reopen")
	}
	if got != want {
		t.Fatalf("Load = %+v, want %+v", got, want)
	}

	if _, ok, _ := s2.Load("repo_missing"); ok {
		t.Fatal("Load reported a state that was never saved")
	}
}

func TestFileStateStoreRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repos.toml")
	s, err := NewFileStateStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save("repo_abc", State{URL: "u", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove("repo_abc"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Load("repo_abc"); ok {
		t.Fatal("state still present after Remove")
	}

	s2, err := NewFileStateStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s2.Load("repo_abc"); ok {
		t.Fatal("removal not persisted")
	}
}

func TestFileStateStoreMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.toml")
	s, err := NewFileStateStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Load("anything"); ok {
		t.Fatal("empty store reported a state")
	}
}
