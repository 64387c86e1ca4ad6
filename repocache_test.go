package repocache_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/magisk-mods/repocache"
)

func TestEndToEndSync(t *testing.T) {
	const propBody = "id=busybox-ndk\nname=BusyBox NDK\nversion=1.34.1\nversionCode=10340\nauthor=osm0sis\n"

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/modules.json", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{
			"name": "Test Repo [Official]",
			"last_update": 1700000000000,
			"website": "https://example.com",
			"modules": [
				{
					"id": "busybox-ndk",
					"last_update": 1690000000000,
					"notes_url": "%[1]s/busybox-ndk.md",
					"prop_url": "%[1]s/busybox-ndk.prop",
					"zip_url": "%[1]s/busybox-ndk.zip",
					"checksum": "%[2]s",
					"stars": 42
				}
			]
		}`, srv.URL, strings.Repeat("ab", 32))
	})
	mux.HandleFunc("/busybox-ndk.prop", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, propBody)
	})

	fetcher := repocache.NewFetcher(repocache.WithMaxRetries(0))
	states, err := repocache.NewFileStateStore(filepath.Join(t.TempDir(), "repos.toml"))
	if err != nil {
		t.Fatal(err)
	}
	engine := repocache.NewEngine(fetcher, states, repocache.NewCompatRegistry(), t.TempDir())

	repo, err := engine.AddRepo(srv.URL + "/modules.json")
	if err != nil {
		t.Fatal(err)
	}
	res, err := engine.Sync(context.Background(), repo.ID(), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Changed) != 1 {
		t.Fatalf("Changed = %d, want 1", len(res.Changed))
	}

	m, ok := repo.Module("busybox-ndk")
	if !ok {
		t.Fatal("module missing after sync")
	}
	if !m.Ready() {
		t.Fatal("module not ready after sync")
	}
	if m.Version() != "1.34.1" {
		t.Fatalf("Version() = %q", m.Version())
	}
	if m.RepoName != "Test Repo" {
		t.Fatalf("RepoName = %q, want official suffix stripped", m.RepoName)
	}
	if m.QualityValue != 42 || m.QualityKind != repocache.QualityStars {
		t.Fatalf("quality = %d/%s", m.QualityValue, m.QualityKind)
	}
}

func TestModulePURL(t *testing.T) {
	m := repocache.Module{ID: "busybox-ndk"}
	if got := repocache.ModulePURL(m); got != "pkg:magisk/busybox-ndk" {
		t.Fatalf("ModulePURL = %q", got)
	}

	m.Props = &repocache.PropertyBlock{Version: "1.34.1"}
	got := repocache.ModulePURL(m)
	if got != "pkg:magisk/busybox-ndk@1.34.1" {
		t.Fatalf("ModulePURL = %q", got)
	}

	parsed, err := repocache.ParsePURL(got)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Type != "magisk" || parsed.Name != "busybox-ndk" || parsed.Version != "1.34.1" {
		t.Fatalf("ParsePURL = %+v", parsed)
	}
}

func TestModuleArtifact(t *testing.T) {
	m := repocache.Module{
		ID:       "busybox-ndk",
		ZipURL:   "https://example.com/dl/busybox-ndk.zip",
		Checksum: strings.Repeat("ab", 32),
	}
	info, err := repocache.ModuleArtifact(m)
	if err != nil {
		t.Fatal(err)
	}
	if info.Filename != "busybox-ndk.zip" {
		t.Fatalf("Filename = %q", info.Filename)
	}
	if info.Integrity != "sha256-"+strings.Repeat("ab", 32) {
		t.Fatalf("Integrity = %q", info.Integrity)
	}
}

func TestRepoIDForURL(t *testing.T) {
	alt := "https://raw.githubusercontent.com/Magisk-Modules-Alt-Repo/json/main/modules.json"
	if got := repocache.RepoIDForURL(alt); got != "magisk_alt_repo" {
		t.Fatalf("RepoIDForURL(alt) = %q", got)
	}
	if got := repocache.RepoIDForURL("https://example.com/m.json"); !strings.HasPrefix(got, "repo_") {
		t.Fatalf("RepoIDForURL = %q, want repo_ prefix", got)
	}
}

func TestValidModuleID(t *testing.T) {
	for id, want := range map[string]bool{
		"busybox-ndk": true,
		"a1":          true,
		"9bad":        false,
		"x":           false,
		"ak3-helper":  false,
	} {
		if got := repocache.ValidModuleID(id); got != want {
			t.Errorf("ValidModuleID(%q) = %v, want %v", id, got, want)
		}
	}
}
