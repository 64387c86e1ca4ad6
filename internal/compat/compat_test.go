package compat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFlags(t *testing.T) {
	r := NewRegistry()
	input := strings.Join([]string{
		"# comment line",
		"",
		"evilmod/malware,forceHide",
		"oldmod/lowQuality",
		"weird line without separator",
		"futuremod/someFutureFlag,noExt",
		"fancy.mod/need32bit,magiskCmd,noANSI,forceANSI,mmtReborn,wrapper",
	}, "\n")

	if err := r.Load(strings.NewReader(input)); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		id   string
		want Flag
	}{
		{"evilmod", Malware | ForceHide},
		{"oldmod", LowQuality},
		{"futuremod", NoExtension}, // unknown token dropped
		{"fancy.mod", Need32Bit | MagiskCommand | NoANSI | ForceANSI | LegacyWrapper | ZipWrapper},
		{"absent", 0},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := r.FlagsFor(tt.id); got != tt.want {
				t.Errorf("FlagsFor(%q) = %#x, want %#x", tt.id, got, tt.want)
			}
		})
	}
}

func TestLoadReplacesWholeTable(t *testing.T) {
	r := NewRegistry()
	if err := r.Load(strings.NewReader("gone/malware\n")); err != nil {
		t.Fatal(err)
	}
	if err := r.Load(strings.NewReader("kept/lowQuality\n")); err != nil {
		t.Fatal(err)
	}
	if got := r.FlagsFor("gone"); got != 0 {
		t.Errorf("stale flags survived reload: %#x", got)
	}
	if got := r.FlagsFor("kept"); got != LowQuality {
		t.Errorf("FlagsFor(kept) = %#x, want %#x", got, LowQuality)
	}
}

func TestShouldForceHide(t *testing.T) {
	r := NewRegistry()
	if err := r.Load(strings.NewReader("badrepo/forceHide\nrepo_custom/forceHide\nmagisk_alt_repo/forceHide\n")); err != nil {
		t.Fatal(err)
	}

	if !r.ShouldForceHide("badrepo") {
		t.Error("badrepo should be force-hidden")
	}
	if r.ShouldForceHide("repo_custom") {
		t.Error("custom repos are never force-hidden")
	}
	if r.ShouldForceHide("magisk_alt_repo") {
		t.Error("exempted builtin is never force-hidden")
	}
	if r.ShouldForceHide("unknown") {
		t.Error("unknown repo should not be force-hidden")
	}

	debug := NewRegistry(WithDebug(true))
	if err := debug.Load(strings.NewReader("badrepo/forceHide\n")); err != nil {
		t.Fatal(err)
	}
	if debug.ShouldForceHide("badrepo") {
		t.Error("debug builds never force-hide")
	}
}

func TestRefreshAndReset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "compat.txt")
	if err := os.WriteFile(path, []byte("mod/malware\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(WithFile(path))
	if err := r.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if got := r.FlagsFor("mod"); got != Malware {
		t.Errorf("FlagsFor(mod) = %#x, want %#x", got, Malware)
	}

	if err := r.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if got := r.FlagsFor("mod"); got != 0 {
		t.Errorf("flags survived Reset: %#x", got)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Errorf("backing file not truncated, %d bytes left", len(data))
	}

	// Refresh against a missing file is an empty flag set.
	missing := NewRegistry(WithFile(filepath.Join(dir, "nope.txt")))
	if err := missing.Refresh(); err != nil {
		t.Fatalf("Refresh on missing file: %v", err)
	}
	if got := missing.FlagsFor("mod"); got != 0 {
		t.Errorf("FlagsFor on missing file = %#x, want 0", got)
	}
}
