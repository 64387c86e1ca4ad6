package catalog

import (
	"errors"
	"testing"
)

const validCatalog = `{
	"name": "Magisk Modules Repo (Official)",
	"last_update": 1666000000000,
	"website": "https://example.com",
	"support": "https://example.com/support",
	"modules": [
		{
			"id": "busybox-ndk",
			"last_update": 1665000000000,
			"notes_url": "https://example.com/busybox/notes.md",
			"prop_url": "https://example.com/busybox/module.prop",
			"zip_url": "https://example.com/busybox/module.zip",
			"checksum": "abc123",
			"stars": "42",
			"downloads": "99"
		},
		{
			"id": "safetynet-fix",
			"last_update": 1665500000000,
			"notes_url": "https://example.com/snfix/notes.md",
			"prop_url": "https://example.com/snfix/module.prop",
			"zip_url": "https://example.com/snfix/module.zip",
			"stars": "",
			"downloads": "7"
		}
	]
}`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(validCatalog))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if c.Name != "Magisk Modules Repo (Official)" {
		t.Errorf("Name = %q", c.Name)
	}
	if c.DisplayName != "Magisk Modules Repo" {
		t.Errorf("DisplayName = %q, want %q", c.DisplayName, "Magisk Modules Repo")
	}
	if c.LastUpdate != 1666000000000 {
		t.Errorf("LastUpdate = %d", c.LastUpdate)
	}
	if len(c.Modules) != 2 {
		t.Fatalf("len(Modules) = %d, want 2", len(c.Modules))
	}

	bb := c.Modules[0]
	if bb.ID != "busybox-ndk" || bb.Checksum != "abc123" {
		t.Errorf("unexpected module: %+v", bb)
	}
	if bb.QualityKind != QualityStars || bb.QualityValue != 42 {
		t.Errorf("quality = %s/%d, want stars/42", bb.QualityKind, bb.QualityValue)
	}

	sn := c.Modules[1]
	if sn.QualityKind != QualityDownloads || sn.QualityValue != 7 {
		t.Errorf("quality = %s/%d, want downloads/7", sn.QualityKind, sn.QualityValue)
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"missing name", `{"last_update": 1, "modules": []}`},
		{"missing last_update", `{"name": "x", "modules": []}`},
		{"missing modules", `{"name": "x", "last_update": 1}`},
		{"entry missing id", `{"name": "x", "last_update": 1, "modules": [
			{"last_update": 1, "notes_url": "n", "prop_url": "p", "zip_url": "z"}]}`},
		{"entry missing zip_url", `{"name": "x", "last_update": 1, "modules": [
			{"id": "mod1", "last_update": 1, "notes_url": "n", "prop_url": "p"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			if !errors.Is(err, ErrMalformedCatalog) {
				t.Errorf("Parse = %v, want ErrMalformedCatalog", err)
			}
		})
	}
}

func TestParseSkipsInvalidIDs(t *testing.T) {
	raw := `{"name": "x", "last_update": 1, "modules": [
		{"id": "ak3-helper", "last_update": 1, "notes_url": "n", "prop_url": "p", "zip_url": "z"},
		{"id": "1numeric", "last_update": 1, "notes_url": "n", "prop_url": "p", "zip_url": "z"},
		{"id": ".hidden", "last_update": 1, "notes_url": "n", "prop_url": "p", "zip_url": "z"},
		{"id": "a", "last_update": 1, "notes_url": "n", "prop_url": "p", "zip_url": "z"},
		{"id": "goodmod", "last_update": 1, "notes_url": "n", "prop_url": "p", "zip_url": "z"}
	]}`

	c, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(c.Modules) != 1 || c.Modules[0].ID != "goodmod" {
		t.Errorf("Modules = %+v, want only goodmod", c.Modules)
	}
	if len(c.Skipped) != 4 {
		t.Errorf("Skipped = %v, want 4 entries", c.Skipped)
	}
}

func TestParseDeduplicatesIDs(t *testing.T) {
	raw := `{"name": "x", "last_update": 1, "modules": [
		{"id": "dup", "last_update": 1, "notes_url": "n1", "prop_url": "p", "zip_url": "z"},
		{"id": "other", "last_update": 1, "notes_url": "n", "prop_url": "p", "zip_url": "z"},
		{"id": "dup", "last_update": 2, "notes_url": "n2", "prop_url": "p", "zip_url": "z"}
	]}`

	c, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(c.Modules) != 2 {
		t.Fatalf("len(Modules) = %d, want 2", len(c.Modules))
	}
	if c.Modules[0].ID != "dup" || c.Modules[0].LastUpdated != 2 || c.Modules[0].NotesURL != "n2" {
		t.Errorf("duplicate not resolved to last occurrence: %+v", c.Modules[0])
	}
}

func TestValidModuleID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"busybox-ndk", true},
		{"A2", true},
		{"mod.with_all-chars9", true},
		{"", false},
		{"a", false},
		{"9starts-with-digit", false},
		{".dotfile", false},
		{"has space", false},
		{"ak3-helper", false},
	}
	for _, tt := range tests {
		if got := ValidModuleID(tt.id); got != tt.want {
			t.Errorf("ValidModuleID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestQualityFromNumericJSON(t *testing.T) {
	raw := `{"name": "x", "last_update": 1, "modules": [
		{"id": "numeric", "last_update": 1, "notes_url": "n", "prop_url": "p", "zip_url": "z", "downloads": 1234},
		{"id": "stats-only", "last_update": 1, "notes_url": "n", "prop_url": "p", "zip_url": "z", "stats": "55"},
		{"id": "bad-stars", "last_update": 1, "notes_url": "n", "prop_url": "p", "zip_url": "z", "stars": "lots", "downloads": "8"}
	]}`

	c, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := map[string]struct {
		kind  QualityKind
		value int
	}{
		"numeric":    {QualityDownloads, 1234},
		"stats-only": {QualityDownloads, 55},
		"bad-stars":  {QualityDownloads, 8}, // unparsable stars falls through
	}
	for _, m := range c.Modules {
		w := want[m.ID]
		if m.QualityKind != w.kind || m.QualityValue != w.value {
			t.Errorf("%s: quality = %s/%d, want %s/%d", m.ID, m.QualityKind, m.QualityValue, w.kind, w.value)
		}
	}
}

func TestStripOfficial(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Repo (Official)", "Repo"},
		{"Repo [Official]", "Repo"},
		{"Official Repo", "Repo"},
		{"Plain Repo", "Plain Repo"},
		{"official repo", "official repo"}, // case-sensitive
	}
	for _, tt := range tests {
		if got := stripOfficial(tt.in); got != tt.want {
			t.Errorf("stripOfficial(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
