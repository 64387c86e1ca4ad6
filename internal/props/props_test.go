package props

import (
	"errors"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	input := strings.Join([]string{
		"# module metadata",
		"id=safetynet-fix",
		"name=Universal SafetyNet Fix",
		"version=v2.4.0",
		"versionCode=24000",
		"author=kdrag0n",
		"description=Works around SafetyNet issues",
		"minApi=26",
		"minMagisk=20400",
		"needRamdisk=true",
		"support=https://example.com/support",
		"changeBoot=false",
		"mmtReborn=true",
		"futureKey=ignored",
		"",
	}, "\n")

	b, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if b.ID != "safetynet-fix" {
		t.Errorf("ID = %q", b.ID)
	}
	if b.Name != "Universal SafetyNet Fix" {
		t.Errorf("Name = %q", b.Name)
	}
	if b.VersionCode != 24000 {
		t.Errorf("VersionCode = %d", b.VersionCode)
	}
	if b.MinAPI != 26 || b.MinMagisk != 20400 {
		t.Errorf("MinAPI = %d, MinMagisk = %d", b.MinAPI, b.MinMagisk)
	}
	if !b.NeedRamdisk {
		t.Error("NeedRamdisk = false, want true")
	}
	if b.ChangeBoot {
		t.Error("ChangeBoot = true, want false")
	}
	if !b.MMTReborn {
		t.Error("MMTReborn = false, want true")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no separator", "id=good\nthis line has no separator\n"},
		{"bad int", "versionCode=not-a-number\n"},
		{"bad bool", "needRamdisk=maybe\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("Parse = %v, want *ParseError", err)
			}
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	b := &Block{
		ID:          "busybox-ndk",
		Name:        "BusyBox for Android NDK",
		Version:     "1.36.1",
		VersionCode: 13610,
		Author:      "osm0sis",
		MinMagisk:   19000,
		NeedRamdisk: true,
		Safe:        true,
	}

	got, err := ParseBytes(b.Marshal())
	if err != nil {
		t.Fatalf("ParseBytes failed: %v", err)
	}
	if *got != *b {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, b)
	}
}
