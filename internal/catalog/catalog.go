// Package catalog parses a repository's module-catalog JSON into normalized
// module records.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformedCatalog is the sentinel for catalogs missing required fields.
// The whole sync for that repository is aborted; the previous cache is left
// untouched.
var ErrMalformedCatalog = errors.New("malformed catalog")

// MalformedCatalogError wraps ErrMalformedCatalog with the offending field.
type MalformedCatalogError struct {
	Field string
}

func (e *MalformedCatalogError) Error() string {
	return fmt.Sprintf("malformed catalog: missing %s", e.Field)
}

func (e *MalformedCatalogError) Unwrap() error {
	return ErrMalformedCatalog
}

// ReservedID is a module id that must never appear in a catalog; it is used
// internally by installer helper archives.
const ReservedID = "ak3-helper"

var idPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]+$`)

// ValidModuleID reports whether id is syntactically acceptable: it must match
// ^[A-Za-z][A-Za-z0-9._-]+$ (minimum two characters) and must not be the
// reserved helper id.
func ValidModuleID(id string) bool {
	return id != ReservedID && idPattern.MatchString(id)
}

// QualityKind records which catalog field supplied a module's quality metric.
type QualityKind string

const (
	QualityNone      QualityKind = ""
	QualityStars     QualityKind = "stars"
	QualityDownloads QualityKind = "downloads"
)

// Module is one normalized module entry from a catalog.
type Module struct {
	ID           string
	LastUpdated  int64 // epoch millis
	NotesURL     string
	PropURL      string
	ZipURL       string
	Checksum     string
	QualityValue int
	QualityKind  QualityKind
}

// Catalog is the parsed and normalized form of one catalog document.
type Catalog struct {
	Name         string
	DisplayName  string // Name with "Official" decorations stripped
	LastUpdate   int64  // epoch millis
	Website      string
	Support      string
	Donate       string
	SubmitModule string
	Modules      []Module
	Skipped      []string // ids rejected by the id-syntax or reserved-id checks
}

type rawCatalog struct {
	Name         *string      `json:"name"`
	LastUpdate   *int64       `json:"last_update"`
	Website      string       `json:"website"`
	Support      string       `json:"support"`
	Donate       string       `json:"donate"`
	SubmitModule string       `json:"submitModule"`
	Modules      *[]rawModule `json:"modules"`
}

type rawModule struct {
	ID         *string `json:"id"`
	LastUpdate *int64  `json:"last_update"`
	NotesURL   *string `json:"notes_url"`
	PropURL    *string `json:"prop_url"`
	ZipURL     *string `json:"zip_url"`
	Checksum   string  `json:"checksum"`
	Stars      any     `json:"stars"`
	Downloads  any     `json:"downloads"`
	Stats      any     `json:"stats"`
}

// Parse validates and normalizes raw catalog JSON.
//
// A missing top-level name, last_update, or modules array fails with a
// *MalformedCatalogError, as does an entry missing any of its required
// fields (id, last_update, notes_url, prop_url, zip_url). Entries whose id
// fails the syntax or reserved-id checks are skipped individually; their ids
// are reported in Catalog.Skipped.
func Parse(raw []byte) (*Catalog, error) {
	var rc rawCatalog
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCatalog, err)
	}
	switch {
	case rc.Name == nil:
		return nil, &MalformedCatalogError{Field: "name"}
	case rc.LastUpdate == nil:
		return nil, &MalformedCatalogError{Field: "last_update"}
	case rc.Modules == nil:
		return nil, &MalformedCatalogError{Field: "modules"}
	}

	name := strings.TrimSpace(*rc.Name)
	c := &Catalog{
		Name:         name,
		DisplayName:  stripOfficial(name),
		LastUpdate:   *rc.LastUpdate,
		Website:      rc.Website,
		Support:      rc.Support,
		Donate:       rc.Donate,
		SubmitModule: rc.SubmitModule,
	}

	// De-duplicate by id: the last occurrence wins, keeping first-seen order.
	index := make(map[string]int)
	for i, entry := range *rc.Modules {
		switch {
		case entry.ID == nil:
			return nil, &MalformedCatalogError{Field: fmt.Sprintf("modules[%d].id", i)}
		case entry.LastUpdate == nil:
			return nil, &MalformedCatalogError{Field: fmt.Sprintf("modules[%d].last_update", i)}
		case entry.NotesURL == nil:
			return nil, &MalformedCatalogError{Field: fmt.Sprintf("modules[%d].notes_url", i)}
		case entry.PropURL == nil:
			return nil, &MalformedCatalogError{Field: fmt.Sprintf("modules[%d].prop_url", i)}
		case entry.ZipURL == nil:
			return nil, &MalformedCatalogError{Field: fmt.Sprintf("modules[%d].zip_url", i)}
		}

		id := *entry.ID
		if !ValidModuleID(id) {
			c.Skipped = append(c.Skipped, id)
			continue
		}

		m := Module{
			ID:          id,
			LastUpdated: *entry.LastUpdate,
			NotesURL:    *entry.NotesURL,
			PropURL:     *entry.PropURL,
			ZipURL:      *entry.ZipURL,
			Checksum:    entry.Checksum,
		}
		m.QualityValue, m.QualityKind = resolveQuality(entry)

		if at, seen := index[id]; seen {
			c.Modules[at] = m
			continue
		}
		index[id] = len(c.Modules)
		c.Modules = append(c.Modules, m)
	}
	return c, nil
}

// resolveQuality picks the quality metric: stars first, then downloads, then
// the generic stats field. The first integer-parsable value wins.
func resolveQuality(entry rawModule) (int, QualityKind) {
	if n, ok := parseMetric(entry.Stars); ok {
		return n, QualityStars
	}
	if n, ok := parseMetric(entry.Downloads); ok {
		return n, QualityDownloads
	}
	if n, ok := parseMetric(entry.Stats); ok {
		return n, QualityDownloads
	}
	return 0, QualityNone
}

// parseMetric accepts a JSON string or number and returns its integer value.
func parseMetric(v any) (int, bool) {
	switch val := v.(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, false
		}
		return n, true
	case float64:
		return int(val), true
	default:
		return 0, false
	}
}

// stripOfficial removes "Official" decorations from a repository name so the
// per-module display name stays neutral. Matching is case-sensitive.
func stripOfficial(name string) string {
	s := strings.TrimSuffix(name, " (Official)")
	s = strings.TrimSuffix(s, " [Official]")
	if strings.Contains(s, "Official") {
		s = strings.TrimSpace(strings.ReplaceAll(s, "Official", ""))
	}
	return s
}
