package fetch

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrNoDownloadURL = errors.New("no download URL available")

// ArtifactInfo describes a downloadable module archive.
type ArtifactInfo struct {
	URL      string
	Filename string
	// Integrity is "sha256-<hex>" when the catalog published a checksum,
	// empty otherwise.
	Integrity string
}

// ResolveArtifact builds download information from a catalog zip URL and its
// optional checksum. The checksum is hex sha256 on the wire; a "null" literal
// or malformed value is treated as absent rather than an error, matching how
// catalogs in the wild publish it.
func ResolveArtifact(zipURL, checksum string) (*ArtifactInfo, error) {
	if zipURL == "" {
		return nil, ErrNoDownloadURL
	}
	if _, err := url.ParseRequestURI(zipURL); err != nil {
		return nil, fmt.Errorf("invalid download URL %q: %w", zipURL, err)
	}

	info := &ArtifactInfo{
		URL:      zipURL,
		Filename: filenameFromURL(zipURL),
	}
	if hex := normalizeChecksum(checksum); hex != "" {
		info.Integrity = "sha256-" + hex
	}
	return info, nil
}

func filenameFromURL(rawURL string) string {
	trimmed := rawURL
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if trimmed == "" {
		return "module.zip"
	}
	return trimmed
}

// normalizeChecksum validates a hex sha256 string, returning it lowercased
// or "" when absent or unusable.
func normalizeChecksum(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "null" || len(s) != 64 {
		return ""
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return ""
		}
	}
	return s
}
