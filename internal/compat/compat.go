// Package compat loads and serves compatibility flags for modules and
// repositories from a line-oriented flag file.
package compat

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
)

// Flag is a bit-set of compatibility flags attached to a module or repo id.
type Flag uint32

const (
	LowQuality    Flag = 0x0001
	NoExtension   Flag = 0x0002
	MagiskCommand Flag = 0x0004
	Need32Bit     Flag = 0x0008
	Malware       Flag = 0x0010
	NoANSI        Flag = 0x0020
	ForceANSI     Flag = 0x0040
	ForceHide     Flag = 0x0080
	LegacyWrapper Flag = 0x0100
	ZipWrapper    Flag = 0x0200
)

// flagTokens maps flag-file tokens to bits. Unknown tokens are ignored so
// newer flag files keep loading on older clients.
var flagTokens = map[string]Flag{
	"lowQuality": LowQuality,
	"noExt":      NoExtension,
	"magiskCmd":  MagiskCommand,
	"need32bit":  Need32Bit,
	"malware":    Malware,
	"noANSI":     NoANSI,
	"forceANSI":  ForceANSI,
	"forceHide":  ForceHide,
	"mmtReborn":  LegacyWrapper,
	"wrapper":    ZipWrapper,
}

// Has reports whether all bits of other are set in f.
func (f Flag) Has(other Flag) bool {
	return f&other == other
}

func (f Flag) String() string {
	if f == 0 {
		return "none"
	}
	var tokens []string
	for tok, bit := range flagTokens {
		if f.Has(bit) {
			tokens = append(tokens, tok)
		}
	}
	// map order is random; callers only use this for logging
	return strings.Join(tokens, ",")
}

// exemptBuiltin is a builtin repo id that is never force-hidden.
const exemptBuiltin = "magisk_alt_repo"

// customRepoPrefix marks user-added repos, which cannot be force-hidden
// (they can only be deleted).
const customRepoPrefix = "repo_"

// Registry holds the id -> Flag table loaded from a flag file.
// Reloads replace the whole table atomically; readers never observe a
// half-populated map.
type Registry struct {
	mu    sync.RWMutex
	flags map[string]Flag

	path  string
	debug bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithDebug disables force-hide decisions, for diagnostic builds.
func WithDebug(debug bool) Option {
	return func(r *Registry) {
		r.debug = debug
	}
}

// WithFile sets the backing flag file used by Refresh and Reset.
func WithFile(path string) Option {
	return func(r *Registry) {
		r.path = path
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		flags: make(map[string]Flag),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load parses flag lines from r and swaps in the resulting table.
// Line format is "id/flag1,flag2,...". Blank lines and lines starting
// with '#' are skipped, as are lines without a '/' separator. Unknown
// flag tokens are silently dropped.
func (r *Registry) Load(src io.Reader) error {
	table := make(map[string]Flag)
	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sep := strings.IndexByte(line, '/')
		if sep == -1 {
			continue
		}
		var value Flag
		for _, tok := range strings.Split(line[sep+1:], ",") {
			value |= flagTokens[tok]
		}
		table[line[:sep]] = value
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.flags = table
	r.mu.Unlock()
	return nil
}

// LoadBytes is Load over an in-memory flag file.
func (r *Registry) LoadBytes(data []byte) error {
	return r.Load(bytes.NewReader(data))
}

// Refresh reloads the backing flag file. A missing file is treated as an
// empty flag set, not an error.
func (r *Registry) Refresh() error {
	if r.path == "" {
		return errors.New("compat: no backing file configured")
	}
	f, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return r.Load(strings.NewReader(""))
		}
		return err
	}
	defer func() { _ = f.Close() }()
	return r.Load(f)
}

// Reset clears the table and truncates the backing file, if any.
func (r *Registry) Reset() error {
	r.mu.Lock()
	r.flags = make(map[string]Flag)
	r.mu.Unlock()
	if r.path == "" {
		return nil
	}
	return os.WriteFile(r.path, nil, 0o644)
}

// FlagsFor returns the flags for id, or 0 when the id is unknown.
func (r *Registry) FlagsFor(id string) Flag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.flags[id]
}

// ShouldForceHide reports whether the repo must be hidden regardless of its
// user-enabled state. Custom repos, the exempted builtin, and debug builds
// are never force-hidden.
func (r *Registry) ShouldForceHide(repoID string) bool {
	if r.debug || strings.HasPrefix(repoID, customRepoPrefix) || repoID == exemptBuiltin {
		return false
	}
	return r.FlagsFor(repoID).Has(ForceHide)
}
