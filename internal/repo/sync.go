package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/magisk-mods/repocache/fetch"
	"github.com/magisk-mods/repocache/internal/catalog"
	"github.com/magisk-mods/repocache/internal/compat"
	"github.com/magisk-mods/repocache/internal/store"
)

// ErrUnknownRepo is returned for operations on an unregistered repo id.
var ErrUnknownRepo = errors.New("unknown repository")

// ReconcileError wraps a metadata store failure that aborted a sync. The
// repository's cache is left in its last-good state; freshness does not
// advance, so the next eligible window retries.
type ReconcileError struct {
	RepoID string
	Err    error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("reconciling repo %s: %v", e.RepoID, e.Err)
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// SyncResult reports one repository sync cycle.
type SyncResult struct {
	RepoID string
	// Changed holds snapshots of new modules and modules whose catalog entry
	// advanced (or whose metadata was invalid and got refreshed).
	Changed []Module
	// Removed lists ids evicted because the catalog no longer contains them.
	Removed []string
	// SkippedEntries lists catalog ids rejected by the id checks.
	SkippedEntries []string
	// Fresh is true when the freshness window had not elapsed and the cycle
	// was skipped entirely.
	Fresh bool
}

// Engine orchestrates repository sync cycles: fetch, parse, reconcile,
// metadata refresh. It owns its metadata stores and registry handle for the
// whole process lifetime; nothing is reopened per call.
type Engine struct {
	fetcher  fetch.Capability
	states   StateStore
	compat   *compat.Registry
	cacheDir string
	logger   *log.Logger
	clock    func() time.Time
	debug    bool

	mu    sync.RWMutex
	repos map[string]*Repo
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *log.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithDebug switches the engine to diagnostic mode: the freshness window
// shrinks and force-hide decisions are disabled by the compat registry.
func WithDebug(debug bool) EngineOption {
	return func(e *Engine) {
		e.debug = debug
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) {
		e.clock = clock
	}
}

// NewEngine creates a sync engine. cacheDir is the root under which each
// repository gets its own metadata cache directory.
func NewEngine(fetcher fetch.Capability, states StateStore, cr *compat.Registry, cacheDir string, opts ...EngineOption) *Engine {
	e := &Engine{
		fetcher:  fetcher,
		states:   states,
		compat:   cr,
		cacheDir: cacheDir,
		clock:    time.Now,
		repos:    make(map[string]*Repo),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "repocache"})
	}
	return e
}

// AddRepo registers a repository by its catalog URL and returns its live
// state. Registering the same URL twice returns the existing repo.
func (e *Engine) AddRepo(rawURL string) (*Repo, error) {
	id := IDForURL(rawURL)

	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.repos[id]; ok {
		return r, nil
	}

	metadata, err := store.New(filepath.Join(e.cacheDir, id))
	if err != nil {
		return nil, err
	}
	r, err := newRepo(rawURL, metadata, e.states, e.compat, e.logger, e.clock, e.debug)
	if err != nil {
		return nil, err
	}
	e.repos[id] = r
	return r, nil
}

// Repo returns a registered repository by id.
func (e *Engine) Repo(id string) (*Repo, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.repos[id]
	return r, ok
}

// Repos returns all registered repositories.
func (e *Engine) Repos() []*Repo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Repo, 0, len(e.repos))
	for _, r := range e.repos {
		out = append(out, r)
	}
	return out
}

// RemoveRepo unregisters a repository, purges its entire metadata cache, and
// drops its persisted state.
func (e *Engine) RemoveRepo(id string) error {
	e.mu.Lock()
	r, ok := e.repos[id]
	delete(e.repos, id)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrUnknownRepo)
	}
	if err := r.metadata.Purge(); err != nil {
		return fmt.Errorf("purging cache for %s: %w", id, err)
	}
	return e.states.Remove(id)
}

// Sync runs one reconciliation cycle for the repository. Unless force is
// set, a repo still inside its freshness window is skipped. On any fetch or
// parse failure the previous cache stays visible and freshness does not
// advance.
func (e *Engine) Sync(ctx context.Context, repoID string, force bool) (*SyncResult, error) {
	r, ok := e.Repo(repoID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", repoID, ErrUnknownRepo)
	}

	if !force && !r.ShouldSync() {
		return &SyncResult{RepoID: repoID, Fresh: true}, nil
	}

	raw, err := e.fetcher.Fetch(ctx, r.url, false)
	if err != nil {
		return nil, fmt.Errorf("fetching catalog for %s: %w", repoID, err)
	}

	c, err := catalog.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing catalog for %s: %w", repoID, err)
	}
	for _, id := range c.Skipped {
		e.logger.Warn("skipping catalog entry with invalid id", "repo", repoID, "module", id)
	}

	changed, removed, err := r.reconcile(c)
	if err != nil {
		return nil, err
	}

	// Refresh metadata for changed modules. A failed prop fetch flags the
	// single module invalid; the sync itself keeps going.
	for i := range changed {
		e.refreshModuleMetadata(ctx, r, &changed[i])
	}

	now := r.clock().UnixMilli()
	r.mu.Lock()
	r.lastSync = now
	st := r.stateLocked()
	r.mu.Unlock()
	if err := r.states.Save(r.id, st); err != nil {
		return nil, fmt.Errorf("persisting state for %s: %w", repoID, err)
	}

	return &SyncResult{
		RepoID:         repoID,
		Changed:        changed,
		Removed:        removed,
		SkippedEntries: c.Skipped,
	}, nil
}

// SyncAll runs Sync over every registered repository, skipping disabled
// repos, and returns the results keyed by repo id. Per-repo failures are
// collected, not fatal to the others.
func (e *Engine) SyncAll(ctx context.Context, force bool) (map[string]*SyncResult, error) {
	results := make(map[string]*SyncResult)
	var errs []error
	for _, r := range e.Repos() {
		if !r.Enabled() {
			continue
		}
		res, err := e.Sync(ctx, r.ID(), force)
		if err != nil {
			e.logger.Error("sync failed", "repo", r.ID(), "err", err)
			errs = append(errs, err)
			continue
		}
		results[r.ID()] = res
	}
	return results, errors.Join(errs...)
}

// refreshModuleMetadata fetches a changed module's property file, persists it,
// and reloads the record's metadata. The write re-checks table membership so
// a module evicted by a concurrent reconcile never leaves an orphaned file.
func (e *Engine) refreshModuleMetadata(ctx context.Context, r *Repo, m *Module) {
	data, err := e.fetcher.Fetch(ctx, m.PropURL, false)
	if err != nil {
		e.logger.Warn("fetching module properties failed", "repo", r.id, "module", m.ID, "err", err)
		r.markInvalid(m.ID)
		m.MetadataInvalid = true
		return
	}

	r.mu.Lock()
	if _, present := r.modules[m.ID]; !present {
		r.mu.Unlock()
		return
	}
	err = r.metadata.Write(m.ID, data)
	r.mu.Unlock()
	if err != nil {
		e.logger.Error("persisting module metadata failed", "repo", r.id, "module", m.ID, "err", err)
		r.markInvalid(m.ID)
		m.MetadataInvalid = true
		return
	}

	if r.TryLoadMetadata(m.ID) {
		if snap, ok := r.Module(m.ID); ok {
			*m = snap
		}
	} else {
		m.MetadataInvalid = true
	}
}

func (r *Repo) markInvalid(moduleID string) {
	r.mu.Lock()
	if m, ok := r.modules[moduleID]; ok {
		m.MetadataInvalid = true
	}
	r.mu.Unlock()
}

// reconcile merges a parsed catalog into the module table under the repo
// lock. It returns snapshots of changed records and the ids of evicted
// records. Reconciling the same catalog twice yields no changed records the
// second time.
func (r *Repo) reconcile(c *catalog.Catalog) ([]Module, []string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.modules {
		m.processed = false
	}

	var changed []*Module
	for _, entry := range c.Modules {
		// The parser already rejects bad ids; keep the check because
		// reconcile accepts caller-built catalogs too.
		if !catalog.ValidModuleID(entry.ID) {
			continue
		}

		m, exists := r.modules[entry.ID]
		if !exists {
			m = &Module{ID: entry.ID, RepoID: r.id}
			r.modules[entry.ID] = m
			changed = append(changed, m)
		} else if entry.LastUpdated > m.LastUpdated || m.MetadataInvalid {
			changed = append(changed, m)
		}

		m.processed = true
		m.RepoName = c.DisplayName
		m.LastUpdated = entry.LastUpdated
		m.NotesURL = entry.NotesURL
		m.PropURL = entry.PropURL
		m.ZipURL = entry.ZipURL
		m.Checksum = entry.Checksum
		m.QualityValue = entry.QualityValue
		m.QualityKind = entry.QualityKind
	}

	// Evict modules the catalog no longer lists. Eviction is synchronous
	// with cache-file deletion so no metadata file is ever orphaned.
	var removed []string
	for id, m := range r.modules {
		if m.processed {
			continue
		}
		if err := r.metadata.Delete(id); err != nil {
			return nil, nil, &ReconcileError{RepoID: r.id, Err: err}
		}
		delete(r.modules, id)
		removed = append(removed, id)
	}

	// Commit repo-level display fields from the catalog's top-level object.
	r.name = c.Name
	r.catalogDate = c.LastUpdate
	r.website = c.Website
	r.support = c.Support
	r.donate = c.Donate
	r.submitMod = c.SubmitModule

	out := make([]Module, len(changed))
	for i, m := range changed {
		out[i] = *m
	}
	return out, removed, nil
}
