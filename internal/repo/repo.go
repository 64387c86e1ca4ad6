// Package repo holds repository state and the engine that reconciles fetched
// catalogs against the local module cache.
package repo

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/magisk-mods/repocache/internal/catalog"
	"github.com/magisk-mods/repocache/internal/compat"
	"github.com/magisk-mods/repocache/internal/props"
	"github.com/magisk-mods/repocache/internal/store"
)

// builtinIDs maps well-known catalog URLs to their stable repo ids. Anything
// else gets a derived "repo_"-prefixed id, which also marks it as a custom
// repo for the force-hide exemption.
var builtinIDs = map[string]string{
	"https://raw.githubusercontent.com/Magisk-Modules-Alt-Repo/json/main/modules.json": "magisk_alt_repo",
	"https://production-api.androidacy.com/magisk/repo":                                "androidacy_repo",
}

// IDForURL derives the deterministic repo id for a catalog URL.
func IDForURL(rawURL string) string {
	if id, ok := builtinIDs[rawURL]; ok {
		return id
	}
	sum := sha256.Sum256([]byte(rawURL))
	return "repo_" + hex.EncodeToString(sum[:8])
}

// IsBuiltin reports whether the repo id belongs to a well-known repository.
func IsBuiltin(repoID string) bool {
	return !strings.HasPrefix(repoID, "repo_")
}

// Module is one live module record owned by a Repo. External readers must
// treat returned Module values as immutable snapshots.
type Module struct {
	ID           string
	RepoID       string
	RepoName     string // normalized repo display name, not the raw catalog name
	LastUpdated  int64  // epoch millis
	NotesURL     string
	PropURL      string
	ZipURL       string
	Checksum     string
	QualityValue int
	QualityKind  catalog.QualityKind

	// Props is the metadata loaded from the module's property file, nil until
	// loaded. MetadataInvalid marks a missing or unparsable property file; the
	// record stays in the table but is excluded from ready results until the
	// next sync refreshes it.
	Props           *props.Block
	MetadataInvalid bool

	processed bool
}

// Ready reports whether the module has valid loaded metadata.
func (m *Module) Ready() bool {
	return m.Props != nil && !m.MetadataInvalid
}

// Version returns the module's version string, empty until metadata loads.
func (m *Module) Version() string {
	if m.Props == nil {
		return ""
	}
	return m.Props.Version
}

// Repo is the live state of one registered repository: its identity, display
// fields, enabled/force-hidden flags, and the in-memory module table backed
// by a metadata store.
type Repo struct {
	id  string
	url string

	defaultName    string
	defaultWebsite string

	metadata *store.Store
	states   StateStore
	compat   *compat.Registry
	logger   *log.Logger
	clock    func() time.Time
	debug    bool

	// mu serializes reconciliation and guards the module table and display
	// fields. It is never held across a network fetch.
	mu          sync.Mutex
	modules     map[string]*Module
	name        string
	website     string
	support     string
	donate      string
	submitMod   string
	catalogDate int64 // catalog top-level last_update
	lastSync    int64 // wall-clock time of the last successful sync
	enabled     bool  // persisted flag; effective value also requires !forceHidden
	forceHidden bool
}

func newRepo(rawURL string, metadata *store.Store, states StateStore, cr *compat.Registry, logger *log.Logger, clock func() time.Time, debug bool) (*Repo, error) {
	id := IDForURL(rawURL)
	r := &Repo{
		id:          id,
		url:         rawURL,
		defaultName: rawURL,
		metadata:    metadata,
		states:      states,
		compat:      cr,
		logger:      logger,
		clock:       clock,
		debug:       debug,
		modules:     make(map[string]*Module),
	}
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		r.defaultWebsite = "https://" + u.Host + "/"
	}

	r.forceHidden = cr.ShouldForceHide(id)

	st, ok, err := states.Load(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		r.enabled = true
	} else {
		r.enabled = st.Enabled
		r.name = st.Name
		r.website = st.Website
		r.support = st.Support
		r.donate = st.Donate
		r.submitMod = st.SubmitModule
		r.catalogDate = st.CatalogDate
		r.lastSync = st.LastSync
	}
	return r, nil
}

// ID returns the repository's derived id.
func (r *Repo) ID() string {
	return r.id
}

// URL returns the catalog URL the repository was registered with.
func (r *Repo) URL() string {
	return r.url
}

// isNonNull treats empty strings and the literal "null" as unset. Some
// upstream catalogs serialize absent fields as the string "null".
func isNonNull(s string) bool {
	return s != "" && s != "null"
}

// Name returns the repository display name, falling back to the default name
// and then the URL.
func (r *Repo) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if isNonNull(r.name) {
		return r.name
	}
	if r.defaultName != "" {
		return r.defaultName
	}
	return r.url
}

// Website returns the repository website, defaulting to the catalog host.
func (r *Repo) Website() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if isNonNull(r.website) {
		return r.website
	}
	if r.defaultWebsite != "" {
		return r.defaultWebsite
	}
	return r.url
}

// Support returns the repository support URL, empty when unset.
func (r *Repo) Support() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if isNonNull(r.support) {
		return r.support
	}
	return ""
}

// Donate returns the repository donate URL, empty when unset.
func (r *Repo) Donate() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if isNonNull(r.donate) {
		return r.donate
	}
	return ""
}

// SubmitModule returns the module-submission URL, empty when unset.
func (r *Repo) SubmitModule() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if isNonNull(r.submitMod) {
		return r.submitMod
	}
	return ""
}

// LastSync returns the epoch millis of the last successful sync, 0 if never.
func (r *Repo) LastSync() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSync
}

// CatalogDate returns the catalog's own last_update timestamp from the most
// recent successful sync.
func (r *Repo) CatalogDate() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.catalogDate
}

// ForceHidden reports whether the compatibility registry hides this repo.
func (r *Repo) ForceHidden() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forceHidden
}

// Enabled returns the effective enabled state: the persisted user flag and
// not force-hidden.
func (r *Repo) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled && !r.forceHidden
}

// SetEnabled persists the user-controlled enabled flag.
func (r *Repo) SetEnabled(enabled bool) error {
	r.mu.Lock()
	r.enabled = enabled
	st := r.stateLocked()
	r.mu.Unlock()
	return r.states.Save(r.id, st)
}

// UpdateEnabledState recomputes the force-hidden flag from the compatibility
// registry. Call after the registry has been refreshed.
func (r *Repo) UpdateEnabledState() {
	hidden := r.compat.ShouldForceHide(r.id)
	r.mu.Lock()
	r.forceHidden = hidden
	r.mu.Unlock()
}

// stateLocked builds the persisted State snapshot. Caller holds r.mu.
func (r *Repo) stateLocked() State {
	return State{
		URL:          r.url,
		Name:         r.name,
		Website:      r.website,
		Support:      r.support,
		Donate:       r.donate,
		SubmitModule: r.submitMod,
		Enabled:      r.enabled,
		CatalogDate:  r.catalogDate,
		LastSync:     r.lastSync,
	}
}

// Module returns a snapshot of one module record.
func (r *Repo) Module(id string) (Module, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[id]
	if !ok {
		return Module{}, false
	}
	return *m, true
}

// Modules returns an id-sorted snapshot of the module table.
func (r *Repo) Modules() []Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Module, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ReadyModules returns the subset of the table with valid loaded metadata.
func (r *Repo) ReadyModules() []Module {
	all := r.Modules()
	out := all[:0]
	for _, m := range all {
		if m.Ready() {
			out = append(out, m)
		}
	}
	return out
}

const (
	syncWindow      = 30 * time.Minute
	debugSyncWindow = 15 * time.Minute
)

// ShouldSync reports whether the repository is eligible for a re-sync: no
// recorded successful sync, an empty module table, or the freshness window
// elapsed. Evaluated against the wall clock at call time.
func (r *Repo) ShouldSync() bool {
	r.mu.Lock()
	lastSync := r.lastSync
	empty := len(r.modules) == 0
	r.mu.Unlock()

	if lastSync == 0 || empty {
		return true
	}
	window := syncWindow
	if r.debug {
		window = debugSyncWindow
	}
	elapsed := r.clock().UnixMilli() - lastSync
	return elapsed > window.Milliseconds()
}

// TryLoadMetadata loads the module's property file from the metadata store
// and updates the record's metadata-invalid flag. A corrupt file is deleted.
// Returns true when metadata is now valid.
func (r *Repo) TryLoadMetadata(moduleID string) bool {
	block, err := r.metadata.Read(moduleID)
	if err != nil {
		var perr *store.ParseError
		if errors.As(err, &perr) {
			if derr := r.metadata.Delete(moduleID); derr != nil {
				r.logger.Error("deleting corrupt metadata", "repo", r.id, "module", moduleID, "err", derr)
			}
		}
		r.mu.Lock()
		if m, ok := r.modules[moduleID]; ok {
			m.MetadataInvalid = true
		}
		r.mu.Unlock()
		return false
	}

	if block.Version == "" {
		// Some modules ship without a version string.
		block.Version = "v" + strconv.FormatInt(block.VersionCode, 10)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[moduleID]
	if !ok {
		return false
	}
	m.Props = block
	m.MetadataInvalid = false
	return true
}
