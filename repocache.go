// Package repocache synchronizes Magisk module repository catalogs into a
// local file-backed metadata cache.
//
// An Engine owns a set of repositories. Each sync cycle fetches a repo's
// catalog JSON, reconciles it against the in-memory module table and the
// per-module metadata files on disk, and reports which modules appeared,
// advanced or vanished. A compatibility flag registry gates which
// repositories and modules are surfaced at all.
//
// Basic usage:
//
//	fetcher := repocache.NewFetcher()
//	states, err := repocache.NewFileStateStore("/data/repocache/repos.toml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	engine := repocache.NewEngine(fetcher, states, repocache.NewCompatRegistry(), "/data/repocache")
//
//	repo, err := engine.AddRepo("https://raw.githubusercontent.com/Magisk-Modules-Alt-Repo/json/main/modules.json")
//	if err != nil {
//		log.Fatal(err)
//	}
//	res, err := engine.Sync(context.Background(), repo.ID(), false)
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, m := range res.Changed {
//		fmt.Println(m.ID, m.Version())
//	}
//
// Wrap the fetcher in NewCircuitBreakerFetcher to stop hammering a repo host
// that keeps failing.
package repocache

import (
	"fmt"

	"github.com/git-pkgs/purl"

	"github.com/magisk-mods/repocache/fetch"
	"github.com/magisk-mods/repocache/internal/catalog"
	"github.com/magisk-mods/repocache/internal/compat"
	"github.com/magisk-mods/repocache/internal/props"
	"github.com/magisk-mods/repocache/internal/repo"
	"github.com/magisk-mods/repocache/internal/store"
	"github.com/magisk-mods/repocache/internal/update"
)

// Re-export types from internal/repo
type (
	// Engine orchestrates repository sync cycles.
	Engine = repo.Engine

	// Repo is the live state of one registered repository.
	Repo = repo.Repo

	// Module is an immutable snapshot of one cached module record.
	Module = repo.Module

	// SyncResult reports one sync cycle's changed, removed and skipped
	// modules.
	SyncResult = repo.SyncResult

	// RepoState is the persisted per-repository state record.
	RepoState = repo.State

	// RepoStateStore persists per-repository state between processes.
	RepoStateStore = repo.StateStore

	// EngineOption configures an Engine.
	EngineOption = repo.EngineOption
)

// Re-export types from internal/catalog
type (
	// Catalog is a parsed and normalized repository catalog.
	Catalog = catalog.Catalog

	// CatalogModule is one normalized catalog entry.
	CatalogModule = catalog.Module

	// QualityKind names the metric a module's quality value came from.
	QualityKind = catalog.QualityKind

	// MalformedCatalogError reports which required catalog field was
	// missing or unusable.
	MalformedCatalogError = catalog.MalformedCatalogError
)

// Re-export types from internal/compat
type (
	// CompatRegistry holds the module/repo compatibility flag table.
	CompatRegistry = compat.Registry

	// Flag is a bit set of compatibility markers for one id.
	Flag = compat.Flag
)

// Re-export types from internal/props and internal/store
type (
	// PropertyBlock is a module's parsed key=value metadata.
	PropertyBlock = props.Block

	// MetadataStore is the file-backed per-module metadata store.
	MetadataStore = store.Store

	// MetadataParseError reports stored metadata that could not be parsed.
	MetadataParseError = store.ParseError

	// InvariantViolationError reports a stale metadata file that could not
	// be deleted during eviction.
	InvariantViolationError = store.InvariantViolationError
)

// Re-export types from internal/update
type (
	// UpdateChecker polls a release feed for self-update notification.
	UpdateChecker = update.Checker

	// UpdateResult is one update-check verdict.
	UpdateResult = update.Result

	// UpdateCheckEvent describes a swallowed failure inside a check cycle.
	UpdateCheckEvent = update.CheckEvent
)

// Re-export types from fetch
type (
	// Fetcher retrieves URLs with retries, caching and DNS caching.
	Fetcher = fetch.Fetcher

	// FetchCapability is the abstract fetch(url) -> bytes dependency the
	// engine consumes.
	FetchCapability = fetch.Capability

	// CircuitBreakerFetcher wraps a fetcher with per-host circuit breakers.
	CircuitBreakerFetcher = fetch.CircuitBreakerFetcher
)

// Re-export compatibility flag bits
const (
	FlagLowQuality    = compat.LowQuality
	FlagNoExtension   = compat.NoExtension
	FlagMagiskCommand = compat.MagiskCommand
	FlagNeed32Bit     = compat.Need32Bit
	FlagMalware       = compat.Malware
	FlagNoANSI        = compat.NoANSI
	FlagForceANSI     = compat.ForceANSI
	FlagForceHide     = compat.ForceHide
	FlagLegacyWrapper = compat.LegacyWrapper
	FlagZipWrapper    = compat.ZipWrapper
)

// Re-export quality kinds
const (
	QualityNone      = catalog.QualityNone
	QualityStars     = catalog.QualityStars
	QualityDownloads = catalog.QualityDownloads
)

// ReservedModuleID is a module id the catalogs use internally and never
// surface as an installable module.
const ReservedModuleID = catalog.ReservedID

// PrereleaseSentinel is the version recorded when the newest release is a
// prerelease; it is never offered as an update.
const PrereleaseSentinel = update.PrereleaseSentinel

// Re-export errors
var (
	ErrMalformedCatalog = catalog.ErrMalformedCatalog
	ErrMetadataNotFound = store.ErrNotFound
	ErrUnknownRepo      = repo.ErrUnknownRepo
	ErrFetchNotFound    = fetch.ErrNotFound
	ErrRateLimited      = fetch.ErrRateLimited
	ErrUpstreamDown     = fetch.ErrUpstreamDown
)

// NewEngine creates a sync engine. cacheDir is the root under which each
// repository gets its own metadata cache directory.
func NewEngine(fetcher FetchCapability, states RepoStateStore, cr *CompatRegistry, cacheDir string, opts ...EngineOption) *Engine {
	return repo.NewEngine(fetcher, states, cr, cacheDir, opts...)
}

// WithLogger sets the engine logger.
var WithLogger = repo.WithLogger

// WithDebug switches the engine to diagnostic mode: shorter freshness window,
// force-hide disabled.
var WithDebug = repo.WithDebug

// NewFetcher returns a fetcher with sensible defaults: 30s timeout, DNS
// caching, retries with exponential backoff on 429 and 5xx.
func NewFetcher(opts ...fetch.Option) *Fetcher {
	return fetch.NewFetcher(opts...)
}

// WithMaxRetries sets the maximum retry attempts.
var WithMaxRetries = fetch.WithMaxRetries

// NewCircuitBreakerFetcher wraps a fetcher with per-host circuit breakers so
// a persistently failing repo host is skipped instead of retried.
func NewCircuitBreakerFetcher(inner FetchCapability) *CircuitBreakerFetcher {
	return fetch.NewCircuitBreakerFetcher(inner)
}

// NewCompatRegistry creates an empty compatibility flag registry.
func NewCompatRegistry(opts ...compat.Option) *CompatRegistry {
	return compat.NewRegistry(opts...)
}

// NewFileStateStore opens (or creates) the TOML file persisting per-repo
// state.
func NewFileStateStore(path string) (*repo.FileStateStore, error) {
	return repo.NewFileStateStore(path)
}

// NewUpdateChecker creates a self-update checker polling releaseURL and
// comparing against currentVersion. statePath persists the rate-limit and
// last-known-version state between processes.
func NewUpdateChecker(fetcher FetchCapability, statePath, releaseURL, currentVersion string, opts ...update.Option) (*UpdateChecker, error) {
	return update.NewChecker(fetcher, update.NewFileStateStore(statePath), releaseURL, currentVersion, opts...)
}

// RepoIDForURL derives the deterministic repository id for a catalog URL.
// Well-known catalogs map to stable builtin ids; anything else gets a
// "repo_"-prefixed hash id.
func RepoIDForURL(rawURL string) string {
	return repo.IDForURL(rawURL)
}

// ValidModuleID reports whether id is an acceptable, non-reserved module id.
func ValidModuleID(id string) bool {
	return catalog.ValidModuleID(id)
}

// PURL represents a parsed Package URL.
type PURL = purl.PURL

// ParsePURL parses a Package URL string into its components.
func ParsePURL(purlStr string) (*PURL, error) {
	return purl.Parse(purlStr)
}

// ArtifactInfo describes a module's downloadable archive.
type ArtifactInfo = fetch.ArtifactInfo

// ModuleArtifact resolves a cached module's download URL, filename and
// integrity string for handoff to an installer.
func ModuleArtifact(m Module) (*ArtifactInfo, error) {
	return fetch.ResolveArtifact(m.ZipURL, m.Checksum)
}

// ModulePURL returns the Package URL identifying a cached module, e.g.
// pkg:magisk/busybox-ndk@1.34.1. The version component is omitted when the
// module's metadata has not been loaded yet.
func ModulePURL(m Module) string {
	v := m.Version()
	if v == "" {
		return fmt.Sprintf("pkg:magisk/%s", m.ID)
	}
	return fmt.Sprintf("pkg:magisk/%s@%s", m.ID, v)
}
