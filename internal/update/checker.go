// Package update implements the self-update notification check: a 60 second
// rate-limited poll of a release feed, with a deliberately forgiving failure
// mode. A check must never crash or block callers on a flaky network, so
// fetch and parse failures fall back to the last known verdict and are
// surfaced as events instead of errors.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/magisk-mods/repocache/fetch"
)

// PrereleaseSentinel is recorded as the latest known version when the feed's
// newest release is a prerelease. It is never offered to users; the verdict
// for a sentinel version is always "no update".
const PrereleaseSentinel = "99999999"

// rateLimit is the minimum interval between remote checks.
const rateLimit = 60 * time.Second

// CheckEvent describes a swallowed failure inside a check cycle. Stage is
// "fetch" or "parse".
type CheckEvent struct {
	Stage string
	Err   error
	At    time.Time
}

func (e *CheckEvent) Error() string {
	return fmt.Sprintf("update check %s failed: %v", e.Stage, e.Err)
}

func (e *CheckEvent) Unwrap() error {
	return e.Err
}

// Result is one check verdict. Event is non-nil when the remote check failed
// and the verdict is the last known state rather than a fresh one.
type Result struct {
	UpdateAvailable bool
	LatestVersion   string
	// RateLimited is true when the remote was not contacted because the
	// previous check was less than a minute ago.
	RateLimited bool
	Event       *CheckEvent
}

// release is the wire shape of the feed's latest-release object.
type release struct {
	TagName    string `json:"tag_name"`
	Prerelease bool   `json:"prerelease"`
}

// State is the checker's persisted memory between processes.
type State struct {
	LastChecked int64  `toml:"last_checked,omitempty"` // epoch millis
	LatestKnown string `toml:"latest_known,omitempty"`
}

// StateStore persists checker state. Implementations must tolerate a missing
// state (first run) by returning ok=false.
type StateStore interface {
	Load() (State, bool, error)
	Save(State) error
}

// MemoryStateStore is an in-process StateStore.
type MemoryStateStore struct {
	mu sync.Mutex
	st State
	ok bool
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

func (s *MemoryStateStore) Load() (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st, s.ok, nil
}

func (s *MemoryStateStore) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st, s.ok = st, true
	return nil
}

// Checker polls a release feed and reports whether a newer version than the
// running one is available. All calls serialize on one lock; a caller that
// loses the race re-evaluates against whatever state the winner produced,
// which the rate limit turns into a cheap cached answer.
type Checker struct {
	fetcher    fetch.Capability
	states     StateStore
	releaseURL string
	current    string
	logger     *log.Logger
	clock      func() time.Time
	enabled    bool

	mu          sync.Mutex
	lastChecked int64 // epoch millis
	latestKnown string
}

// Option configures a Checker.
type Option func(*Checker)

// WithLogger sets the checker logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Checker) {
		c.logger = logger
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Checker) {
		c.clock = clock
	}
}

// WithEnabled toggles the checker. A disabled checker (debug builds, user
// opted out of update notifications) never contacts the remote and always
// reports no update.
func WithEnabled(enabled bool) Option {
	return func(c *Checker) {
		c.enabled = enabled
	}
}

// NewChecker creates a checker for the release feed at releaseURL, comparing
// against currentVersion.
func NewChecker(fetcher fetch.Capability, states StateStore, releaseURL, currentVersion string, opts ...Option) (*Checker, error) {
	c := &Checker{
		fetcher:    fetcher,
		states:     states,
		releaseURL: releaseURL,
		current:    currentVersion,
		clock:      time.Now,
		enabled:    true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "update"})
	}

	st, ok, err := states.Load()
	if err != nil {
		return nil, fmt.Errorf("loading checker state: %w", err)
	}
	if ok {
		c.lastChecked = st.LastChecked
		c.latestKnown = st.LatestKnown
	}
	return c, nil
}

// Check reports whether a newer version is available. Unless force is set, a
// check within a minute of the previous one returns the known verdict
// without a remote call. Remote failures never fail the call; the verdict
// falls back to the last known state and Result.Event carries the cause.
func (c *Checker) Check(ctx context.Context, force bool) Result {
	if !c.enabled {
		return Result{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	if !force && c.lastChecked != 0 && now.UnixMilli()-c.lastChecked < rateLimit.Milliseconds() {
		return Result{
			UpdateAvailable: c.verdictLocked(),
			LatestVersion:   c.latestKnown,
			RateLimited:     true,
		}
	}

	raw, err := c.fetcher.Fetch(ctx, c.releaseURL, true)
	if err != nil {
		ev := &CheckEvent{Stage: "fetch", Err: err, At: now}
		c.logger.Warn("update check failed, keeping last known verdict", "err", err)
		return Result{UpdateAvailable: c.verdictLocked(), LatestVersion: c.latestKnown, Event: ev}
	}

	var rel release
	if err := json.Unmarshal(raw, &rel); err != nil {
		ev := &CheckEvent{Stage: "parse", Err: err, At: now}
		c.logger.Warn("release feed unparsable, keeping last known verdict", "err", err)
		return Result{UpdateAvailable: c.verdictLocked(), LatestVersion: c.latestKnown, Event: ev}
	}

	latest := rel.TagName
	if rel.Prerelease {
		latest = PrereleaseSentinel
	}
	c.latestKnown = latest
	c.lastChecked = now.UnixMilli()
	if err := c.states.Save(State{LastChecked: c.lastChecked, LatestKnown: c.latestKnown}); err != nil {
		c.logger.Warn("persisting checker state failed", "err", err)
	}

	return Result{UpdateAvailable: c.verdictLocked(), LatestVersion: c.latestKnown}
}

// LatestKnown returns the last version the checker recorded.
func (c *Checker) LatestKnown() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latestKnown
}

func (c *Checker) verdictLocked() bool {
	if c.latestKnown == "" || c.latestKnown == PrereleaseSentinel {
		return false
	}
	return versionNumber(c.latestKnown) > versionNumber(c.current)
}

// versionNumber strips every non-digit character and parses the remainder as
// an integer, so "v1.2.3", "1.2.3" and "1.2.3-rc1" all collapse to 123 and
// 1231 style values for a crude but stable ordering.
func versionNumber(v string) int64 {
	digits := make([]byte, 0, len(v))
	for i := 0; i < len(v); i++ {
		if v[i] >= '0' && v[i] <= '9' {
			digits = append(digits, v[i])
		}
	}
	if len(digits) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
