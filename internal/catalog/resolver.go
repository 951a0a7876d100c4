package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashureev/patchbot/internal/domain"
)

// DefaultCacheTTL is how long a fetched codename universe is trusted.
const DefaultCacheTTL = 30 * time.Minute

// Source is the subset of the catalog client the resolver needs.
type Source interface {
	Codenames(ctx context.Context) (Codenames, error)
	Devices(ctx context.Context) ([]domain.Device, error)
	Software(ctx context.Context, codename string) (domain.Software, error)
}

// Resolution is the outcome of validating one codename.
type Resolution struct {
	Valid       bool
	Codename    string
	DeviceName  string
	Suggestions []string
}

type snapshot struct {
	codenames map[string]struct{}
	sorted    []string
	names     map[string]string
	fetchedAt time.Time
}

// Resolver validates codenames against a cached copy of the catalog.
type Resolver struct {
	src    Source
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	snap  *snapshot
}

// NewResolver creates a resolver over src.
func NewResolver(src Source, ttl time.Duration, logger *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		src:    src,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With("component", "catalog"),
	}
}

// Normalize trims and lower-cases user input.
func Normalize(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}

// Resolve checks input against the codename universe. A miss carries up to
// MaxSuggestions alternatives. The error is only set when the catalog could
// not be reached and nothing is cached.
func (r *Resolver) Resolve(ctx context.Context, input string) (Resolution, error) {
	codename := Normalize(input)
	snap, err := r.snapshot(ctx)
	if err != nil {
		return Resolution{}, err
	}
	if _, ok := snap.codenames[codename]; ok && codename != "" {
		return Resolution{Valid: true, Codename: codename, DeviceName: snap.names[codename]}, nil
	}
	return Resolution{Codename: codename, Suggestions: rank(codename, snap.sorted, snap.names)}, nil
}

// Software fetches the published builds for a validated codename. When the
// catalog no longer knows a codename the cache still lists, the cache is
// dropped so the next lookup sees the current universe.
func (r *Resolver) Software(ctx context.Context, codename string) (domain.Software, error) {
	sw, err := r.src.Software(ctx, codename)
	if errors.Is(err, ErrUnknownCodename) && r.cached(codename) {
		r.logger.Info("Codename vanished from catalog, dropping cache", "codename", codename)
		r.Invalidate()
	}
	return sw, err
}

func (r *Resolver) cached(codename string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.snap == nil {
		return false
	}
	_, ok := r.snap.codenames[codename]
	return ok
}

// Invalidate drops the cached universe.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.snap = nil
	r.mu.Unlock()
}

func (r *Resolver) snapshot(ctx context.Context) (*snapshot, error) {
	r.mu.RLock()
	snap := r.snap
	r.mu.RUnlock()
	if r.fresh(snap) {
		return snap, nil
	}

	v, err, _ := r.group.Do("universe", func() (any, error) {
		r.mu.RLock()
		current := r.snap
		r.mu.RUnlock()
		if r.fresh(current) {
			return current, nil
		}
		return r.refresh(ctx)
	})
	if err != nil {
		if snap != nil {
			r.logger.Warn("Catalog refresh failed, using stale codenames", "error", err, "age", r.now().Sub(snap.fetchedAt))
			return snap, nil
		}
		return nil, err
	}
	return v.(*snapshot), nil
}

func (r *Resolver) fresh(snap *snapshot) bool {
	return snap != nil && r.now().Sub(snap.fetchedAt) < r.ttl
}

func (r *Resolver) refresh(ctx context.Context) (*snapshot, error) {
	lists, err := r.src.Codenames(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch codenames: %w", err)
	}
	devices, err := r.src.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch devices: %w", err)
	}

	snap := &snapshot{
		codenames: make(map[string]struct{}),
		names:     make(map[string]string, len(devices)),
		fetchedAt: r.now(),
	}
	add := func(codename string) {
		codename = Normalize(codename)
		if codename == "" {
			return
		}
		if _, ok := snap.codenames[codename]; !ok {
			snap.codenames[codename] = struct{}{}
			snap.sorted = append(snap.sorted, codename)
		}
	}
	for _, list := range [][]string{lists.Firmware, lists.Miui, lists.Vendor} {
		for _, c := range list {
			add(c)
		}
	}
	for _, d := range devices {
		add(d.Codename)
		snap.names[Normalize(d.Codename)] = d.Name
	}
	sort.Strings(snap.sorted)

	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()

	r.logger.Info("Catalog codenames refreshed", "codenames", len(snap.sorted), "devices", len(devices))
	return snap, nil
}
