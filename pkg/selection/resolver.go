// Package selection turns a user's selection intent into a concrete, capped,
// ordered list of entity snapshots. Explicit id selections resolve against
// snapshots the UI has already loaded; all-matching-filter selections fetch
// pages until exhausted or capped.
package selection

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kartenwerk/bulkops/pkg/store"
)

// ErrResolution indicates a page fetch failed while materializing an
// all-matching selection. Resolution is all-or-nothing: no partial selection
// is ever returned, because a mutation must start from a consistent snapshot.
var ErrResolution = errors.New("selection resolution failed")

// Defaults for resolver tunables.
const (
	// DefaultCap bounds how many entities an all-matching selection will
	// materialize before truncating.
	DefaultCap = 10000

	// DefaultPageSize is the page size used while materializing.
	DefaultPageSize = 1000

	// DefaultSnapshotCacheSize bounds the loaded-snapshot cache backing
	// explicit id selections.
	DefaultSnapshotCacheSize = 4096
)

// Selection is the user's selection intent.
type Selection struct {
	// AllMatching selects every entity matching the active filter, resolved
	// lazily against the server.
	AllMatching bool

	// IDs is the explicit id set when AllMatching is false. Ids no longer
	// present in the loaded dataset are silently dropped.
	IDs []string
}

// Resolved is a materialized selection.
type Resolved struct {
	// Items are the entity snapshots, in server page order (all-matching) or
	// input id order (explicit).
	Items []store.Entity

	// Truncated is true when the safety cap cut the result short. Callers
	// must warn the user rather than silently mutate a subset.
	Truncated bool
}

// Lister is the slice of the store client the resolver needs.
type Lister interface {
	List(ctx context.Context, filter store.FilterParams, page, pageSize int) (store.Page, error)
}

// Config holds resolver tunables.
type Config struct {
	Cap               int
	PageSize          int
	SnapshotCacheSize int
}

// DefaultConfig returns safe resolver defaults.
func DefaultConfig() Config {
	return Config{
		Cap:               DefaultCap,
		PageSize:          DefaultPageSize,
		SnapshotCacheSize: DefaultSnapshotCacheSize,
	}
}

// Resolver materializes selections.
type Resolver struct {
	store  Lister
	config Config
	loaded *lru.Cache[string, store.Entity]
	logger zerolog.Logger
}

// NewResolver creates a resolver over the given store client.
func NewResolver(lister Lister, cfg Config) (*Resolver, error) {
	if lister == nil {
		return nil, fmt.Errorf("lister is required")
	}
	if cfg.Cap < 1 {
		cfg.Cap = DefaultCap
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.SnapshotCacheSize < 1 {
		cfg.SnapshotCacheSize = DefaultSnapshotCacheSize
	}

	loaded, err := lru.New[string, store.Entity](cfg.SnapshotCacheSize)
	if err != nil {
		return nil, fmt.Errorf("snapshot cache: %w", err)
	}

	return &Resolver{
		store:  lister,
		config: cfg,
		loaded: loaded,
		logger: log.With().Str("component", "selection-resolver").Logger(),
	}, nil
}

// ObservePage records entity snapshots the UI has loaded, making them
// available to explicit id selections without a network call.
func (r *Resolver) ObservePage(entities []store.Entity) {
	for _, entity := range entities {
		r.loaded.Add(entity.ID, entity)
	}
}

// Forget drops an entity from the loaded-snapshot cache, e.g. after its
// deletion committed.
func (r *Resolver) Forget(id string) {
	r.loaded.Remove(id)
}

// Resolve materializes sel against filter. Explicit selections never touch
// the network. All-matching selections fetch fixed-size pages until every
// match is held or the cap is reached; any page failure aborts the whole
// resolve with ErrResolution. Resolve has no side effects beyond reads and
// is safely retryable.
func (r *Resolver) Resolve(ctx context.Context, sel Selection, filter store.FilterParams) (Resolved, error) {
	if !sel.AllMatching {
		return r.resolveExplicit(sel.IDs), nil
	}
	return r.resolveAllMatching(ctx, filter)
}

func (r *Resolver) resolveExplicit(ids []string) Resolved {
	items := make([]store.Entity, 0, len(ids))
	for _, id := range ids {
		if entity, ok := r.loaded.Get(id); ok {
			items = append(items, entity)
		}
	}

	if len(items) < len(ids) {
		r.logger.Debug().
			Int("requested", len(ids)).
			Int("resolved", len(items)).
			Msg("Some selected ids are no longer in the loaded dataset")
	}

	return Resolved{Items: items}
}

func (r *Resolver) resolveAllMatching(ctx context.Context, filter store.FilterParams) (Resolved, error) {
	items := make([]store.Entity, 0, r.config.PageSize)
	truncated := false

	for page := 1; ; page++ {
		result, err := r.store.List(ctx, filter, page, r.config.PageSize)
		if err != nil {
			// Discard everything fetched so far: all-or-nothing.
			return Resolved{}, fmt.Errorf("%w: page %d: %v", ErrResolution, page, err)
		}

		remaining := r.config.Cap - len(items)
		if len(result.Items) > remaining {
			items = append(items, result.Items[:remaining]...)
			truncated = true
			r.logger.Warn().
				Int("cap", r.config.Cap).
				Int("total", result.Total).
				Msg("Selection truncated at safety cap")
			break
		}

		items = append(items, result.Items...)

		if len(items) >= result.Total || len(result.Items) == 0 {
			break
		}
		if len(items) >= r.config.Cap {
			truncated = result.Total > r.config.Cap
			if truncated {
				r.logger.Warn().
					Int("cap", r.config.Cap).
					Int("total", result.Total).
					Msg("Selection truncated at safety cap")
			}
			break
		}

		r.logger.Debug().
			Int("page", page).
			Int("accumulated", len(items)).
			Int("total", result.Total).
			Msg("Resolved selection page")
	}

	r.ObservePage(items)

	return Resolved{Items: items, Truncated: truncated}, nil
}
