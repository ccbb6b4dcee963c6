package store

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Entity is a card record as returned by the card API. The engine treats the
// payload as opaque; only ID and Version participate in mutation calls.
type Entity struct {
	ID      string          `json:"id"`
	Version int             `json:"version"`
	DeckID  string          `json:"deckId,omitempty"`
	Fields  json.RawMessage `json:"fields,omitempty"`
}

// FilterParams narrows list queries. Zero value matches everything.
type FilterParams struct {
	// DeckID restricts results to a single deck.
	DeckID string

	// Query is a free-text search expression.
	Query string

	// Tags restricts results to entities carrying all listed tags.
	Tags []string
}

// Values encodes the filter as query parameters.
func (f FilterParams) Values() url.Values {
	v := url.Values{}
	if f.DeckID != "" {
		v.Set("deck", f.DeckID)
	}
	if f.Query != "" {
		v.Set("q", f.Query)
	}
	if len(f.Tags) > 0 {
		v.Set("tags", strings.Join(f.Tags, ","))
	}
	return v
}

// Key returns a deterministic string form of the filter for cache keys.
func (f FilterParams) Key() string {
	return f.Values().Encode()
}

// Page is one page of list results together with the server-reported total
// number of matches for the filter (not just this page).
type Page struct {
	Items []Entity `json:"items"`
	Total int      `json:"total"`
}

// MutationStatus discriminates the outcome of a single mutation call.
type MutationStatus string

const (
	// StatusOK means the mutation was applied.
	StatusOK MutationStatus = "ok"

	// StatusVersionConflict means the expected version did not match the
	// server's current version (concurrent modification).
	StatusVersionConflict MutationStatus = "version_conflict"

	// StatusNotFound means the entity does not exist on the server.
	StatusNotFound MutationStatus = "not_found"

	// StatusTransport covers network failures and server-side errors after
	// retries are exhausted.
	StatusTransport MutationStatus = "transport"
)

// MutationResult is the discriminated result of a delete or update call.
// Callers branch on Status and never inspect HTTP responses.
type MutationResult struct {
	Status MutationStatus
	Err    error
}

// OK reports whether the mutation was applied.
func (r MutationResult) OK() bool {
	return r.Status == StatusOK
}

// AsError returns nil for an applied mutation and a descriptive error for
// every failure variant, suitable for per-item failure accounting.
func (r MutationResult) AsError() error {
	if r.Status == StatusOK {
		return nil
	}
	if r.Err != nil {
		return fmt.Errorf("%s: %w", r.Status, r.Err)
	}
	return fmt.Errorf("mutation failed: %s", r.Status)
}

func formatVersion(version int) string {
	return strconv.Itoa(version)
}
