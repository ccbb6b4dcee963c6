// Package testutil provides testing utilities for the bulkops engine.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kartenwerk/bulkops/pkg/store"
)

// MockStore is a configurable in-memory mock of the card API for testing.
// It implements the list/delete/update wire contract the store client
// speaks, with optimistic-concurrency version checks, per-id failure
// injection and call recording.
type MockStore struct {
	server *httptest.Server

	mu       sync.RWMutex
	entities map[string]store.Entity
	order    []string

	deleteCalls  []string
	updateCalls  []string
	listCalls    int
	failDelete   map[string]int // id -> forced status
	failListPage map[int]int    // page -> forced status
	latency      time.Duration
	rateRemain   int
}

// NewMockStore creates a started mock card API server.
func NewMockStore() *MockStore {
	m := &MockStore{
		entities:     make(map[string]store.Entity),
		failDelete:   make(map[string]int),
		failListPage: make(map[int]int),
		rateRemain:   100,
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handler))
	return m
}

// URL returns the mock server URL.
func (m *MockStore) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockStore) Close() {
	m.server.Close()
}

// Seed replaces the stored entities.
func (m *MockStore) Seed(entities []store.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities = make(map[string]store.Entity, len(entities))
	m.order = m.order[:0]
	for _, e := range entities {
		m.entities[e.ID] = e
		m.order = append(m.order, e.ID)
	}
}

// SeedN seeds n entities with ids "card-0001".. in deckID at version 1 and
// returns them in order.
func (m *MockStore) SeedN(n int, deckID string) []store.Entity {
	entities := make([]store.Entity, 0, n)
	for i := 1; i <= n; i++ {
		entities = append(entities, store.Entity{
			ID:      "card-" + pad4(i),
			Version: 1,
			DeckID:  deckID,
		})
	}
	m.Seed(entities)
	return entities
}

// FailDelete forces deletes of id to answer with status.
func (m *MockStore) FailDelete(id string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDelete[id] = status
}

// FailListPage forces list requests for page to answer with status.
func (m *MockStore) FailListPage(page, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failListPage[page] = status
}

// SetLatency delays every response.
func (m *MockStore) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// SetRateRemain sets the budget reported in rate limit headers.
func (m *MockStore) SetRateRemain(remain int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateRemain = remain
}

// DeleteCalls returns the ids of all recorded delete requests, in arrival order.
func (m *MockStore) DeleteCalls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	calls := make([]string, len(m.deleteCalls))
	copy(calls, m.deleteCalls)
	return calls
}

// UpdateCalls returns the ids of all recorded update requests.
func (m *MockStore) UpdateCalls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	calls := make([]string, len(m.updateCalls))
	copy(calls, m.updateCalls)
	return calls
}

// ListCalls returns the number of list requests served.
func (m *MockStore) ListCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listCalls
}

// Entity returns the current state of one entity.
func (m *MockStore) Entity(id string) (store.Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	return e, ok
}

// Len returns the number of stored entities.
func (m *MockStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entities)
}

func (m *MockStore) handler(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	latency := m.latency
	remain := m.rateRemain
	m.mu.RUnlock()

	if latency > 0 {
		time.Sleep(latency)
	}

	w.Header().Set("X-RateLimit-Remain", strconv.Itoa(remain))
	w.Header().Set("X-RateLimit-Reset", "60")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v1/cards":
		m.handleList(w, r)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v1/cards/"):
		m.handleDelete(w, r)
	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/v1/cards/"):
		m.handleUpdate(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (m *MockStore) handleList(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize < 1 {
		pageSize = 100
	}
	deck := r.URL.Query().Get("deck")

	m.mu.Lock()
	m.listCalls++
	if status, ok := m.failListPage[page]; ok {
		m.mu.Unlock()
		w.WriteHeader(status)
		return
	}

	matching := make([]store.Entity, 0, len(m.order))
	for _, id := range m.order {
		e := m.entities[id]
		if deck != "" && e.DeckID != deck {
			continue
		}
		matching = append(matching, e)
	}
	m.mu.Unlock()

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(matching) {
		start = len(matching)
	}
	if end > len(matching) {
		end = len(matching)
	}

	w.Header().Set("Expires", time.Now().Add(1*time.Minute).Format(http.TimeFormat))
	_ = json.NewEncoder(w).Encode(store.Page{
		Items: matching[start:end],
		Total: len(matching),
	})
}

func (m *MockStore) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/cards/")
	version, _ := strconv.Atoi(r.Header.Get("If-Match"))

	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteCalls = append(m.deleteCalls, id)

	if status, ok := m.failDelete[id]; ok {
		w.WriteHeader(status)
		return
	}

	e, ok := m.entities[id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if e.Version != version {
		w.WriteHeader(http.StatusConflict)
		return
	}

	delete(m.entities, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *MockStore) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/cards/")
	version, _ := strconv.Atoi(r.Header.Get("If-Match"))

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.updateCalls = append(m.updateCalls, id)

	e, ok := m.entities[id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if e.Version != version {
		w.WriteHeader(http.StatusConflict)
		return
	}

	if deck, ok := patch["deckId"].(string); ok {
		e.DeckID = deck
	}
	e.Version++
	m.entities[id] = e

	_ = json.NewEncoder(w).Encode(e)
}

func pad4(n int) string {
	s := strconv.Itoa(n)
	for len(s) < 4 {
		s = "0" + s
	}
	return s
}
