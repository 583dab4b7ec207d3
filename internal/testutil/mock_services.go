// Package testutil provides testing utilities for the runner dispatcher.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/warehouse-ops/runner-dispatch/pkg/api"
)

// MockServices is a configurable mock of every downstream collaborator:
// export trigger/download, location lookup, and the runner work queue. One
// server hosts all endpoints so a test can wire every client at the same
// base URL.
type MockServices struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	// Export behavior
	exportCSV     string
	failTrigger   bool
	failDownload  bool
	triggerCalls  int
	downloadCalls int

	// Location behavior: item id -> location code. Ids not present are
	// reported in notFound.
	locations   map[string]string
	failLookup  bool
	lookupCalls int
	lookupIDs   [][]string

	// Runner behavior
	unassigned    map[string]int
	duplicates    map[string]bool
	failCreateFor map[string]bool
	created       []api.RunnerRequest
	refreshCalls  int
	failRefresh   bool
}

// NewMockServices starts the mock server.
func NewMockServices() *MockServices {
	m := &MockServices{
		handlers:      make(map[string]http.HandlerFunc),
		locations:     make(map[string]string),
		unassigned:    make(map[string]int),
		duplicates:    make(map[string]bool),
		failCreateFor: make(map[string]bool),
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		handler, exists := m.handlers[r.URL.Path]
		m.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		m.route(w, r)
	}))

	return m
}

// URL returns the mock server URL.
func (m *MockServices) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockServices) Close() {
	m.server.Close()
}

// SetHandler overrides the handler for a specific path.
func (m *MockServices) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetExportCSV configures the CSV payload served by the download endpoint.
func (m *MockServices) SetExportCSV(csv string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exportCSV = csv
}

// FailTrigger makes the export trigger endpoint return 500.
func (m *MockServices) FailTrigger(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTrigger = fail
}

// FailDownload makes the export download endpoint return 500.
func (m *MockServices) FailDownload(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDownload = fail
}

// SetLocation maps an item id to a location code.
func (m *MockServices) SetLocation(itemID, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[itemID] = code
}

// FailLookup makes the location lookup endpoint return 500.
func (m *MockServices) FailLookup(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLookup = fail
}

// SetUnassigned sets the pending queue depth for a warehouse.
func (m *MockServices) SetUnassigned(warehouse string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unassigned[warehouse] = count
}

// MarkDuplicate makes creations for the item id answer 204 No Content.
func (m *MockServices) MarkDuplicate(itemID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicates[itemID] = true
}

// FailCreateFor makes creations for the item id answer 500.
func (m *MockServices) FailCreateFor(itemID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCreateFor[itemID] = true
}

// FailRefresh makes the location refresh endpoint return 500.
func (m *MockServices) FailRefresh(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRefresh = fail
}

// Created returns the captured creation payloads in call order.
func (m *MockServices) Created() []api.RunnerRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]api.RunnerRequest, len(m.created))
	copy(out, m.created)
	return out
}

// LookupCalls returns the number of location lookups served.
func (m *MockServices) LookupCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookupCalls
}

// LookupIDs returns the id batches received by the lookup endpoint.
func (m *MockServices) LookupIDs() [][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]string, len(m.lookupIDs))
	copy(out, m.lookupIDs)
	return out
}

// TriggerCalls returns the number of export trigger requests.
func (m *MockServices) TriggerCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.triggerCalls
}

// RefreshCalls returns the number of refresh signals received.
func (m *MockServices) RefreshCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refreshCalls
}

func (m *MockServices) route(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/run.orders.php":
		m.handleTrigger(w, r)
	case path == "/orders.csv":
		m.handleDownload(w, r)
	case path == "/lookup/products":
		m.handleLookup(w, r)
	case path == "/cheffing/request":
		m.handleCreate(w, r)
	case path == "/cheffing/location/refresh":
		m.handleRefresh(w, r)
	case strings.HasPrefix(path, "/cheffing/item/warehouse/"):
		m.handleUnassigned(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (m *MockServices) handleTrigger(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	m.triggerCalls++
	fail := m.failTrigger
	m.mu.Unlock()

	if fail {
		http.Error(w, "export backend down", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (m *MockServices) handleDownload(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	m.downloadCalls++
	fail := m.failDownload
	csv := m.exportCSV
	m.mu.Unlock()

	if fail {
		http.Error(w, "file missing", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, csv)
}

func (m *MockServices) handleLookup(w http.ResponseWriter, r *http.Request) {
	var ids []string
	if err := json.NewDecoder(r.Body).Decode(&ids); err != nil {
		http.Error(w, `{"message":"bad request"}`, http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.lookupCalls++
	m.lookupIDs = append(m.lookupIDs, ids)
	fail := m.failLookup
	lookup := api.LocationLookup{NotFound: []string{}, Results: []api.ProductLocation{}}
	for _, id := range ids {
		if code, ok := m.locations[id]; ok {
			lookup.Results = append(lookup.Results, api.ProductLocation{
				Product:      id,
				LocationCode: code,
				Available:    true,
			})
		} else {
			lookup.NotFound = append(lookup.NotFound, id)
		}
	}
	m.mu.Unlock()

	if fail {
		http.Error(w, `{"message":"lookup backend down"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(lookup)
}

func (m *MockServices) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.RunnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"message":"bad request"}`, http.StatusBadRequest)
		return
	}

	itemID := ""
	if len(req.Items) > 0 {
		itemID = req.Items[0].SerializedID
	}

	m.mu.Lock()
	failed := m.failCreateFor[itemID]
	duplicate := m.duplicates[itemID]
	if !failed && !duplicate {
		m.created = append(m.created, req)
	}
	m.mu.Unlock()

	switch {
	case failed:
		http.Error(w, `{"message":"creation rejected"}`, http.StatusInternalServerError)
	case duplicate:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"id":%d}`, len(m.created))
	}
}

func (m *MockServices) handleUnassigned(w http.ResponseWriter, r *http.Request) {
	// Path shape: /cheffing/item/warehouse/{wh}/type/WEB/unassigned
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 4 {
		http.NotFound(w, r)
		return
	}
	warehouse := parts[3]

	m.mu.RLock()
	count := m.unassigned[warehouse]
	m.mu.RUnlock()

	items := make([]api.CheffingItem, count)
	for i := range items {
		items[i] = api.CheffingItem{ID: i + 1, Status: "PENDING", Warehouse: warehouse}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(items)
}

func (m *MockServices) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	m.refreshCalls++
	fail := m.failRefresh
	m.mu.Unlock()

	if fail {
		http.Error(w, `{"message":"refresh failed"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
