package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name        string
		opts        Options
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid options",
			opts: Options{Service: "location", BaseURL: "http://localhost:8080"},
		},
		{
			name:        "missing service name",
			opts:        Options{BaseURL: "http://localhost:8080"},
			expectError: true,
			errorMsg:    "service name is required",
		},
		{
			name:        "missing base URL",
			opts:        Options{Service: "location"},
			expectError: true,
			errorMsg:    "base URL is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.opts)

			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got nil")
				}
				if err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if client == nil {
				t.Fatal("Expected client, got nil")
			}
		})
	}
}

func TestClient_APIKeyHeader(t *testing.T) {
	var gotHeader atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader.Store(r.Header.Get("X-Beluga-Api-Key"))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := NewClient(Options{
		Service:      "inventory",
		BaseURL:      server.URL,
		APIKey:       "secret-key",
		APIKeyHeader: "X-Beluga-Api-Key",
	})
	if err != nil {
		t.Fatal(err)
	}

	var out map[string]any
	if _, err := client.GetJSON(context.Background(), "v1/stock_items/serialized/1", &out); err != nil {
		t.Fatalf("GetJSON() error: %v", err)
	}

	if got := gotHeader.Load(); got != "secret-key" {
		t.Errorf("api key header = %q, want %q", got, "secret-key")
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, `{"message":"flaky"}`, http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client, err := NewClient(Options{
		Service: "runner",
		BaseURL: server.URL,
		Retry:   fastConfig(3),
	})
	if err != nil {
		t.Fatal(err)
	}

	var out struct {
		OK bool `json:"ok"`
	}
	status, err := client.GetJSON(context.Background(), "cheffing/request", &out)
	if err != nil {
		t.Fatalf("GetJSON() error after retries: %v", err)
	}
	if status != http.StatusOK || !out.OK {
		t.Errorf("status = %d, ok = %v", status, out.OK)
	}
	if calls.Load() != 3 {
		t.Errorf("server saw %d calls, want 3", calls.Load())
	}
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"no such product"}`, http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewClient(Options{
		Service: "location",
		BaseURL: server.URL,
		Retry:   fastConfig(3),
	})
	if err != nil {
		t.Fatal(err)
	}

	status, err := client.GetJSON(context.Background(), "lookup/products", nil)
	if err == nil {
		t.Fatal("Expected error for 404")
	}
	if status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
	if calls.Load() != 1 {
		t.Errorf("server saw %d calls, want 1 (no retry on 4xx)", calls.Load())
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.ErrorClass != ErrorClassClient {
		t.Errorf("error class = %q, want client", apiErr.ErrorClass)
	}
	if apiErr.Message != "no such product" {
		t.Errorf("message = %q, want the body's message field", apiErr.Message)
	}
}

func TestClient_PostSendsJSONBody(t *testing.T) {
	var gotContentType atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType.Store(r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewClient(Options{Service: "runner", BaseURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}

	status, err := client.PostJSON(context.Background(), "cheffing/request", map[string]string{"a": "b"}, nil)
	if err != nil {
		t.Fatalf("PostJSON() error: %v", err)
	}
	if status != http.StatusNoContent {
		t.Errorf("status = %d, want 204", status)
	}
	if gotContentType.Load() != "application/json" {
		t.Errorf("content type = %q", gotContentType.Load())
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"message field", `{"message":"not found"}`, "not found"},
		{"error field", `{"error":"bad key"}`, "bad key"},
		{"message wins over error", `{"message":"msg","error":"err"}`, "msg"},
		{"empty body", "", "error in the API service call"},
		{"unshaped body", `oops`, "error in the API service call: oops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorMessage([]byte(tt.body)); got != tt.expected {
				t.Errorf("errorMessage(%q) = %q, want %q", tt.body, got, tt.expected)
			}
		})
	}
}
