package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewExportClient_Validation(t *testing.T) {
	if _, err := NewExportClient("", "http://x/orders.csv"); err == nil {
		t.Error("empty trigger URL must be rejected")
	}
	if _, err := NewExportClient("http://x/run.orders.php", ""); err == nil {
		t.Error("empty download URL must be rejected")
	}
}

func TestExportClient_RequestCreation(t *testing.T) {
	var gotAfter string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAfter = r.URL.Query().Get("after")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewExportClient(server.URL+"/run.orders.php", server.URL+"/orders.csv")
	if err != nil {
		t.Fatal(err)
	}

	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if err := client.RequestCreation(context.Background(), since); err != nil {
		t.Fatalf("RequestCreation() error: %v", err)
	}

	// 2026-08-01T00:00:00Z as a unix timestamp.
	if want := "1785542400"; gotAfter != want {
		t.Errorf("after = %q, want %q", gotAfter, want)
	}
}

func TestExportClient_RequestCreationFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "export generation failed", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, _ := NewExportClient(server.URL+"/run.orders.php", server.URL+"/orders.csv")
	if err := client.RequestCreation(context.Background(), time.Now()); err == nil {
		t.Fatal("non-2xx trigger must be an error")
	}
}

func TestExportClient_Download(t *testing.T) {
	const payload = "OrderID,InvoiceID,CreatedAt,ShippingMethod,SerializedID\n"
	var cacheBuster string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cacheBuster = r.URL.Query().Get("_")
		w.Write([]byte(payload))
	}))
	defer server.Close()

	client, _ := NewExportClient(server.URL+"/run.orders.php", server.URL+"/orders.csv")
	data, err := client.Download(context.Background())
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if string(data) != payload {
		t.Errorf("payload = %q", data)
	}
	if cacheBuster == "" {
		t.Error("download must carry a cache-busting query parameter")
	}
}

func TestExportClient_DownloadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "file missing", http.StatusNotFound)
	}))
	defer server.Close()

	client, _ := NewExportClient(server.URL+"/run.orders.php", server.URL+"/orders.csv")
	if _, err := client.Download(context.Background()); err == nil {
		t.Fatal("non-2xx download must be an error")
	}
}
