package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/telemost/switchboard/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(context.Background(), ClientOpts{
		Config:  config.SheetsConfig{SpreadsheetID: "sheet-1"},
		BaseURL: srv.URL,
		HTTP:    srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestFetchRows(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/sheet-1/values/Reports!A2:C" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"range":  "Reports!A2:C",
			"values": [][]string{{"acme", "open", "5"}},
		})
	})

	rows, err := c.FetchRows(context.Background(), "Reports!A2:C")
	if err != nil {
		t.Fatalf("FetchRows: %v", err)
	}
	if len(rows) != 1 || rows[0][0] != "acme" {
		t.Fatalf("rows = %v", rows)
	}
}

func TestAppendRows(t *testing.T) {
	var got valueRange
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Query().Get("valueInputOption") != "RAW" {
			t.Errorf("valueInputOption missing, url=%s", r.URL)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	})

	err := c.AppendRows(context.Background(), "Reports!A:C", [][]string{{"acme", "fixed", "1"}})
	if err != nil {
		t.Fatalf("AppendRows: %v", err)
	}
	if len(got.Values) != 1 || got.Values[0][1] != "fixed" {
		t.Fatalf("posted values = %v", got.Values)
	}
}

func TestWriteRows_SurfacesAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "permission denied"}`, http.StatusForbidden)
	})

	err := c.WriteRows(context.Background(), "Reports!A1:B1", [][]string{{"a", "b"}})
	if err == nil {
		t.Fatal("expected error on 403")
	}
}

func TestNewClient_RequiresSpreadsheetID(t *testing.T) {
	if _, err := NewClient(context.Background(), ClientOpts{}); err == nil {
		t.Fatal("expected error for missing spreadsheet id")
	}
}
