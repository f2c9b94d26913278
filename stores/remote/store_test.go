package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"boardsync/core"
)

func boardResponse(t *testing.T, w http.ResponseWriter, projectID string, snapshot string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{
		"projectId": projectID,
		"snapshot":  json.RawMessage(snapshot),
		"createdAt": time.Now().UTC(),
		"updatedAt": time.Now().UTC(),
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Fatalf("encoding response failed: %v", err)
	}
}

func TestGetOrCreate_Success(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.Method != http.MethodGet {
			t.Errorf("method mismatch: got %s, want GET", r.Method)
		}
		if r.URL.Path != "/api/v1/projects/proj-1/board" {
			t.Errorf("path mismatch: got %s", r.URL.Path)
		}
		boardResponse(t, w, "proj-1", `{"elements":[{"id":"r1","version":1}]}`)
	}))
	defer server.Close()

	store := NewStore(server.URL, "token-123")
	record, err := store.GetOrCreate(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("GetOrCreate() failed: %v", err)
	}
	if gotAuth != "Bearer token-123" {
		t.Errorf("authorization header mismatch: got %q", gotAuth)
	}
	if len(record.Snapshot.Elements) != 1 || record.Snapshot.Elements[0].ID != "r1" {
		t.Errorf("snapshot mismatch: %+v", record.Snapshot)
	}
	if record.Recovered {
		t.Error("well-formed snapshot flagged as recovered")
	}
}

func TestSave_SendsSnapshot(t *testing.T) {
	var received saveRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method mismatch: got %s, want PUT", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decoding request failed: %v", err)
		}
		boardResponse(t, w, "proj-1", `{"elements":[{"id":"r1","version":2}]}`)
	}))
	defer server.Close()

	store := NewStore(server.URL, "token-123")
	record, err := store.Save(context.Background(), "proj-1", core.Snapshot{
		Elements: []core.Element{{ID: "r1", Version: 2}},
	})
	if err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if len(received.Snapshot.Elements) != 1 || received.Snapshot.Elements[0].Version != 2 {
		t.Errorf("request snapshot mismatch: %+v", received.Snapshot)
	}
	if record.Snapshot.Elements[0].Version != 2 {
		t.Errorf("response snapshot mismatch: %+v", record.Snapshot)
	}
}

func TestErrorMapping(t *testing.T) {
	testCases := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"forbidden maps to access denied", http.StatusForbidden, core.ErrAccessDenied},
		{"unauthorized maps to access denied", http.StatusUnauthorized, core.ErrAccessDenied},
		{"not found maps to not found", http.StatusNotFound, core.ErrNotFound},
		{"server error maps to store unavailable", http.StatusInternalServerError, core.ErrStoreUnavailable},
		{"bad gateway maps to store unavailable", http.StatusBadGateway, core.ErrStoreUnavailable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer server.Close()

			store := NewStore(server.URL, "token-123")
			_, err := store.GetOrCreate(context.Background(), "proj-1")
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("error mismatch: got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestTransportFailure_MapsToStoreUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	store := NewStore(server.URL, "token-123")
	_, err := store.GetOrCreate(context.Background(), "proj-1")
	if !errors.Is(err, core.ErrStoreUnavailable) {
		t.Errorf("error mismatch: got %v, want ErrStoreUnavailable", err)
	}
}

func TestGetOrCreate_LegacySnapshotLoadsAsRecoveredBlank(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		boardResponse(t, w, "proj-1", `{"shapes":[{"kind":"arrow"}]}`)
	}))
	defer server.Close()

	store := NewStore(server.URL, "token-123")
	record, err := store.GetOrCreate(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("GetOrCreate() failed: %v", err)
	}
	if !record.Recovered {
		t.Error("legacy payload should be flagged as recovered")
	}
	if len(record.Snapshot.Elements) != 0 {
		t.Error("legacy payload should load as a blank board")
	}
}
