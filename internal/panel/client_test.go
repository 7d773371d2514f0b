package panel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestServerDetails_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/api/client/servers/abc123" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("authorization = %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "server",
			"attributes": {
				"identifier": "abc123",
				"uuid": "3f8d-uuid",
				"name": "mc-1",
				"is_suspended": false,
				"limits": {"memory": 2048, "swap": 0, "disk": 10240, "io": 500, "cpu": 100},
				"relationships": {"allocations": {"data": [
					{"attributes": {"id": 7, "ip": "10.0.0.1", "port": 25565, "is_default": true}},
					{"attributes": {"id": 8, "ip": "10.0.0.1", "port": 25566, "is_default": false}}
				]}}
			}
		}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-key")

	d, err := client.ServerDetails(testCtx(t), "abc123")
	if err != nil {
		t.Fatalf("ServerDetails error: %v", err)
	}
	if d.Identifier != "abc123" || d.UUID != "3f8d-uuid" {
		t.Fatalf("unexpected details: %+v", d)
	}
	if d.Limits.Memory != 2048 || d.Limits.CPU != 100 {
		t.Fatalf("unexpected limits: %+v", d.Limits)
	}

	alloc, ok := d.DefaultAllocation()
	if !ok {
		t.Fatalf("default allocation not found")
	}
	if alloc.ID != 7 || alloc.Port != 25565 {
		t.Fatalf("unexpected allocation: %+v", alloc)
	}
}

func TestServerDetails_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-key")

	_, err := client.ServerDetails(testCtx(t), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestServerResources_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/client/servers/abc123/resources" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "stats",
			"attributes": {
				"current_state": "running",
				"resources": {"memory_bytes": 1048576, "cpu_absolute": 42.5, "disk_bytes": 2097152, "uptime": 3600}
			}
		}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-key")

	res, err := client.ServerResources(testCtx(t), "abc123")
	if err != nil {
		t.Fatalf("ServerResources error: %v", err)
	}
	if res.CurrentState != "running" || res.MemoryBytes != 1048576 || res.CPUAbsolute != 42.5 {
		t.Fatalf("unexpected resources: %+v", res)
	}
}

func TestSendPower_SendsSignal(t *testing.T) {
	var gotBody map[string]string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/client/servers/abc123/power" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-key")

	if err := client.SendPower(testCtx(t), "abc123", "restart"); err != nil {
		t.Fatalf("SendPower error: %v", err)
	}
	if gotBody["signal"] != "restart" {
		t.Fatalf("signal = %q, want restart", gotBody["signal"])
	}
}

func TestCreateServer_OK(t *testing.T) {
	var gotBody map[string]any

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/application/servers" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{
			"object": "server",
			"attributes": {"id": 55, "identifier": "abc123", "uuid": "3f8d-uuid"}
		}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-key")

	created, err := client.CreateServer(testCtx(t), CreateServerInput{
		Name:        "mc-1",
		PanelUserID: 9,
		EggID:       1,
		LocationID:  2,
		RAM:         2048,
		CPU:         100,
		Disk:        10240,
	})
	if err != nil {
		t.Fatalf("CreateServer error: %v", err)
	}
	if created.ID != 55 || created.UUID != "3f8d-uuid" {
		t.Fatalf("unexpected created server: %+v", created)
	}

	if gotBody["name"] != "mc-1" {
		t.Fatalf("name = %v", gotBody["name"])
	}
	limits, ok := gotBody["limits"].(map[string]any)
	if !ok || limits["memory"] != float64(2048) {
		t.Fatalf("unexpected limits in request: %v", gotBody["limits"])
	}
}

func TestDeleteServer_NoContent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("method = %s, want DELETE", r.Method)
		}
		if r.URL.Path != "/api/application/servers/55" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-key")

	if err := client.DeleteServer(testCtx(t), 55); err != nil {
		t.Fatalf("DeleteServer error: %v", err)
	}
}

func TestUserByEmail(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantID  int64
		wantErr error
	}{
		{
			name:   "found",
			body:   `{"object": "list", "data": [{"attributes": {"id": 12}}]}`,
			wantID: 12,
		},
		{
			name:    "absent",
			body:    `{"object": "list", "data": []}`,
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.URL.Query().Get("filter[email]"); got != "user@example.com" {
					t.Fatalf("filter = %q", got)
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			client := NewClient(ts.URL, "test-key")

			id, err := client.UserByEmail(testCtx(t), "user@example.com")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("UserByEmail error: %v", err)
			}
			if id != tt.wantID {
				t.Fatalf("id = %d, want %d", id, tt.wantID)
			}
		})
	}
}

func TestUpdateBuild_MergesCurrentLimits(t *testing.T) {
	var patched map[string]any

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/application/servers/55":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"object": "server",
				"attributes": {
					"id": 55,
					"allocation": 7,
					"limits": {"memory": 2048, "swap": 0, "disk": 10240, "io": 500, "cpu": 100},
					"feature_limits": {"databases": 0, "allocations": 1, "backups": 0}
				}
			}`))
		case r.Method == http.MethodPatch && r.URL.Path == "/api/application/servers/55/build":
			if err := json.NewDecoder(r.Body).Decode(&patched); err != nil {
				t.Fatalf("decode patch: %v", err)
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"object": "server", "attributes": {"id": 55}}`))
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-key")

	newMemory := int64(3072)
	err := client.UpdateBuild(testCtx(t), 55, 7, BuildLimits{Memory: &newMemory})
	if err != nil {
		t.Fatalf("UpdateBuild error: %v", err)
	}

	if patched["memory"] != float64(3072) {
		t.Fatalf("memory = %v, want 3072", patched["memory"])
	}
	if patched["cpu"] != float64(100) || patched["disk"] != float64(10240) {
		t.Fatalf("unchanged limits not preserved: %v", patched)
	}
	if patched["allocation"] != float64(7) {
		t.Fatalf("allocation = %v, want 7", patched["allocation"])
	}
}

func TestDo_UpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors": [{"detail": "validation failed"}]}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-key")

	_, err := client.ServerResources(testCtx(t), "abc123")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", apiErr.Status)
	}
}
