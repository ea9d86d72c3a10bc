package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smartmob-project/smartmob-agent/internal/apierr"
	"github.com/smartmob-project/smartmob-agent/internal/loghub"
	"github.com/smartmob-project/smartmob-agent/internal/supervisor"
)

// fakeRegistry is a minimal, deterministic stand-in for registry.Registry
// so C6's handlers can be tested without spawning real processes.
type fakeRegistry struct {
	created  []supervisor.Request
	snapshot supervisor.Snapshot
	getErr   error
	deleted  []string
	deleteErr error
	hub      *loghub.Hub
}

func (f *fakeRegistry) Create(ctx context.Context, req supervisor.Request) (supervisor.Snapshot, error) {
	if req.App == "" {
		return supervisor.Snapshot{}, apierr.New(apierr.KindInvalidRequest, "app is required")
	}
	f.created = append(f.created, req)
	f.snapshot = supervisor.Snapshot{Slug: req.Slug(), App: req.App, Node: req.Node, State: supervisor.StatePending}
	return f.snapshot, nil
}

func (f *fakeRegistry) List() []supervisor.Snapshot {
	return []supervisor.Snapshot{f.snapshot}
}

func (f *fakeRegistry) Get(slug string) (supervisor.Snapshot, error) {
	if f.getErr != nil {
		return supervisor.Snapshot{}, f.getErr
	}
	return f.snapshot, nil
}

func (f *fakeRegistry) Delete(slug string) error {
	f.deleted = append(f.deleted, slug)
	return f.deleteErr
}

func (f *fakeRegistry) Subscribe(slug string, replayTail bool) (*loghub.Subscriber, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.hub == nil {
		f.hub = loghub.New()
	}
	return f.hub.Subscribe(replayTail), nil
}

func (f *fakeRegistry) SubscribeFrom(slug string, sinceID int64) (*loghub.Subscriber, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.hub == nil {
		f.hub = loghub.New()
	}
	return f.hub.SubscribeFrom(sinceID), nil
}

func TestHandleIndex(t *testing.T) {
	srv := New(&fakeRegistry{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "agent.example:8080"
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var doc indexDocument
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if doc.List != "http://agent.example:8080/list-processes" {
		t.Errorf("list = %q", doc.List)
	}
	if doc.Create != "http://agent.example:8080/create-process" {
		t.Errorf("create = %q", doc.Create)
	}
}

func TestHandleCreateSuccess(t *testing.T) {
	reg := &fakeRegistry{}
	srv := New(reg, nil)

	body := `{"app":"myapp","node":"n1","process_type":"web","source_url":"http://example.test/a.zip"}`
	req := httptest.NewRequest(http.MethodPost, "/create-process", bytes.NewBufferString(body))
	req.Host = "agent.example"
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}
	if len(reg.created) != 1 || reg.created[0].App != "myapp" {
		t.Fatalf("registry did not receive the create request: %+v", reg.created)
	}

	var doc snapshotDocument
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if doc.Slug != "myapp.n1" {
		t.Errorf("slug = %q, want myapp.n1", doc.Slug)
	}
	if doc.Attach == "" || doc.Details == "" || doc.Delete == "" {
		t.Error("expected absolute attach/details/delete URLs")
	}
}

func TestHandleCreateInvalidRequest(t *testing.T) {
	srv := New(&fakeRegistry{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/create-process", bytes.NewBufferString(`{"node":"n1"}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var doc errorDocument
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if doc.Error != "invalid-request" {
		t.Errorf("error = %q, want invalid-request", doc.Error)
	}
}

func TestHandleCreateMalformedJSON(t *testing.T) {
	srv := New(&fakeRegistry{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/create-process", bytes.NewBufferString(`not json`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleStatusNotFound(t *testing.T) {
	reg := &fakeRegistry{getErr: apierr.New(apierr.KindNotFound, "no such process")}
	srv := New(reg, nil)

	req := httptest.NewRequest(http.MethodGet, "/process-status/nope.nope", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleDeleteSuccess(t *testing.T) {
	reg := &fakeRegistry{}
	srv := New(reg, nil)

	req := httptest.NewRequest(http.MethodPost, "/delete-process/myapp.n1", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(reg.deleted) != 1 || reg.deleted[0] != "myapp.n1" {
		t.Fatalf("registry did not receive the delete request: %+v", reg.deleted)
	}
}

func TestHandleDeleteNotFound(t *testing.T) {
	reg := &fakeRegistry{deleteErr: apierr.New(apierr.KindNotFound, "no such process")}
	srv := New(reg, nil)

	req := httptest.NewRequest(http.MethodPost, "/delete-process/nope.nope", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleListReturnsSnapshots(t *testing.T) {
	reg := &fakeRegistry{snapshot: supervisor.Snapshot{Slug: "a.b", App: "a", Node: "b", State: supervisor.StateRunning}}
	srv := New(reg, nil)

	req := httptest.NewRequest(http.MethodGet, "/list-processes", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var doc listDocument
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(doc.Processes) != 1 || doc.Processes[0].Slug != "a.b" {
		t.Fatalf("unexpected processes list: %+v", doc.Processes)
	}
}
