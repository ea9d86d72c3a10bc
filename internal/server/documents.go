package server

import "github.com/smartmob-project/smartmob-agent/internal/supervisor"

// indexDocument is the body of GET / (spec.md §6).
type indexDocument struct {
	List   string `json:"list"`
	Create string `json:"create"`
}

// listDocument is the body of GET /list-processes.
type listDocument struct {
	Processes []snapshotDocument `json:"processes"`
}

// createRequestDocument is the body of POST /create-process.
type createRequestDocument struct {
	App         string            `json:"app"`
	Node        string            `json:"node"`
	ProcessType string            `json:"process_type"`
	SourceURL   string            `json:"source_url"`
	Env         map[string]string `json:"env,omitempty"`
}

func (r createRequestDocument) toRequest() supervisor.Request {
	return supervisor.Request{
		App:         r.App,
		Node:        r.Node,
		ProcessType: r.ProcessType,
		SourceURL:   r.SourceURL,
		Env:         r.Env,
	}
}

// snapshotDocument is the process snapshot document from spec.md §6,
// carrying absolute action URLs alongside the descriptor fields.
type snapshotDocument struct {
	Slug         string `json:"slug"`
	App          string `json:"app"`
	Node         string `json:"node"`
	ProcessType  string `json:"process_type"`
	State        string `json:"state"`
	LastError    string `json:"last_error,omitempty"`
	RestartCount int    `json:"restart_count"`
	Attach       string `json:"attach"`
	Details      string `json:"details"`
	Delete       string `json:"delete"`
}

func newSnapshotDocument(base string, snap supervisor.Snapshot) snapshotDocument {
	return snapshotDocument{
		Slug:         snap.Slug,
		App:          snap.App,
		Node:         snap.Node,
		ProcessType:  snap.ProcessType,
		State:        string(snap.State),
		LastError:    snap.LastError,
		RestartCount: snap.RestartCount,
		Attach:       base + "/attach-console/" + snap.Slug,
		Details:      base + "/process-status/" + snap.Slug,
		Delete:       base + "/delete-process/" + snap.Slug,
	}
}

// errorDocument is the body of every non-2xx JSON response.
type errorDocument struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}
