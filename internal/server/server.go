// Package server implements the request surface described in spec.md
// §4.6/§6 (component C6): a mechanical JSON/WebSocket adapter in front of
// the registry, with no lifecycle logic of its own. Grounded on the
// teacher's httpsproxy.Proxy / internal/handlers dispatch style — a
// single mux, one method per route, decode-call-encode.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/smartmob-project/smartmob-agent/internal/apierr"
	"github.com/smartmob-project/smartmob-agent/internal/loghub"
	"github.com/smartmob-project/smartmob-agent/internal/supervisor"
)

// Registry is the subset of registry.Registry the request surface needs,
// narrowed the way the teacher scopes ProcessManagerInterface down for
// httpsproxy.
type Registry interface {
	Create(ctx context.Context, req supervisor.Request) (supervisor.Snapshot, error)
	List() []supervisor.Snapshot
	Get(slug string) (supervisor.Snapshot, error)
	Delete(slug string) error
	Subscribe(slug string, replayTail bool) (*loghub.Subscriber, error)
	SubscribeFrom(slug string, sinceID int64) (*loghub.Subscriber, error)
}

// Server adapts HTTP/WebSocket requests onto a Registry.
type Server struct {
	reg    Registry
	logger *slog.Logger
	mux    *http.ServeMux
}

// New builds a Server wired to reg.
func New(reg Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{reg: reg, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /list-processes", s.handleList)
	s.mux.HandleFunc("POST /create-process", s.handleCreate)
	s.mux.HandleFunc("GET /process-status/{slug}", s.handleStatus)
	s.mux.HandleFunc("POST /delete-process/{slug}", s.handleDelete)
	s.mux.HandleFunc("GET /attach-console/{slug}", s.handleAttach)
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	base := baseURL(r)
	writeJSON(w, http.StatusOK, indexDocument{
		List:   base + "/list-processes",
		Create: base + "/create-process",
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	base := baseURL(r)
	snaps := s.reg.List()
	docs := make([]snapshotDocument, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, newSnapshotDocument(base, snap))
	}
	writeJSON(w, http.StatusOK, listDocument{Processes: docs})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body createRequestDocument
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, apierr.New(apierr.KindInvalidRequest, "malformed JSON body"))
		return
	}

	snap, err := s.reg.Create(r.Context(), body.toRequest())
	if err != nil {
		s.writeRegistryError(w, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, newSnapshotDocument(baseURL(r), snap))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	snap, err := s.reg.Get(slug)
	if err != nil {
		s.writeRegistryError(w, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newSnapshotDocument(baseURL(r), snap))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	if err := s.reg.Delete(slug); err != nil {
		s.writeRegistryError(w, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// writeRegistryError maps a registry/supervisor error onto its declared
// HTTP status (spec.md §7). An apierr.Error of any other kind gets
// fallback; an error that isn't an apierr.Error gets 500.
func (s *Server) writeRegistryError(w http.ResponseWriter, err error, fallback int) {
	apiErr, ok := apierr.As(err)
	if !ok {
		s.logger.Error("unexpected error from registry", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorDocument{Error: "internal", Detail: "unexpected error"})
		return
	}

	status := fallback
	switch apiErr.Kind {
	case apierr.KindInvalidRequest:
		status = http.StatusBadRequest
	case apierr.KindSlugInUse:
		status = http.StatusConflict
	case apierr.KindNotFound:
		status = http.StatusNotFound
	}
	writeError(w, status, apiErr)
}

func writeError(w http.ResponseWriter, status int, err *apierr.Error) {
	writeJSON(w, status, errorDocument{Error: string(err.Kind), Detail: err.Detail})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Error("failed to encode response body", "error", err)
	}
}
