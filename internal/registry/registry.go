// Package registry implements component C5 from spec.md §4.5: the single
// in-memory table of process descriptors, keyed by slug, that owns the
// lifetime of every Supervisor task. Grounded on the teacher's
// processes.ProcessManager, which holds the same kind of slug-keyed table
// under a mutex and launches one goroutine per managed process.
package registry

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/smartmob-project/smartmob-agent/internal/apierr"
	"github.com/smartmob-project/smartmob-agent/internal/loghub"
	"github.com/smartmob-project/smartmob-agent/internal/supervisor"
)

// slugPartRe matches spec.md §6's charset for the app and node fields.
var slugPartRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// AuditTrail is the subset of audit.Logger the registry needs for
// create/delete bookkeeping, distinct from supervisor.AuditTrail's
// state-change hook.
type AuditTrail interface {
	LogCreate(slug, detail string) error
	LogDelete(slug, detail string) error
}

// Registry is the process table. The zero value is not usable; construct
// with New.
type Registry struct {
	ctx   context.Context
	cfg   supervisor.Config
	audit AuditTrail

	mu    sync.Mutex
	procs map[string]*supervisor.Supervisor
	wg    sync.WaitGroup
}

// New creates an empty Registry. ctx is the agent's lifetime context: every
// Supervisor launched by Create runs under ctx, not under the context of
// whatever request called Create, since an inbound HTTP request's context
// is canceled as soon as its handler returns (net/http's documented
// contract) and would otherwise abort the fetch/unpack/spawn sequence
// moments after the 201 response is written. main.go passes the same
// context it cancels on SIGINT/SIGTERM. cfg is passed through to every
// Supervisor; audit may be nil to disable create/delete bookkeeping.
func New(ctx context.Context, cfg supervisor.Config, audit AuditTrail) *Registry {
	return &Registry{
		ctx:   ctx,
		cfg:   cfg,
		audit: audit,
		procs: make(map[string]*supervisor.Supervisor),
	}
}

// Create validates req, reserves its slug, and launches a Supervisor task
// for it. It returns create-error{invalid-request} if req is missing
// required fields and create-error{slug-in-use} if the slug already
// exists, per spec.md §4.5/§6. ctx governs only the validation and
// bookkeeping done before Create returns; the launched Supervisor runs
// under the Registry's own lifetime context, per New's doc comment.
func (r *Registry) Create(ctx context.Context, req supervisor.Request) (supervisor.Snapshot, error) {
	if err := validate(req); err != nil {
		return supervisor.Snapshot{}, err
	}

	slug := req.Slug()

	r.mu.Lock()
	if _, exists := r.procs[slug]; exists {
		r.mu.Unlock()
		return supervisor.Snapshot{}, apierr.New(apierr.KindSlugInUse, fmt.Sprintf("process %q already exists", slug))
	}
	sup := supervisor.New(req, r.cfg)
	r.procs[slug] = sup
	r.mu.Unlock()

	if r.audit != nil {
		if err := r.audit.LogCreate(slug, fmt.Sprintf("source=%s type=%s", req.SourceURL, req.ProcessType)); err != nil {
			r.cfg.Logger.Warn("failed to record create audit event", "slug", slug, "error", err)
		}
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		sup.Run(r.ctx)
	}()

	return sup.Descriptor().Snapshot(), nil
}

func validate(req supervisor.Request) error {
	switch {
	case req.App == "":
		return apierr.New(apierr.KindInvalidRequest, "app is required")
	case !slugPartRe.MatchString(req.App):
		return apierr.New(apierr.KindInvalidRequest, "app must match [A-Za-z0-9_-]+")
	case req.Node == "":
		return apierr.New(apierr.KindInvalidRequest, "node is required")
	case !slugPartRe.MatchString(req.Node):
		return apierr.New(apierr.KindInvalidRequest, "node must match [A-Za-z0-9_-]+")
	case req.ProcessType == "":
		return apierr.New(apierr.KindInvalidRequest, "process_type is required")
	case req.SourceURL == "":
		return apierr.New(apierr.KindInvalidRequest, "source_url is required")
	case !strings.HasPrefix(req.SourceURL, "http://") && !strings.HasPrefix(req.SourceURL, "https://"):
		return apierr.New(apierr.KindInvalidRequest, "source_url must be an http or https URL")
	}
	return nil
}

// List returns a snapshot of every process currently known to the
// registry, in no particular order.
func (r *Registry) List() []supervisor.Snapshot {
	r.mu.Lock()
	sups := make([]*supervisor.Supervisor, 0, len(r.procs))
	for _, s := range r.procs {
		sups = append(sups, s)
	}
	r.mu.Unlock()

	snapshots := make([]supervisor.Snapshot, 0, len(sups))
	for _, s := range sups {
		snapshots = append(snapshots, s.Descriptor().Snapshot())
	}
	return snapshots
}

// Get returns the current snapshot for slug, or not-found if unknown.
func (r *Registry) Get(slug string) (supervisor.Snapshot, error) {
	sup, err := r.lookup(slug)
	if err != nil {
		return supervisor.Snapshot{}, err
	}
	return sup.Descriptor().Snapshot(), nil
}

// Subscribe attaches a log subscriber to slug's descriptor, optionally
// replaying its tail buffer, or returns not-found if slug is unknown.
func (r *Registry) Subscribe(slug string, replayTail bool) (*loghub.Subscriber, error) {
	sup, err := r.lookup(slug)
	if err != nil {
		return nil, err
	}
	return sup.Descriptor().LogHub.Subscribe(replayTail), nil
}

// SubscribeFrom attaches a log subscriber to slug's descriptor, replaying
// only tail lines published after sinceID — used when a reconnecting
// attach-console client wants to resume without re-receiving lines it
// already saw.
func (r *Registry) SubscribeFrom(slug string, sinceID int64) (*loghub.Subscriber, error) {
	sup, err := r.lookup(slug)
	if err != nil {
		return nil, err
	}
	return sup.Descriptor().LogHub.SubscribeFrom(sinceID), nil
}

// Delete requests termination of slug's process and blocks until its
// descriptor has reached terminating or deleted (spec.md §5's ordering
// guarantee). The entry is removed from the table in the background once
// the supervisor has fully exited. A repeated Delete while the entry is
// still in the table returns nil; once the entry has been removed, Delete
// reports not-found like any unknown slug.
func (r *Registry) Delete(slug string) error {
	sup, err := r.lookup(slug)
	if err != nil {
		return err
	}

	sup.RequestDelete()

	if r.audit != nil {
		if err := r.audit.LogDelete(slug, "delete requested"); err != nil {
			r.cfg.Logger.Warn("failed to record delete audit event", "slug", slug, "error", err)
		}
	}

	go func() {
		sup.Wait()
		r.mu.Lock()
		delete(r.procs, slug)
		r.mu.Unlock()
	}()

	return nil
}

func (r *Registry) lookup(slug string) (*supervisor.Supervisor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sup, ok := r.procs[slug]
	if !ok {
		return nil, apierr.New(apierr.KindNotFound, fmt.Sprintf("no such process %q", slug))
	}
	return sup, nil
}

// Shutdown requests deletion of every live process, waits for all
// supervisor tasks to finish, and removes their entries from the table,
// for use during agent shutdown (spec.md §8).
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sups := make([]*supervisor.Supervisor, 0, len(r.procs))
	for _, s := range r.procs {
		sups = append(sups, s)
	}
	r.mu.Unlock()

	for _, s := range sups {
		s.RequestDelete()
	}
	r.wg.Wait()

	r.mu.Lock()
	for _, s := range sups {
		delete(r.procs, s.Descriptor().Slug)
	}
	r.mu.Unlock()
}
