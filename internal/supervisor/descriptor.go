package supervisor

import (
	"sync"
	"time"

	"github.com/smartmob-project/smartmob-agent/internal/loghub"
)

// Request is the validated input to create a new supervised process,
// corresponding to spec.md §6's create request document.
type Request struct {
	App         string
	Node        string
	ProcessType string
	SourceURL   string
	Env         map[string]string
}

// Slug derives the registry primary key from a request, per spec.md §6
// ("slug = app + "." + node").
func (r Request) Slug() string {
	return r.App + "." + r.Node
}

// Descriptor is the registry's record of one process (spec.md §3). The
// immutable fields are safe to read without synchronization once the
// descriptor is constructed; State and LastError are mutated only by the
// owning Supervisor and must be read through Snapshot().
type Descriptor struct {
	Slug        string
	App         string
	Node        string
	ProcessType string
	SourceURL   string
	Env         map[string]string

	LogHub *loghub.Hub

	mu           sync.RWMutex
	state        State
	lastError    string
	restartCount int
	startedAt    time.Time
	changeCh     chan struct{}
}

// Snapshot is an immutable point-in-time copy of a Descriptor, safe to
// hand to callers without further locking (spec.md §9: "descriptor
// snapshots returned to callers must be immutable copies").
type Snapshot struct {
	Slug         string
	App          string
	Node         string
	ProcessType  string
	SourceURL    string
	Env          map[string]string
	State        State
	LastError    string
	RestartCount int
}

func newDescriptor(req Request) *Descriptor {
	env := make(map[string]string, len(req.Env))
	for k, v := range req.Env {
		env[k] = v
	}
	return &Descriptor{
		Slug:        req.Slug(),
		App:         req.App,
		Node:        req.Node,
		ProcessType: req.ProcessType,
		SourceURL:   req.SourceURL,
		Env:         env,
		LogHub:      loghub.New(),
		state:       StatePending,
		changeCh:    make(chan struct{}),
	}
}

// Snapshot returns an immutable copy of the descriptor's current state.
func (d *Descriptor) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	envCopy := make(map[string]string, len(d.Env))
	for k, v := range d.Env {
		envCopy[k] = v
	}
	return Snapshot{
		Slug:         d.Slug,
		App:          d.App,
		Node:         d.Node,
		ProcessType:  d.ProcessType,
		SourceURL:    d.SourceURL,
		Env:          envCopy,
		State:        d.state,
		LastError:    d.lastError,
		RestartCount: d.restartCount,
	}
}

// State returns the descriptor's current state under the read lock.
func (d *Descriptor) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// setState transitions the descriptor to newState. Only the owning
// Supervisor may call this (spec.md §3's ownership invariant).
func (d *Descriptor) setState(newState State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = newState
	if newState == StateRunning {
		d.startedAt = time.Now()
	}
	d.notifyLocked()
}

// setFailed transitions to failed and records the diagnostic.
func (d *Descriptor) setFailed(detail string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateFailed
	d.lastError = detail
	d.notifyLocked()
}

func (d *Descriptor) notifyLocked() {
	close(d.changeCh)
	d.changeCh = make(chan struct{})
}

func (d *Descriptor) recordRestart() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.restartCount++
}

// waitUntil blocks until pred(state) holds, waking on every state
// transition. Used by Delete to honor spec.md §5's ordering guarantee
// ("Delete returns only after the descriptor is in terminating or
// deleted").
func (d *Descriptor) waitUntil(pred func(State) bool) {
	for {
		d.mu.RLock()
		s := d.state
		ch := d.changeCh
		d.mu.RUnlock()
		if pred(s) {
			return
		}
		<-ch
	}
}

// uptime returns how long the process has been continuously running
// since its most recent (re)start, used by the restart backoff reset
// window (spec.md §4.4).
func (d *Descriptor) uptime() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.startedAt.IsZero() {
		return 0
	}
	return time.Since(d.startedAt)
}
