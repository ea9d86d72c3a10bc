package supervisor

import (
	"testing"
	"time"
)

func TestSlugDerivation(t *testing.T) {
	req := Request{App: "myapp", Node: "node1"}
	if got, want := req.Slug(), "myapp.node1"; got != want {
		t.Errorf("Slug() = %q, want %q", got, want)
	}
}

func TestNewDescriptorStartsPending(t *testing.T) {
	d := newDescriptor(Request{App: "a", Node: "b", Env: map[string]string{"K": "V"}})
	if d.State() != StatePending {
		t.Errorf("initial state = %q, want pending", d.State())
	}
	snap := d.Snapshot()
	if snap.Slug != "a.b" {
		t.Errorf("snapshot slug = %q, want a.b", snap.Slug)
	}
	if snap.Env["K"] != "V" {
		t.Errorf("snapshot env not carried through")
	}
}

func TestSnapshotEnvIsACopy(t *testing.T) {
	d := newDescriptor(Request{App: "a", Node: "b", Env: map[string]string{"K": "V"}})
	snap := d.Snapshot()
	snap.Env["K"] = "mutated"

	if d.Env["K"] != "V" {
		t.Error("mutating a snapshot's env leaked back into the descriptor")
	}
}

func TestSetFailedRecordsLastError(t *testing.T) {
	d := newDescriptor(Request{App: "a", Node: "b"})
	d.setFailed("archive not found")

	if d.State() != StateFailed {
		t.Errorf("state = %q, want failed", d.State())
	}
	if snap := d.Snapshot(); snap.LastError != "archive not found" {
		t.Errorf("LastError = %q, want %q", snap.LastError, "archive not found")
	}
}

func TestWaitUntilWakesOnTransition(t *testing.T) {
	d := newDescriptor(Request{App: "a", Node: "b"})

	done := make(chan struct{})
	go func() {
		d.waitUntil(func(s State) bool { return s == StateRunning })
		close(done)
	}()

	d.setState(StateFetching)
	select {
	case <-done:
		t.Fatal("waitUntil returned before its predicate was satisfied")
	case <-time.After(50 * time.Millisecond):
	}

	d.setState(StateRunning)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waitUntil did not wake after reaching the target state")
	}
}

func TestWaitUntilReturnsImmediatelyIfAlreadySatisfied(t *testing.T) {
	d := newDescriptor(Request{App: "a", Node: "b"})
	d.setState(StateDeleted)

	done := make(chan struct{})
	go func() {
		d.waitUntil(func(s State) bool { return s == StateDeleted })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waitUntil blocked even though the predicate already held")
	}
}

func TestRecordRestartIncrementsCount(t *testing.T) {
	d := newDescriptor(Request{App: "a", Node: "b"})
	d.recordRestart()
	d.recordRestart()

	if snap := d.Snapshot(); snap.RestartCount != 2 {
		t.Errorf("RestartCount = %d, want 2", snap.RestartCount)
	}
}

func TestUptimeZeroBeforeRunning(t *testing.T) {
	d := newDescriptor(Request{App: "a", Node: "b"})
	if d.uptime() != 0 {
		t.Errorf("uptime before any run = %v, want 0", d.uptime())
	}
}
