package config

import (
	"context"
	"os"
	"testing"
	"time"
)

// waitForEvent drains the channel until an event of the wanted kind arrives
// or the deadline passes.
func waitForEvent(t *testing.T, ch chan Event, kind EventKind, timeout time.Duration) (Event, bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev, true
			}
		case <-deadline:
			return Event{}, false
		}
	}
}

// TestHotReloadAppliesChange edits a watched brain file and expects a
// configReloaded event carrying the new value.
func TestHotReloadAppliesChange(t *testing.T) {
	mgr, root := newTestManager(t)
	path := writeFixture(t, root, "defaults/brain.yaml", brainYAML)

	if _, _, err := mgr.LoadBrain(nil); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.StartWatch(ctx); err != nil {
		t.Fatal(err)
	}
	defer mgr.StopWatch()

	events := make(chan Event, 16)
	mgr.Subscribe(events)

	if err := os.WriteFile(path, []byte("maxTotalLeverage: 15\nmaxGlobalDrawdown: 0.3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ev, ok := waitForEvent(t, events, EventReloaded, 5*time.Second)
	if !ok {
		t.Fatal("no configReloaded event")
	}
	if ev.Type != TypeBrain {
		t.Errorf("event = %+v", ev)
	}
	if got := mgr.Brain().MaxTotalLeverage; got != 15 {
		t.Errorf("live value = %v, want 15", got)
	}
}

// TestHotReloadBrainCapBelowPhase reproduces the cap-lowering scenario:
// phase at 10, brain lowered to 5. The reload must emit configError, retain
// the previous brain and leave an audit record with the reason.
func TestHotReloadBrainCapBelowPhase(t *testing.T) {
	mgr, root := newTestManager(t)
	brainPath := writeFixture(t, root, "defaults/brain.yaml", "maxTotalLeverage: 20\nmaxGlobalDrawdown: 0.3\n")
	writeFixture(t, root, "defaults/phases/hunter.yaml", phaseYAML) // maxLeverage 10

	if _, _, err := mgr.LoadBrain(nil); err != nil {
		t.Fatal(err)
	}
	if _, _, err := mgr.LoadPhase("hunter", nil); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.StartWatch(ctx); err != nil {
		t.Fatal(err)
	}
	defer mgr.StopWatch()

	events := make(chan Event, 16)
	mgr.Subscribe(events)

	if err := os.WriteFile(brainPath, []byte("maxTotalLeverage: 5\nmaxGlobalDrawdown: 0.3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ev, ok := waitForEvent(t, events, EventError, 5*time.Second)
	if !ok {
		t.Fatal("no configError event")
	}
	if ev.Err == nil {
		t.Error("configError without error")
	}

	// Previous in-memory value retained.
	if got := mgr.Brain().MaxTotalLeverage; got != 20 {
		t.Errorf("live brain changed on failed reload: %v", got)
	}

	// Audit record present with the rejection reason.
	audits, err := mgr.History().SearchVersions(TypeBrain, BrainKey, SearchQuery{Tags: []string{"reload-rejected"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(audits) == 0 {
		t.Fatal("no reload-rejected audit record")
	}
	if audits[len(audits)-1].Comment == "" {
		t.Error("audit record has no reason")
	}
}

func TestStopWatchIdempotent(t *testing.T) {
	mgr, root := newTestManager(t)
	writeFixture(t, root, "defaults/brain.yaml", brainYAML)

	ctx := context.Background()
	if err := mgr.StartWatch(ctx); err != nil {
		t.Fatal(err)
	}
	mgr.StopWatch()
	mgr.StopWatch()
}
