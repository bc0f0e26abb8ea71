package session_test

import (
	"path/filepath"
	"testing"

	"github.com/wricardo/worldsync/game/session"
)

func TestManager_ResumeAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uuid_storage.json")
	clock := newFakeClock()

	store, err := session.NewFileStore(path, nil)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	saver := session.NewSaver(store)

	before := newTestManager(clock, nil)
	reg, err := before.Register(addr(9001), "", "alice")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := saver.Save(*reg.Persist); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// new process, same record
	after := newTestManager(clock, nil)
	if n := after.LoadIdentities(store.Load()); n != 1 {
		t.Fatalf("loaded %d identities, want 1", n)
	}

	resumed, err := after.Register(addr(9005), reg.UUID, "")
	if err != nil {
		t.Fatalf("resume after restart failed: %v", err)
	}
	if !resumed.Resumed || resumed.Username != "alice" {
		t.Errorf("unexpected resume %+v", resumed)
	}

	// the stored id is never handed out again
	fresh, err := after.Register(addr(9006), "", "bob")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if fresh.UUID == reg.UUID {
		t.Error("fresh id collided with a stored id")
	}
}
