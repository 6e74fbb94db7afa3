package session

import (
	"testing"
	"time"

	"github.com/beep-python/host/pkg/model"
)

func alwaysExists(string) bool { return true }

func TestGetOrCreateReusesActiveSessionByDefault(t *testing.T) {
	m := New(nil, alwaysExists)
	s1, err := m.GetOrCreate("alice", "env-1", false)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	s2, err := m.GetOrCreate("alice", "env-1", false)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	if s1.ID != s2.ID {
		t.Errorf("GetOrCreate() returned different sessions for the same (principal, env): %s vs %s", s1.ID, s2.ID)
	}
}

func TestGetOrCreateForceNewAlwaysCreates(t *testing.T) {
	m := New(nil, alwaysExists)
	s1, err := m.GetOrCreate("alice", "env-1", false)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	s2, err := m.GetOrCreate("alice", "env-1", true)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	if s1.ID == s2.ID {
		t.Error("GetOrCreate(forceNew=true) returned the same session")
	}

	// The new session becomes the reused one going forward.
	s3, err := m.GetOrCreate("alice", "env-1", false)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if s3.ID != s2.ID {
		t.Errorf("GetOrCreate() after forceNew reused %s, want the forced session %s", s3.ID, s2.ID)
	}
}

func TestGetOrCreateRejectsUnregisteredEnvironment(t *testing.T) {
	m := New(nil, func(envID string) bool { return envID == "env-1" })
	if _, err := m.GetOrCreate("alice", "bogus-env", false); err == nil {
		t.Fatal("GetOrCreate() error = nil, want NotInitialized for an unregistered environment")
	}
	if _, err := m.GetOrCreate("alice", "env-1", false); err != nil {
		t.Fatalf("GetOrCreate() error = %v, want nil for a registered environment", err)
	}
}

func TestTerminateMakesSessionGone(t *testing.T) {
	m := New(nil, alwaysExists)
	s, err := m.GetOrCreate("alice", "env-1", false)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	if err := m.Terminate(s.ID, model.ExitCompleted); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}

	if _, err := m.Get(s.ID); err == nil {
		t.Fatal("Get() on terminated session error = nil, want SessionGone")
	}

	// A fresh GetOrCreate for the same key must mint a new id, not reuse the
	// terminated one.
	s2, err := m.GetOrCreate("alice", "env-1", false)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if s2.ID == s.ID {
		t.Error("GetOrCreate() reused a terminated session's id")
	}
}

func TestCreateScopeIsIdempotent(t *testing.T) {
	m := New(nil, alwaysExists)
	s, err := m.GetOrCreate("alice", "env-1", false)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	calls := 0
	mint := func() *model.Scope {
		calls++
		return model.NewScope("token-1")
	}

	scope1, err := m.CreateScope(s.ID, mint)
	if err != nil {
		t.Fatalf("CreateScope() error = %v", err)
	}
	scope2, err := m.CreateScope(s.ID, mint)
	if err != nil {
		t.Fatalf("CreateScope() second call error = %v", err)
	}

	if calls != 1 {
		t.Errorf("mint called %d times, want 1 (idempotent)", calls)
	}
	if scope1.Token() != scope2.Token() {
		t.Error("CreateScope() returned different scopes across calls")
	}
}

func TestHasScopeAndGetScope(t *testing.T) {
	m := New(nil, alwaysExists)
	s, err := m.GetOrCreate("alice", "env-1", false)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	has, err := m.HasScope(s.ID)
	if err != nil {
		t.Fatalf("HasScope() error = %v", err)
	}
	if has {
		t.Error("HasScope() = true before CreateScope")
	}

	if _, err := m.CreateScope(s.ID, func() *model.Scope { return model.NewScope("x") }); err != nil {
		t.Fatalf("CreateScope() error = %v", err)
	}

	has, err = m.HasScope(s.ID)
	if err != nil || !has {
		t.Errorf("HasScope() = %v, %v, want true, nil", has, err)
	}

	scope, err := m.GetScope(s.ID)
	if err != nil || scope.Token() != "x" {
		t.Errorf("GetScope() = %v, %v, want token %q", scope, err, "x")
	}
}

func TestGetScopeBeforeCreateFails(t *testing.T) {
	m := New(nil, alwaysExists)
	s, err := m.GetOrCreate("alice", "env-1", false)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if _, err := m.GetScope(s.ID); err == nil {
		t.Fatal("GetScope() error = nil, want NotInitialized before CreateScope")
	}
}

func TestSweepTerminatesOnlyIdleSessions(t *testing.T) {
	m := New(nil, alwaysExists)
	fresh, err := m.GetOrCreate("alice", "env-1", false)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	stale, err := m.GetOrCreate("bob", "env-2", false)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	m.mu.Lock()
	m.sessions[stale.ID].LastActivity = time.Now().Add(-1 * time.Hour)
	m.mu.Unlock()

	swept := m.Sweep(10 * time.Minute)
	if len(swept) != 1 || swept[0] != stale.ID {
		t.Errorf("Sweep() = %v, want [%s]", swept, stale.ID)
	}

	if _, err := m.Get(fresh.ID); err != nil {
		t.Errorf("Sweep() terminated the fresh session: %v", err)
	}
	if _, err := m.Get(stale.ID); err == nil {
		t.Error("Sweep() did not terminate the stale session")
	}
}

func TestOperationsOnUnknownSessionFailWithSessionGone(t *testing.T) {
	m := New(nil, alwaysExists)
	if _, err := m.Get("no-such-id"); err == nil {
		t.Fatal("Get() error = nil, want SessionGone for unknown id")
	}
	if err := m.Terminate("no-such-id", model.ExitCompleted); err == nil {
		t.Fatal("Terminate() error = nil, want SessionGone for unknown id")
	}
}
