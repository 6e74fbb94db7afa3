// Package session manages per-principal execution scopes: at most one
// Active session per (principal, environment) pair, idle sweeping, and the
// opaque scope handle the execution engine binds to each session.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/beep-python/host/internal/bperr"
	"github.com/beep-python/host/internal/bplog"
	"github.com/beep-python/host/pkg/model"
)

// Manager tracks live sessions in memory, keyed by id, with a secondary
// index by (principal, environment) enforcing the at-most-one-Active rule.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	active   map[string]string // "principal\x00env" -> session id
	log      *bplog.Logger

	environmentExists func(envID string) bool

	cronSched *cron.Cron
}

// New builds an empty Manager. environmentExists validates an envID against
// real environment records before GetOrCreate mints or reuses a session
// against it — it is the referential-integrity check that an envID names an
// environment that actually exists, wired to the runtime registry by the
// caller. A nil environmentExists treats every envID as valid, for isolated
// tests that don't track environments at all.
func New(log *bplog.Logger, environmentExists func(envID string) bool) *Manager {
	if log == nil {
		log = bplog.Discard()
	}
	if environmentExists == nil {
		environmentExists = func(string) bool { return true }
	}
	return &Manager{
		sessions:          make(map[string]*model.Session),
		active:            make(map[string]string),
		log:               log,
		environmentExists: environmentExists,
	}
}

func activeKey(principal, envID string) string {
	return principal + "\x00" + envID
}

// GetOrCreate returns the existing Active session for (principal, env), or
// creates a new one, failing with KindNotInitialized if envID does not name
// a registered environment. Passing forceNew=true always creates a fresh
// session, retiring any existing one's reservation under that key.
func (m *Manager) GetOrCreate(principal, envID string, forceNew bool) (*model.Session, error) {
	if !m.environmentExists(envID) {
		return nil, bperr.New(bperr.KindNotInitialized, "environment %q is not registered", envID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := activeKey(principal, envID)
	if !forceNew {
		if id, ok := m.active[key]; ok {
			if s, ok := m.sessions[id]; ok && s.State == model.SessionActive {
				s.LastActivity = time.Now()
				return s, nil
			}
		}
	}

	s := &model.Session{
		ID:            uuid.NewString(),
		PrincipalID:   principal,
		EnvironmentID: envID,
		State:         model.SessionActive,
		CreatedAt:     time.Now(),
		LastActivity:  time.Now(),
	}
	m.sessions[s.ID] = s
	m.active[key] = s.ID
	return s, nil
}

// CreateScope idempotently binds a scope token to session, returning the
// existing scope if one is already set. The session manager never inspects
// the token's contents; only the engine that minted it does.
func (m *Manager) CreateScope(sessionID string, mint func() *model.Scope) (*model.Scope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.getLocked(sessionID)
	if err != nil {
		return nil, err
	}
	if s.Scope() != nil {
		return s.Scope(), nil
	}
	scope := mint()
	s.SetScope(scope)
	return scope, nil
}

// HasScope reports whether session has a bound scope.
func (m *Manager) HasScope(sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.getLocked(sessionID)
	if err != nil {
		return false, err
	}
	return s.Scope() != nil, nil
}

// GetScope returns the session's bound scope, or KindNotInitialized if none
// has been created yet.
func (m *Manager) GetScope(sessionID string) (*model.Scope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.getLocked(sessionID)
	if err != nil {
		return nil, err
	}
	if s.Scope() == nil {
		return nil, bperr.New(bperr.KindNotInitialized, "session %s has no scope yet", sessionID)
	}
	return s.Scope(), nil
}

// Terminate transitions a session to Terminated, drops its scope, and
// unlinks it from the active-session index. A session's id is never
// reused after this point.
func (m *Manager) Terminate(sessionID string, exitKind model.ExitKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.getLocked(sessionID)
	if err != nil {
		return err
	}
	s.State = model.SessionTerminated
	s.SetScope(nil)
	s.LastExitKind = exitKind

	key := activeKey(s.PrincipalID, s.EnvironmentID)
	if m.active[key] == sessionID {
		delete(m.active, key)
	}
	return nil
}

// List returns a snapshot of every session this manager has ever created,
// including terminated ones, for inspection commands.
func (m *Manager) List() []model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}

// Get returns a session by id, failing with SessionGone for anything
// terminated or unknown — unknown ids are reported the same way as
// terminated ones, since this host never hands out an id it has not
// itself minted.
func (m *Manager) Get(sessionID string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(sessionID)
}

func (m *Manager) getLocked(sessionID string) (*model.Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok || s.State == model.SessionTerminated {
		return nil, bperr.New(bperr.KindSessionGone, "session %s is gone", sessionID)
	}
	return s, nil
}

// Sweep terminates every Active session idle longer than maxIdle, returning
// the ids it terminated. Invoked on demand by a caller, or periodically by
// StartScheduledSweep — never implicitly on any other session operation.
func (m *Manager) Sweep(maxIdle time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var swept []string
	for id, s := range m.sessions {
		if s.State != model.SessionActive {
			continue
		}
		if now.Sub(s.LastActivity) < maxIdle {
			continue
		}
		s.State = model.SessionTerminated
		s.SetScope(nil)
		s.LastExitKind = model.ExitCompleted
		key := activeKey(s.PrincipalID, s.EnvironmentID)
		if m.active[key] == id {
			delete(m.active, key)
		}
		swept = append(swept, id)
	}
	return swept
}

// StartScheduledSweep registers a cron schedule that calls Sweep(maxIdle)
// on the given expression. This is opt-in: nothing in the manager invokes
// it unless the deployer calls this method explicitly. Idle sessions are
// never reclaimed on their own.
func (m *Manager) StartScheduledSweep(cronExpr string, maxIdle time.Duration) error {
	m.mu.Lock()
	if m.cronSched != nil {
		m.cronSched.Stop()
	}
	sched := cron.New()
	m.cronSched = sched
	m.mu.Unlock()

	_, err := sched.AddFunc(cronExpr, func() {
		swept := m.Sweep(maxIdle)
		if len(swept) > 0 {
			m.log.Logf("swept %d idle sessions", len(swept))
		}
	})
	if err != nil {
		return bperr.Wrap(bperr.KindInternal, err, "parsing cron expression %q", cronExpr)
	}
	sched.Start()
	return nil
}

// StopScheduledSweep stops the cron schedule started by StartScheduledSweep,
// if any is running.
func (m *Manager) StopScheduledSweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cronSched != nil {
		m.cronSched.Stop()
		m.cronSched = nil
	}
}
