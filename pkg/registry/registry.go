// Package registry catalogs the Python runtimes known to this host: the
// embedded interpreter the provisioner manages, any system interpreters
// discovered on PATH, and managed venvs. It persists its state as one JSON
// document written atomically (temp file then rename).
package registry

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beep-python/host/internal/atomicio"
	"github.com/beep-python/host/internal/bperr"
	"github.com/beep-python/host/internal/bplog"
	"github.com/beep-python/host/internal/execshim"
	"github.com/beep-python/host/internal/home"
	"github.com/beep-python/host/pkg/model"
)

// Registry is the thread-safe, disk-backed catalog of runtimes.
type Registry struct {
	mu      sync.Mutex
	doc     model.RegistryDocument
	docPath string
	layout  home.Layout
	log     *bplog.Logger
}

// New builds a Registry rooted at layout, unloaded until Initialize runs.
func New(layout home.Layout, log *bplog.Logger) *Registry {
	if log == nil {
		log = bplog.Discard()
	}
	return &Registry{
		docPath: layout.RuntimesDocument(),
		layout:  layout,
		log:     log,
		doc:     model.RegistryDocument{Version: "1.0"},
	}
}

// Initialize loads the registry document, auto-discovering runtimes on the
// machine if the document is empty or absent.
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := atomicio.ReadJSON(r.log, r.docPath, &r.doc)
	if err != nil {
		return bperr.Wrap(bperr.KindInternal, err, "reading registry document %s", r.docPath)
	}
	if r.doc.Version == "" {
		r.doc.Version = "1.0"
	}

	if !exists || len(r.doc.Runtimes) == 0 {
		discovered := discoverRuntimes(ctx)
		r.doc.Runtimes = discovered
		if r.doc.DefaultRuntimeID == "" && len(discovered) > 0 {
			r.doc.DefaultRuntimeID = discovered[0].ID
		}
		return r.persistLocked()
	}
	return nil
}

// List returns a snapshot of every known runtime.
func (r *Registry) List() []model.PythonRuntime {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.PythonRuntime, len(r.doc.Runtimes))
	copy(out, r.doc.Runtimes)
	return out
}

// Get returns the runtime with the given id.
func (r *Registry) Get(id string) (model.PythonRuntime, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rt := range r.doc.Runtimes {
		if rt.ID == id {
			return rt, nil
		}
	}
	return model.PythonRuntime{}, bperr.New(bperr.KindNotInitialized, "no runtime registered with id %q", id)
}

// GetDefault returns the default runtime, or KindNotInitialized if none is
// set.
func (r *Registry) GetDefault() (model.PythonRuntime, error) {
	r.mu.Lock()
	defaultID := r.doc.DefaultRuntimeID
	r.mu.Unlock()
	if defaultID == "" {
		return model.PythonRuntime{}, bperr.New(bperr.KindNotInitialized, "no default runtime is set")
	}
	return r.Get(defaultID)
}

// SetDefault changes the default runtime, failing if id is not registered.
func (r *Registry) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasLocked(id) {
		return bperr.New(bperr.KindNotInitialized, "cannot set default: no runtime registered with id %q", id)
	}
	r.doc.DefaultRuntimeID = id
	return r.persistLocked()
}

// RegisterManaged allocates a new managed runtime record in NotInitialized
// state and returns its id. The caller (provisioner or venv manager) is
// responsible for actually producing the files at the returned path.
func (r *Registry) RegisterManaged(name string, origin model.RuntimeOrigin) (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	var path string
	switch origin {
	case model.OriginEmbedded:
		path = r.layout.EmbeddedRoot()
	default:
		path = r.layout.Venv(name)
	}

	for _, rt := range r.doc.Runtimes {
		if rt.Path == path {
			return "", "", bperr.New(bperr.KindAlreadyExists, "a runtime is already registered at path %s", path)
		}
	}

	r.doc.Runtimes = append(r.doc.Runtimes, model.PythonRuntime{
		ID:        id,
		Name:      name,
		Origin:    origin,
		Path:      path,
		State:     model.RuntimeNotInitialized,
		IsManaged: true,
		CreatedAt: time.Now(),
	})
	if err := r.persistLocked(); err != nil {
		return "", "", err
	}
	return id, path, nil
}

// Delete removes a managed runtime's record. Unmanaged (discovered system)
// runtimes cannot be deleted through the registry.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, rt := range r.doc.Runtimes {
		if rt.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return bperr.New(bperr.KindNotInitialized, "no runtime registered with id %q", id)
	}
	if !r.doc.Runtimes[idx].IsManaged {
		return bperr.New(bperr.KindInternal, "runtime %q is not managed and cannot be deleted", id)
	}

	wasDefault := r.doc.DefaultRuntimeID == id
	r.doc.Runtimes = append(r.doc.Runtimes[:idx], r.doc.Runtimes[idx+1:]...)

	if wasDefault {
		r.doc.DefaultRuntimeID = ""
		if len(r.doc.Runtimes) > 0 {
			r.doc.DefaultRuntimeID = r.doc.Runtimes[0].ID
		}
	}
	return r.persistLocked()
}

// Update thread-safely mutates the runtime with the given id via mutator,
// then persists the document.
func (r *Registry) Update(id string, mutator func(*model.PythonRuntime)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.doc.Runtimes {
		if r.doc.Runtimes[i].ID == id {
			mutator(&r.doc.Runtimes[i])
			return r.persistLocked()
		}
	}
	return bperr.New(bperr.KindNotInitialized, "no runtime registered with id %q", id)
}

// Discover re-probes the machine for system Pythons, upserting by path so
// existing ids are preserved; a matched record's name, version and state
// are refreshed from the probe.
func (r *Registry) Discover(ctx context.Context) ([]model.PythonRuntime, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	found := discoverRuntimes(ctx)
	byPath := make(map[string]int, len(r.doc.Runtimes))
	for i, rt := range r.doc.Runtimes {
		byPath[rt.Path] = i
	}

	for _, f := range found {
		if i, ok := byPath[f.Path]; ok {
			r.doc.Runtimes[i].Version = f.Version
			r.doc.Runtimes[i].Name = f.Name
			r.doc.Runtimes[i].State = f.State
			continue
		}
		r.doc.Runtimes = append(r.doc.Runtimes, f)
	}

	sort.Slice(r.doc.Runtimes, func(i, j int) bool {
		return r.doc.Runtimes[i].Path < r.doc.Runtimes[j].Path
	})

	if err := r.persistLocked(); err != nil {
		return nil, err
	}
	out := make([]model.PythonRuntime, len(r.doc.Runtimes))
	copy(out, r.doc.Runtimes)
	return out, nil
}

// RegisterVirtualEnvironment records a new environment layered over
// baseRuntimeID, failing if that runtime is not registered or name is
// already taken. The environment's id is its name: CLI commands bind
// sessions to environments by name, so id and name must stay interchangeable.
func (r *Registry) RegisterVirtualEnvironment(name, baseRuntimeID, path, createdBy string) (model.VirtualEnvironment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasLocked(baseRuntimeID) {
		return model.VirtualEnvironment{}, bperr.New(bperr.KindBaseRuntimeMissing, "base runtime %q is not registered", baseRuntimeID)
	}
	for _, ve := range r.doc.VirtualEnvironments {
		if ve.ID == name {
			return model.VirtualEnvironment{}, bperr.New(bperr.KindAlreadyExists, "a virtual environment named %q is already registered", name)
		}
	}

	ve := model.VirtualEnvironment{
		ID:            name,
		Name:          name,
		BaseRuntimeID: baseRuntimeID,
		Path:          path,
		CreatedBy:     createdBy,
		IsActive:      true,
	}
	r.doc.VirtualEnvironments = append(r.doc.VirtualEnvironments, ve)
	if err := r.persistLocked(); err != nil {
		return model.VirtualEnvironment{}, err
	}
	return ve, nil
}

// GetVirtualEnvironment returns the environment with the given id.
func (r *Registry) GetVirtualEnvironment(id string) (model.VirtualEnvironment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ve := range r.doc.VirtualEnvironments {
		if ve.ID == id {
			return ve, nil
		}
	}
	return model.VirtualEnvironment{}, bperr.New(bperr.KindNotInitialized, "no virtual environment registered with id %q", id)
}

// ListVirtualEnvironments returns a snapshot of every registered environment.
func (r *Registry) ListVirtualEnvironments() []model.VirtualEnvironment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.VirtualEnvironment, len(r.doc.VirtualEnvironments))
	copy(out, r.doc.VirtualEnvironments)
	return out
}

// DeleteVirtualEnvironment removes an environment's record.
func (r *Registry) DeleteVirtualEnvironment(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, ve := range r.doc.VirtualEnvironments {
		if ve.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return bperr.New(bperr.KindNotInitialized, "no virtual environment registered with id %q", id)
	}
	r.doc.VirtualEnvironments = append(r.doc.VirtualEnvironments[:idx], r.doc.VirtualEnvironments[idx+1:]...)
	return r.persistLocked()
}

// EnvironmentExists reports whether id names a registered environment a
// session can legally bind to: either a tracked VirtualEnvironment, or a
// runtime usable directly with no venv layered over it. This is what backs
// the referential-integrity check session.Manager.GetOrCreate performs
// before minting a session against an envID.
func (r *Registry) EnvironmentExists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ve := range r.doc.VirtualEnvironments {
		if ve.ID == id {
			return true
		}
	}
	return r.hasLocked(id)
}

func (r *Registry) hasLocked(id string) bool {
	for _, rt := range r.doc.Runtimes {
		if rt.ID == id {
			return true
		}
	}
	return false
}

func (r *Registry) persistLocked() error {
	if err := r.layout.EnsureRoot(); err != nil {
		return bperr.Wrap(bperr.KindInternal, err, "creating home directory %s", r.layout.Root())
	}
	if err := atomicio.WriteJSON(r.docPath, &r.doc); err != nil {
		return bperr.Wrap(bperr.KindInternal, err, "persisting registry document %s", r.docPath)
	}
	return nil
}

// candidateExecutables lists well-known system interpreter names probed by
// PATH lookup, plus well-known per-OS install roots.
func candidateExecutables() []string {
	if runtime.GOOS == "windows" {
		return []string{"python.exe", "python3.exe"}
	}
	return []string{"python3", "python"}
}

// wellKnownRoots lists per-OS directories (some as glob patterns) where a
// system Python commonly lives outside PATH, e.g. an unactivated Homebrew
// keg or a Windows per-user install.
func wellKnownRoots() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{`C:\Python3*`, `C:\Program Files\Python3*`}
	case "darwin":
		return []string{"/usr/local/bin", "/opt/homebrew/bin", "/Library/Frameworks/Python.framework/Versions/*/bin"}
	default:
		return []string{"/usr/bin", "/usr/local/bin"}
	}
}

// discoverRuntimes probes PATH plus the well-known per-OS install roots for
// candidate executables and records anything whose --version output is
// non-empty.
func discoverRuntimes(ctx context.Context) []model.PythonRuntime {
	var out []model.PythonRuntime
	seen := map[string]bool{}

	record := func(path, name string) {
		resolved, err := filepath.EvalSymlinks(path)
		if err == nil {
			path = resolved
		}
		if seen[path] {
			return
		}
		seen[path] = true

		version, ok := probeVersion(ctx, path)
		if !ok {
			return
		}
		root := filepath.Dir(path)
		if runtime.GOOS != "windows" {
			root = filepath.Dir(root) // bin/python3 lives under the root
		}
		out = append(out, model.PythonRuntime{
			ID:        uuid.NewString(),
			Name:      name,
			Version:   version,
			Origin:    model.OriginSystem,
			Path:      root,
			State:     model.RuntimeReady,
			IsManaged: false,
			CreatedAt: time.Now(),
		})
	}

	for _, name := range candidateExecutables() {
		if path, err := exec.LookPath(name); err == nil {
			record(path, name)
		}
	}

	for _, root := range wellKnownRoots() {
		dirs, err := filepath.Glob(root)
		if err != nil {
			continue
		}
		for _, dir := range dirs {
			info, err := os.Stat(dir)
			if err != nil || !info.IsDir() {
				continue
			}
			for _, name := range candidateExecutables() {
				candidate := filepath.Join(dir, name)
				if _, err := os.Stat(candidate); err != nil {
					continue
				}
				record(candidate, name)
			}
		}
	}
	return out
}

func probeVersion(ctx context.Context, executablePath string) (string, bool) {
	result, err := execshim.Run(ctx, []string{executablePath, "--version"}, execshim.Options{})
	if err != nil || result == nil {
		return "", false
	}
	out := result.Stdout
	if out == "" {
		out = result.Stderr // some builds print --version to stderr
	}
	if out == "" {
		return "", false
	}
	return out, true
}
