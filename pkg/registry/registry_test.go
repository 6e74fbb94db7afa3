package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/beep-python/host/internal/home"
	"github.com/beep-python/host/pkg/model"
)

func newTestRegistry(t *testing.T) (*Registry, home.Layout) {
	t.Helper()
	layout := home.New(t.TempDir())
	return New(layout, nil), layout
}

func TestRegisterManagedThenGetRoundTrips(t *testing.T) {
	r, _ := newTestRegistry(t)

	id, path, err := r.RegisterManaged("embedded-3.11", model.OriginEmbedded)
	if err != nil {
		t.Fatalf("RegisterManaged() error = %v", err)
	}
	if id == "" || path == "" {
		t.Fatal("RegisterManaged() returned empty id or path")
	}

	rt, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rt.State != model.RuntimeNotInitialized {
		t.Errorf("State = %v, want NotInitialized", rt.State)
	}
	if !rt.IsManaged {
		t.Error("IsManaged = false, want true")
	}
}

func TestRegisterManagedRejectsDuplicatePath(t *testing.T) {
	r, _ := newTestRegistry(t)

	if _, _, err := r.RegisterManaged("embedded", model.OriginEmbedded); err != nil {
		t.Fatalf("first RegisterManaged() error = %v", err)
	}
	if _, _, err := r.RegisterManaged("embedded-again", model.OriginEmbedded); err == nil {
		t.Fatal("second RegisterManaged() error = nil, want AlreadyExists")
	}
}

func TestSetDefaultRequiresExistingRuntime(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.SetDefault("does-not-exist"); err == nil {
		t.Fatal("SetDefault() error = nil, want error for unknown id")
	}
}

func TestDeleteRefusesUnmanagedRuntime(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.doc.Runtimes = append(r.doc.Runtimes, model.PythonRuntime{ID: "sys-1", IsManaged: false})

	if err := r.Delete("sys-1"); err == nil {
		t.Fatal("Delete() error = nil, want refusal for unmanaged runtime")
	}
}

func TestDeletePromotesNewDefaultWhenDefaultIsRemoved(t *testing.T) {
	r, _ := newTestRegistry(t)

	id1, _, _ := r.RegisterManaged("one", model.OriginEmbedded)
	id2, _, err := r.RegisterManaged("two", model.OriginVirtualEnv)
	if err != nil {
		t.Fatalf("RegisterManaged(two) error = %v", err)
	}
	if err := r.SetDefault(id1); err != nil {
		t.Fatalf("SetDefault() error = %v", err)
	}

	if err := r.Delete(id1); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	def, err := r.GetDefault()
	if err != nil {
		t.Fatalf("GetDefault() error = %v", err)
	}
	if def.ID != id2 {
		t.Errorf("GetDefault().ID = %q, want promoted id %q", def.ID, id2)
	}
}

func TestUpdateMutatesAndPersists(t *testing.T) {
	r, layout := newTestRegistry(t)
	id, _, err := r.RegisterManaged("one", model.OriginEmbedded)
	if err != nil {
		t.Fatalf("RegisterManaged() error = %v", err)
	}

	if err := r.Update(id, func(rt *model.PythonRuntime) { rt.State = model.RuntimeReady }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	data, err := os.ReadFile(layout.RuntimesDocument())
	if err != nil {
		t.Fatalf("reading persisted document: %v", err)
	}
	var doc model.RegistryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshalling persisted document: %v", err)
	}
	if len(doc.Runtimes) != 1 || doc.Runtimes[0].State != model.RuntimeReady {
		t.Errorf("persisted document does not reflect update: %+v", doc)
	}
}

func TestInitializeIsIdempotentOnExistingDocument(t *testing.T) {
	r, layout := newTestRegistry(t)
	if _, _, err := r.RegisterManaged("one", model.OriginEmbedded); err != nil {
		t.Fatalf("RegisterManaged() error = %v", err)
	}

	r2 := New(layout, nil)
	if err := r2.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if len(r2.List()) != 1 {
		t.Errorf("List() after Initialize = %d runtimes, want 1 (loaded from disk, not rediscovered)", len(r2.List()))
	}
}

func TestDiscoverUpsertsByPathPreservingID(t *testing.T) {
	r, _ := newTestRegistry(t)
	existingID := "fixed-id"
	existingPath := filepath.Join(t.TempDir())
	r.doc.Runtimes = append(r.doc.Runtimes, model.PythonRuntime{
		ID:     existingID,
		Path:   existingPath,
		Origin: model.OriginSystem,
	})

	// Discover() probes the real machine; we only assert the pre-seeded
	// record survives unchanged by id, since the discovered set is
	// environment-dependent.
	if _, err := r.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	rt, err := r.Get(existingID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rt.Path != existingPath {
		t.Errorf("Path = %q, want preserved %q", rt.Path, existingPath)
	}
}
