package atomicio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/beep-python/host/internal/bplog"
)

type doc struct {
	Version string `json:"version"`
	Count   int    `json:"count"`
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "doc.json")
	want := doc{Version: "1.0", Count: 3}

	if err := WriteJSON(path, want); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var got doc
	exists, err := ReadJSON(bplog.Discard(), path, &got)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if !exists {
		t.Fatalf("ReadJSON() exists = false, want true")
	}
	if got != want {
		t.Errorf("ReadJSON() = %+v, want %+v", got, want)
	}
}

func TestReadMissingFileIsNotAnError(t *testing.T) {
	var got doc
	exists, err := ReadJSON(bplog.Discard(), filepath.Join(t.TempDir(), "absent.json"), &got)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v, want nil", err)
	}
	if exists {
		t.Errorf("ReadJSON() exists = true, want false")
	}
}

func TestReadCorruptFileIsTreatedAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	var got doc
	exists, err := ReadJSON(bplog.Discard(), path, &got)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v, want nil", err)
	}
	if exists {
		t.Errorf("ReadJSON() exists = true, want false for corrupt content")
	}
}

func TestWriteJSONLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	if err := WriteJSON(path, doc{Version: "1.0"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("directory has %d entries, want 1 (no leftover temp file): %v", len(entries), entries)
	}
}
