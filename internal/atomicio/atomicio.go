// Package atomicio persists JSON documents to disk with temp-file-plus-rename
// semantics so a crash mid-write never leaves a half-written registry or
// profile document behind, and reads tolerate a corrupt file by treating it
// as absent rather than propagating a fatal error.
package atomicio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/beep-python/host/internal/bperr"
	"github.com/beep-python/host/internal/bplog"
)

// WriteJSON marshals v as indented JSON and writes it to path atomically: the
// content lands in a sibling temp file first, which is then renamed over the
// destination so concurrent readers only ever see a complete document.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return bperr.Wrap(bperr.KindInternal, err, "marshaling %s", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return bperr.Wrap(bperr.KindInternal, err, "creating directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return bperr.Wrap(bperr.KindInternal, err, "creating temp file for %s", path)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return bperr.Wrap(bperr.KindInternal, err, "writing %s", tmpPath)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return bperr.Wrap(bperr.KindInternal, err, "syncing %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		return bperr.Wrap(bperr.KindInternal, err, "closing %s", tmpPath)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return bperr.Wrap(bperr.KindInternal, err, "renaming %s to %s", tmpPath, path)
	}
	return nil
}

// ReadJSON unmarshals the document at path into v. A missing file is
// reported via the returned bool (exists=false, err=nil) so callers can
// initialize an empty document on first run. A file that exists but fails to
// parse is logged and treated the same as missing — corruption must never
// crash the host, per the persistence fault-tolerance requirement.
func ReadJSON(log *bplog.Logger, path string, v any) (exists bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, bperr.Wrap(bperr.KindInternal, err, "reading %s", path)
	}

	if err := json.Unmarshal(data, v); err != nil {
		if log != nil {
			log.Warnf("%s is corrupt, treating as absent: %v", path, err)
		}
		return false, nil
	}
	return true, nil
}

// FormatPath is a small helper kept alongside the persistence code so error
// messages consistently name both the logical document and its path.
func FormatPath(name, path string) string {
	return fmt.Sprintf("%s (%s)", name, path)
}
