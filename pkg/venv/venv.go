// Package venv creates, clones, and removes virtual environments layered
// over a base interpreter.
package venv

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/beep-python/host/internal/bperr"
	"github.com/beep-python/host/internal/execshim"
	"github.com/beep-python/host/pkg/model"
)

// Manager creates, clones, and deletes virtual environments.
type Manager struct {
	// inUse reports whether any Active session currently references path,
	// consulted before Delete proceeds. Wired to the session manager by the
	// bootstrap orchestrator.
	inUse func(path string) bool
}

// New builds a Manager. inUse may be nil, in which case Delete never
// refuses on the grounds of active sessions (used for venvs the session
// manager itself doesn't track, e.g. in isolated tests).
func New(inUse func(path string) bool) *Manager {
	if inUse == nil {
		inUse = func(string) bool { return false }
	}
	return &Manager{inUse: inUse}
}

// Create invokes the base runtime's venv module against path and blocks
// until it exits.
func (m *Manager) Create(ctx context.Context, baseRuntime model.PythonRuntime, path string) error {
	if _, err := os.Stat(path); err == nil {
		return bperr.New(bperr.KindAlreadyExists, "a directory already exists at %s", path)
	}

	python := baseRuntime.ExecutablePath(isWindows())
	if _, err := os.Stat(python); err != nil {
		return bperr.New(bperr.KindBaseRuntimeMissing, "base runtime executable not found at %s", python)
	}

	result, err := execshim.Run(ctx, []string{python, "-m", "venv", path}, execshim.Options{})
	if err != nil {
		os.RemoveAll(path)
		return bperr.Wrap(bperr.KindCreateFailed, err, "creating venv at %s: %s", path, combinedOutput(result))
	}
	return nil
}

// Clone copies an existing venv's files to dst and rewrites the shebang
// lines and activation scripts so they point at the new prefix.
func (m *Manager) Clone(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return bperr.New(bperr.KindAlreadyExists, "a directory already exists at %s", dst)
	}
	if _, err := os.Stat(src); err != nil {
		return bperr.New(bperr.KindBaseRuntimeMissing, "source venv not found at %s", src)
	}

	if err := copyTree(src, dst); err != nil {
		os.RemoveAll(dst)
		return bperr.Wrap(bperr.KindCreateFailed, err, "cloning venv from %s to %s", src, dst)
	}

	if err := rewritePrefixReferences(dst, src, dst); err != nil {
		os.RemoveAll(dst)
		return bperr.Wrap(bperr.KindCreateFailed, err, "rewriting prefix references in %s", dst)
	}
	return nil
}

// Delete removes the venv at path, refusing if any Active session still
// references it.
func (m *Manager) Delete(path string) error {
	if m.inUse(path) {
		return bperr.New(bperr.KindInUse, "venv %s has active sessions", path)
	}
	if err := os.RemoveAll(path); err != nil {
		return bperr.Wrap(bperr.KindInternal, err, "removing venv %s", path)
	}
	return nil
}

// Resolve returns the interpreter executable path for a venv root,
// OS-aware: Scripts\python.exe on Windows, bin/python elsewhere.
func Resolve(venvPath string) string {
	if isWindows() {
		return filepath.Join(venvPath, "Scripts", "python.exe")
	}
	return filepath.Join(venvPath, "bin", "python")
}

func isWindows() bool {
	return os.PathSeparator == '\\'
}

func combinedOutput(r *execshim.Result) string {
	if r == nil {
		return ""
	}
	return r.Combined
}

// copyTree recursively copies src into dst, preserving file modes and
// symlinks (venvs on POSIX commonly symlink their interpreter).
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(linkTarget, target)
		}
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode())
		if err != nil {
			return err
		}
		defer out.Close()

		_, err = io.Copy(out, in)
		return err
	})
}

// rewritePrefixReferences walks the cloned tree and replaces any occurrence
// of the old venv's absolute path with the new one inside text files
// (activation scripts, pyvenv.cfg, shebang lines), mirroring what
// `python -m venv --upgrade` does when relocating an environment.
func rewritePrefixReferences(root, oldPrefix, newPrefix string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || info.Mode()&os.ModeSymlink != 0 {
			return err
		}
		if !looksLikeTextFile(path) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !strings.Contains(string(data), oldPrefix) {
			return nil
		}
		rewritten := strings.ReplaceAll(string(data), oldPrefix, newPrefix)
		return os.WriteFile(path, []byte(rewritten), info.Mode())
	})
}

// looksLikeTextFile restricts rewriting to the small set of files a venv
// actually embeds its own path into, avoiding corrupting compiled
// extensions or bytecode caches.
func looksLikeTextFile(path string) bool {
	base := filepath.Base(path)
	ext := filepath.Ext(path)
	switch {
	case base == "pyvenv.cfg":
		return true
	case ext == "" && strings.Contains(filepath.ToSlash(path), "/bin/"):
		return true // activate, activate.csh, activate.fish, pip, etc.
	case ext == ".cfg" || ext == ".pth":
		return true
	default:
		return false
	}
}
