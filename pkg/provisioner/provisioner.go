// Package provisioner produces a Ready embedded Python runtime at a
// configured install path: downloading the distribution, unpacking it,
// enabling site-packages, bootstrapping pip, and verifying the result.
package provisioner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/beep-python/host/internal/bperr"
	"github.com/beep-python/host/internal/bplog"
	"github.com/beep-python/host/internal/execshim"
	"github.com/beep-python/host/internal/fetch"
	"github.com/beep-python/host/internal/home"
	"github.com/beep-python/host/pkg/model"
	"github.com/beep-python/host/pkg/progress"
)

// downloadURLTemplate is the embedded distribution's canonical source. A
// var, not a const, so tests can point it at a local server.
var downloadURLTemplate = "https://www.python.org/ftp/python/%s/python-%s-embed-amd64.zip"

// bootstrapScriptURL is the canonical pip bootstrap script.
var bootstrapScriptURL = "https://bootstrap.pypa.io/get-pip.py"

// Options configures one ensure call.
type Options struct {
	Version      string
	InstallPath  string
	UpgradeSeeds bool // upgrade pip, setuptools, wheel after bootstrap
}

// Provisioner drives the five-phase install sequence.
type Provisioner struct {
	log *bplog.Logger

	// verify is the install-path probe Ensure consults; it is a field
	// rather than a direct call to the Verify method so tests can stub out
	// the need for a real interpreter on disk.
	verify func(string) bool
}

// New builds a Provisioner. log may be nil, in which case a discard logger
// is used.
func New(log *bplog.Logger) *Provisioner {
	if log == nil {
		log = bplog.Discard()
	}
	p := &Provisioner{log: log}
	p.verify = p.Verify
	return p
}

// Ensure produces a Ready runtime at opts.InstallPath, downloading and
// configuring it if it is not already verified. Idempotent: a runtime that
// already verifies is returned immediately without touching the network.
func (p *Provisioner) Ensure(ctx context.Context, opts Options, report progress.Func) (*model.PythonRuntime, error) {
	sink := progress.NewSink(report)

	if p.verify(opts.InstallPath) {
		sink.Emit(progress.Report{Phase: progress.PhaseVerification, Percent: 100, Message: "already installed"})
		return p.describe(opts), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, bperr.New(bperr.KindCancelled, "ensure cancelled before starting")
	}

	if err := p.downloadAndExtract(ctx, opts, sink); err != nil {
		p.cleanup(opts.InstallPath)
		return nil, err
	}

	if err := checkpoint(ctx); err != nil {
		p.cleanup(opts.InstallPath)
		return nil, err
	}

	sink.Emit(progress.Report{Phase: progress.PhaseConfiguration, Percent: 45, Message: "enabling site-packages"})
	if err := p.enableSitePackages(opts.InstallPath); err != nil {
		p.cleanup(opts.InstallPath)
		return nil, bperr.Wrap(bperr.KindConfigurationFailed, err, "enabling site-packages under %s", opts.InstallPath)
	}
	sink.Emit(progress.Report{Phase: progress.PhaseConfiguration, Percent: 60})

	if err := checkpoint(ctx); err != nil {
		p.cleanup(opts.InstallPath)
		return nil, err
	}

	if err := p.SetupPip(ctx, opts.InstallPath); err != nil {
		p.cleanup(opts.InstallPath)
		return nil, err
	}
	sink.Emit(progress.Report{Phase: progress.PhasePipInstall, Percent: 85, Message: "pip bootstrapped"})

	if opts.UpgradeSeeds {
		if err := p.upgradeSeeds(ctx, opts.InstallPath); err != nil {
			p.cleanup(opts.InstallPath)
			return nil, err
		}
	}
	sink.Emit(progress.Report{Phase: progress.PhasePipInstall, Percent: 90})

	if err := checkpoint(ctx); err != nil {
		p.cleanup(opts.InstallPath)
		return nil, err
	}

	if !p.verify(opts.InstallPath) {
		p.cleanup(opts.InstallPath)
		return nil, bperr.New(bperr.KindVerificationFailed, "verification failed for %s after install", opts.InstallPath)
	}
	sink.Emit(progress.Report{Phase: progress.PhaseVerification, Percent: 100, Message: "verified"})

	return p.describe(opts), nil
}

func (p *Provisioner) downloadAndExtract(ctx context.Context, opts Options, sink *progress.Sink) error {
	url := fmt.Sprintf(downloadURLTemplate, opts.Version, opts.Version)

	tmpZip := filepath.Join(os.TempDir(), fmt.Sprintf("beep-python-%s.zip", opts.Version))
	defer os.Remove(tmpZip)

	downloadProgress := func(done, total int64) {
		pct := 0
		if total > 0 {
			pct = int(float64(done) / float64(total) * 40.0)
		}
		sink.Emit(progress.Report{Phase: progress.PhaseDownload, Percent: pct})
	}

	p.log.Logf("downloading embedded Python %s from %s", opts.Version, url)
	if err := fetch.File(ctx, url, tmpZip, downloadProgress); err != nil {
		return err
	}
	sink.Emit(progress.Report{Phase: progress.PhaseDownload, Percent: 40, Message: "downloaded"})

	if err := checkpoint(ctx); err != nil {
		return err
	}

	sink.Emit(progress.Report{Phase: progress.PhaseExtraction, Percent: 40, Message: "extracting"})
	if err := os.MkdirAll(opts.InstallPath, 0o755); err != nil {
		return bperr.Wrap(bperr.KindExtractFailed, err, "creating install path %s", opts.InstallPath)
	}
	if err := fetch.ExtractZip(tmpZip, opts.InstallPath); err != nil {
		return err
	}
	sink.Emit(progress.Report{Phase: progress.PhaseExtraction, Percent: 45, Message: "extracted"})
	return nil
}

// pthPattern matches the distribution's generated path-config file, e.g.
// python311._pth.
var pthPattern = regexp.MustCompile(`^python\d+\._pth$`)

func (p *Provisioner) enableSitePackages(installPath string) error {
	entries, err := os.ReadDir(installPath)
	if err != nil {
		return err
	}
	var pthPath string
	for _, e := range entries {
		if !e.IsDir() && pthPattern.MatchString(e.Name()) {
			pthPath = filepath.Join(installPath, e.Name())
			break
		}
	}
	if pthPath == "" {
		return fmt.Errorf("no python*._pth file found under %s", installPath)
	}

	data, err := os.ReadFile(pthPath)
	if err != nil {
		return err
	}

	lines := strings.Split(string(data), "\n")
	hasLib := false
	hasSitePackages := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "#import site" {
			lines[i] = "import site"
		}
		if trimmed == "Lib" {
			hasLib = true
		}
		if trimmed == "Lib/site-packages" {
			hasSitePackages = true
		}
	}
	if !hasLib {
		lines = append(lines, "Lib")
	}
	if !hasSitePackages {
		lines = append(lines, "Lib/site-packages")
	}

	return os.WriteFile(pthPath, []byte(strings.Join(lines, "\n")), 0o644)
}

// SetupPip bootstraps pip into an already-extracted, site-enabled install.
// Exposed independently so callers can repair a broken pip installation
// without redownloading the interpreter.
func (p *Provisioner) SetupPip(ctx context.Context, installPath string) error {
	scriptPath := filepath.Join(os.TempDir(), "get-pip.py")
	defer os.Remove(scriptPath)

	if err := fetch.File(ctx, bootstrapScriptURL, scriptPath, nil); err != nil {
		return bperr.Wrap(bperr.KindPipBootstrapFailed, err, "fetching pip bootstrap script")
	}

	python := pythonExecutable(installPath)
	result, err := execshim.Run(ctx, []string{python, scriptPath, "--no-warn-script-location"}, execshim.Options{})
	if err != nil {
		return bperr.Wrap(bperr.KindPipBootstrapFailed, err, "bootstrap script failed: %s", describeResult(result))
	}
	return nil
}

func (p *Provisioner) upgradeSeeds(ctx context.Context, installPath string) error {
	python := pythonExecutable(installPath)
	args := []string{python, "-m", "pip", "install", "--upgrade", "pip", "setuptools", "wheel"}
	if _, err := execshim.Run(ctx, args, execshim.Options{}); err != nil {
		return bperr.Wrap(bperr.KindPipBootstrapFailed, err, "upgrading seed packages")
	}
	return nil
}

// Verify reports whether path holds a working runtime: the executable
// exists, a probe exec prints, and pip is importable.
func (p *Provisioner) Verify(installPath string) bool {
	python := pythonExecutable(installPath)
	if _, err := os.Stat(python); err != nil {
		return false
	}

	result, err := execshim.Run(context.Background(), []string{python, "-c", "print('ok')"}, execshim.Options{})
	if err != nil || result == nil || strings.TrimSpace(result.Stdout) != "ok" {
		return false
	}

	result, err = execshim.Run(context.Background(), []string{python, "-c", "import pip"}, execshim.Options{})
	return err == nil && result != nil && result.ExitCode == 0
}

func (p *Provisioner) cleanup(installPath string) {
	if installPath == "" {
		return
	}
	if err := os.RemoveAll(installPath); err != nil {
		p.log.Warnf("cleanup of %s failed: %v", installPath, err)
	}
}

func (p *Provisioner) describe(opts Options) *model.PythonRuntime {
	return &model.PythonRuntime{
		Version:   opts.Version,
		Path:      opts.InstallPath,
		Origin:    model.OriginEmbedded,
		State:     model.RuntimeReady,
		IsManaged: true,
	}
}

func pythonExecutable(installPath string) string {
	if os.PathSeparator == '\\' {
		return filepath.Join(installPath, "python.exe")
	}
	return filepath.Join(installPath, "bin", "python3")
}

func describeResult(r *execshim.Result) string {
	if r == nil {
		return ""
	}
	return r.Combined
}

func checkpoint(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return bperr.New(bperr.KindCancelled, "operation cancelled")
	default:
		return nil
	}
}

// DefaultInstallPath is the well-known embedded runtime location under a
// beep-python home directory.
func DefaultInstallPath(layout home.Layout) string {
	return layout.EmbeddedRoot()
}
