// Package progress defines the progress-report shapes emitted by the
// provisioner, package manager, and bootstrap orchestrator, plus a terminal
// renderer for the CLI built on mpb.
package progress

import (
	"fmt"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Phase names the provisioner's five install phases.
type Phase string

// Provisioner phases.
const (
	PhaseDownload      Phase = "Download"
	PhaseExtraction    Phase = "Extraction"
	PhaseConfiguration Phase = "Configuration"
	PhasePipInstall    Phase = "PipInstallation"
	PhaseVerification  Phase = "Verification"
)

// Stage names the bootstrap orchestrator's stages.
type Stage string

// Bootstrap stages.
const (
	StageInitializing         Stage = "Initializing"
	StageInitializingRegistry Stage = "InitializingRegistry"
	StageLoadingProfiles      Stage = "LoadingProfiles"
	StageCheckingRuntime      Stage = "CheckingRuntime"
	StageProvisioningPython   Stage = "ProvisioningPython"
	StageRegisteringRuntime   Stage = "RegisteringRuntime"
	StageCreatingVirtualEnv   Stage = "CreatingVirtualEnv"
	StageInstallingPackages   Stage = "InstallingPackages"
	StageVerifying            Stage = "Verifying"
	StageComplete             Stage = "Complete"
	StageFailed               Stage = "Failed"
)

// Report is one progress update. Percent is monotonically increasing within
// a single operation, 0-100.
type Report struct {
	Phase   Phase
	Stage   Stage
	Percent int
	Message string
}

// PackageReport is the per-package progress shape installProfiles emits.
type PackageReport struct {
	Current     int
	Total       int
	PackageName string
}

// Func is the callback signature every long-running operation accepts. A nil
// Func is always a valid no-op argument.
type Func func(Report)

// PackageFunc is the callback signature for per-package progress.
type PackageFunc func(PackageReport)

// Sink forwards Report callbacks with a monotonic floor, so a percentage
// stream composed from several sub-phases (e.g. byte-weighted download
// progress feeding into the provisioner's overall percentage) never
// regresses.
type Sink struct {
	fn      Func
	highest int
}

// NewSink wraps fn, or a no-op if fn is nil.
func NewSink(fn Func) *Sink {
	if fn == nil {
		fn = func(Report) {}
	}
	return &Sink{fn: fn}
}

// Emit reports r, clamping Percent so it never moves backwards.
func (s *Sink) Emit(r Report) {
	if r.Percent < s.highest {
		r.Percent = s.highest
	}
	s.highest = r.Percent
	s.fn(r)
}

// TerminalRenderer renders a stream of Reports as an mpb progress bar for
// CLI commands.
type TerminalRenderer struct {
	progress *mpb.Progress
	bar      *mpb.Bar
}

// NewTerminalRenderer creates a renderer with a single determinate bar
// tracking 0-100%, labeled with title.
func NewTerminalRenderer(title string) *TerminalRenderer {
	p := mpb.New(mpb.WithWidth(40))
	bar := p.AddBar(100,
		mpb.PrependDecorators(
			decor.Name(title, decor.WC{W: len(title) + 1, C: decor.DidentRight}),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)
	return &TerminalRenderer{progress: p, bar: bar}
}

// Func returns a progress.Func suitable for passing to a long-running
// operation; it advances the underlying bar by each report's delta.
func (t *TerminalRenderer) Func() Func {
	last := 0
	return func(r Report) {
		delta := r.Percent - last
		if delta < 0 {
			delta = 0
		}
		last = r.Percent
		t.bar.IncrBy(delta)
	}
}

// Wait blocks until the underlying bar completes rendering.
func (t *TerminalRenderer) Wait() {
	t.progress.Wait()
}

// Describe formats a Report for plain-text logging, used where no terminal
// is attached (e.g. non-interactive CLI invocations, server-side logs).
func Describe(r Report) string {
	if r.Stage != "" {
		return fmt.Sprintf("[%s] %d%% %s", r.Stage, r.Percent, r.Message)
	}
	return fmt.Sprintf("[%s] %d%% %s", r.Phase, r.Percent, r.Message)
}
