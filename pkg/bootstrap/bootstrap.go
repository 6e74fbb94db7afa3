// Package bootstrap implements the single entry point that brings a
// complete Python environment up from nothing: embedded interpreter, venv,
// and package profiles, reporting monotonic staged progress throughout.
package bootstrap

import (
	"context"
	"os"
	"time"

	"github.com/beep-python/host/internal/bperr"
	"github.com/beep-python/host/internal/bplog"
	"github.com/beep-python/host/internal/home"
	"github.com/beep-python/host/pkg/model"
	"github.com/beep-python/host/pkg/packages"
	"github.com/beep-python/host/pkg/progress"
	"github.com/beep-python/host/pkg/provisioner"
	"github.com/beep-python/host/pkg/registry"
	"github.com/beep-python/host/pkg/venv"
)

// Options configures one EnsurePythonEnvironment call.
type Options struct {
	EnsureEmbeddedPython     bool
	EmbeddedPythonPath       string
	EmbeddedPythonVersion    string
	CreateVirtualEnvironment bool
	VirtualEnvironmentPath   string
	EnvironmentName          string
	PackageProfiles          []string
	SetAsDefault             bool
}

func (o Options) withDefaults(layout home.Layout) Options {
	if o.EmbeddedPythonPath == "" {
		o.EmbeddedPythonPath = provisioner.DefaultInstallPath(layout)
	}
	if o.EnvironmentName == "" {
		o.EnvironmentName = "default"
	}
	if o.VirtualEnvironmentPath == "" {
		o.VirtualEnvironmentPath = layout.Venv(o.EnvironmentName)
	}
	if o.EmbeddedPythonVersion == "" {
		o.EmbeddedPythonVersion = "3.11.8"
	}
	return o
}

// Result is the outcome of one EnsurePythonEnvironment call.
type Result struct {
	IsSuccessful       bool
	BaseRuntimeID      string
	EnvironmentPath    string
	InstalledProfiles  []string
	ValidationMessages []string
	StartTime          int64
	EndTime            int64
	Options            Options
}

// Orchestrator wires the registry, provisioner, venv manager, and package
// manager into the single EnsurePythonEnvironment entry point.
type Orchestrator struct {
	layout      home.Layout
	log         *bplog.Logger
	reg         *registry.Registry
	provisioner *provisioner.Provisioner
	venvs       *venv.Manager
	profilesDoc func() (map[string][]model.PackageRequirement, error)
}

// New builds an Orchestrator. profilesDoc loads the canonical package
// profile document (JSON or pyproject.toml-sourced); it is called once per
// EnsurePythonEnvironment invocation, during the LoadingProfiles stage.
func New(layout home.Layout, log *bplog.Logger, reg *registry.Registry, venvInUse func(string) bool, profilesDoc func() (map[string][]model.PackageRequirement, error)) *Orchestrator {
	if log == nil {
		log = bplog.Discard()
	}
	return &Orchestrator{
		layout:      layout,
		log:         log,
		reg:         reg,
		provisioner: provisioner.New(log),
		venvs:       venv.New(venvInUse),
		profilesDoc: profilesDoc,
	}
}

// EnsurePythonEnvironment is the single entry point this package exposes.
// It is idempotent: calling it twice with identical options and no external
// mutation performs no downloads and no installs the second time.
func (o *Orchestrator) EnsurePythonEnvironment(ctx context.Context, opts Options, report progress.Func) (Result, error) {
	opts = opts.withDefaults(o.layout)
	sink := progress.NewSink(report)
	result := Result{Options: opts, StartTime: time.Now().UnixMilli()}

	sink.Emit(progress.Report{Stage: progress.StageInitializing, Percent: 0})

	if err := o.layout.EnsureRoot(); err != nil {
		return o.fail(result, sink, err)
	}

	sink.Emit(progress.Report{Stage: progress.StageInitializingRegistry, Percent: 5})
	if err := o.reg.Initialize(ctx); err != nil {
		return o.fail(result, sink, err)
	}

	sink.Emit(progress.Report{Stage: progress.StageLoadingProfiles, Percent: 10})
	var profileDoc map[string][]model.PackageRequirement
	if o.profilesDoc != nil {
		doc, err := o.profilesDoc()
		if err != nil {
			return o.fail(result, sink, err)
		}
		profileDoc = doc
	}

	if err := checkpoint(ctx); err != nil {
		return o.fail(result, sink, err)
	}

	sink.Emit(progress.Report{Stage: progress.StageCheckingRuntime, Percent: 15})
	runtimeID, err := o.ensureRuntime(ctx, opts, sink)
	if err != nil {
		return o.fail(result, sink, err)
	}
	result.BaseRuntimeID = runtimeID

	if opts.SetAsDefault {
		if err := o.reg.SetDefault(runtimeID); err != nil {
			return o.fail(result, sink, err)
		}
	}

	if err := checkpoint(ctx); err != nil {
		return o.fail(result, sink, err)
	}

	if opts.CreateVirtualEnvironment {
		sink.Emit(progress.Report{Stage: progress.StageCreatingVirtualEnv, Percent: 65})
		if err := o.ensureVirtualEnv(ctx, opts, runtimeID); err != nil {
			return o.fail(result, sink, err)
		}
		result.EnvironmentPath = opts.VirtualEnvironmentPath
	}

	if err := checkpoint(ctx); err != nil {
		return o.fail(result, sink, err)
	}

	if len(opts.PackageProfiles) > 0 {
		sink.Emit(progress.Report{Stage: progress.StageInstallingPackages, Percent: 80})
		installed, err := o.installProfiles(ctx, opts, profileDoc)
		if err != nil {
			return o.fail(result, sink, err)
		}
		result.InstalledProfiles = installed
	}

	sink.Emit(progress.Report{Stage: progress.StageVerifying, Percent: 95})
	if opts.EnsureEmbeddedPython && !o.provisioner.Verify(opts.EmbeddedPythonPath) {
		return o.fail(result, sink, bperr.New(bperr.KindVerificationFailed, "final verification failed for %s", opts.EmbeddedPythonPath))
	}

	sink.Emit(progress.Report{Stage: progress.StageComplete, Percent: 100})
	result.IsSuccessful = true
	result.EndTime = time.Now().UnixMilli()
	return result, nil
}

// ensureRuntime reuses an already-registered, already-verified managed
// runtime at the target path; otherwise it registers and provisions one.
func (o *Orchestrator) ensureRuntime(ctx context.Context, opts Options, sink *progress.Sink) (string, error) {
	if !opts.EnsureEmbeddedPython {
		def, err := o.reg.GetDefault()
		if err != nil {
			return "", err
		}
		return def.ID, nil
	}

	for _, rt := range o.reg.List() {
		if rt.Path == opts.EmbeddedPythonPath && rt.IsManaged {
			if rt.State == model.RuntimeReady {
				sink.Emit(progress.Report{Stage: progress.StageProvisioningPython, Percent: 60, Message: "already provisioned, reusing"})
				return rt.ID, nil
			}
		}
	}

	id, _, err := o.reg.RegisterManaged(opts.EnvironmentName+"-embedded", model.OriginEmbedded)
	if err != nil {
		// Registration can fail with AlreadyExists if a prior attempt
		// partially completed; fall back to locating the existing record.
		if !bperr.Is(err, bperr.KindAlreadyExists) {
			return "", err
		}
		for _, rt := range o.reg.List() {
			if rt.Path == opts.EmbeddedPythonPath {
				id = rt.ID
				break
			}
		}
	}

	sink.Emit(progress.Report{Stage: progress.StageProvisioningPython, Percent: 20})
	provisionProgress := func(r progress.Report) {
		// Rescale the provisioner's 0-100 into this stage's 20-60 band.
		pct := 20 + r.Percent*40/100
		sink.Emit(progress.Report{Stage: progress.StageProvisioningPython, Percent: pct, Message: r.Message})
	}

	rt, err := o.provisioner.Ensure(ctx, provisioner.Options{
		Version:     opts.EmbeddedPythonVersion,
		InstallPath: opts.EmbeddedPythonPath,
	}, provisionProgress)
	if err != nil {
		return "", err
	}

	if err := o.reg.Update(id, func(r *model.PythonRuntime) {
		r.State = model.RuntimeReady
		r.Version = rt.Version
		r.Path = rt.Path
	}); err != nil {
		return "", err
	}

	sink.Emit(progress.Report{Stage: progress.StageRegisteringRuntime, Percent: 60})
	return id, nil
}

func (o *Orchestrator) ensureVirtualEnv(ctx context.Context, opts Options, runtimeID string) error {
	rt, err := o.reg.Get(runtimeID)
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(opts.VirtualEnvironmentPath); statErr == nil {
		return nil // already exists, reuse per policy
	}

	return o.venvs.Create(ctx, rt, opts.VirtualEnvironmentPath)
}

func (o *Orchestrator) installProfiles(ctx context.Context, opts Options, profileDoc map[string][]model.PackageRequirement) ([]string, error) {
	pythonPath := venv.Resolve(opts.VirtualEnvironmentPath)
	mgr := packages.New(pythonPath, "")

	_, err := mgr.InstallProfiles(ctx, profileDoc, opts.PackageProfiles, nil)
	if err != nil {
		return nil, err
	}
	return opts.PackageProfiles, nil
}

func (o *Orchestrator) fail(result Result, sink *progress.Sink, err error) (Result, error) {
	sink.Emit(progress.Report{Stage: progress.StageFailed, Percent: 100, Message: err.Error()})
	result.IsSuccessful = false
	result.EndTime = time.Now().UnixMilli()
	result.ValidationMessages = append(result.ValidationMessages, err.Error())
	return result, err
}

func checkpoint(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return bperr.New(bperr.KindCancelled, "bootstrap cancelled")
	default:
		return nil
	}
}
