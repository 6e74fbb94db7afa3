// Package packages manages pip/conda packages inside a given environment:
// install, remove, upgrade, and profile-driven batch installs, classifying
// installer subprocess output by scanning it for known success/error
// markers.
package packages

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/Masterminds/semver"

	"github.com/beep-python/host/internal/bperr"
	"github.com/beep-python/host/internal/execshim"
	"github.com/beep-python/host/pkg/model"
	"github.com/beep-python/host/pkg/progress"
)

// Manager installs and inspects packages inside one interpreter's
// environment, serializing installer subprocesses so only one pip/conda
// invocation runs against a given environment at a time.
type Manager struct {
	pythonPath string
	condaPath  string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-env serialization, keyed by interpreter path
}

// New builds a Manager bound to a venv/runtime's python executable and,
// optionally, a conda executable for useConda=true calls.
func New(pythonPath, condaPath string) *Manager {
	return &Manager{
		pythonPath: pythonPath,
		condaPath:  condaPath,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (m *Manager) envLock(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	m.locks[key] = l
	return l
}

// pipSuccessPattern / pipErrorPattern classify pip's final output lines.
var (
	pipSuccessPattern     = regexp.MustCompile(`(?i)successfully installed`)
	pipSatisfiedPattern   = regexp.MustCompile(`(?i)requirement already satisfied`)
	pipErrorPattern       = regexp.MustCompile(`(?i)^ERROR:`)
	pipUninstalledPattern = regexp.MustCompile(`(?i)successfully uninstalled`)

	condaSuccessPattern = regexp.MustCompile(`(?i)^# All requested packages already installed|(?i)done$`)
	condaErrorPattern   = regexp.MustCompile(`(?i)CondaError|PackagesNotFoundError|ResolvePackageNotFound`)
)

// Install installs a package, at an optional version or range constraint
// (e.g. "2.31.0" for an exact pin, ">=1.24,<2.0" for a range), via pip or
// conda.
func (m *Manager) Install(ctx context.Context, name, version string, useConda bool) (model.PackageOperationResult, error) {
	spec := name
	if version != "" {
		if c := constraintOperator(version); c != "" {
			spec = name + version
		} else {
			spec = name + "==" + version
		}
	}
	args := m.installArgs(spec, useConda)
	return m.runClassified(ctx, args, name, useConda)
}

// constraintOperator returns the leading comparison operator of a version
// spec ("", ">=", "<=", "==", "!=", "~=", ">", "<"), or "" if spec names an
// exact version with no operator.
func constraintOperator(spec string) string {
	trimmed := strings.TrimSpace(spec)
	for _, op := range []string{">=", "<=", "==", "!=", "~=", ">", "<"} {
		if strings.HasPrefix(trimmed, op) {
			return op
		}
	}
	return ""
}

// versionSatisfies reports whether name's already-installed version
// satisfies a range constraint in req.VersionSpec (pip's dependency
// specifier syntax is close enough to semver's constraint syntax for the
// common >=, <=, and range-with-comma cases this host needs to short-
// circuit on). The second return value is false whenever no usable
// constraint/version pair could be parsed, so callers fall back to running
// the installer unconditionally.
func (m *Manager) versionSatisfies(ctx context.Context, req model.PackageRequirement) (satisfied, checked bool) {
	if constraintOperator(req.VersionSpec) == "" {
		return false, false
	}
	constraint, err := semver.NewConstraint(strings.ReplaceAll(req.VersionSpec, ",", " "))
	if err != nil {
		return false, false
	}
	installed, err := m.GetVersion(ctx, req.Name, false)
	if err != nil || installed == "" {
		return false, false
	}
	v, err := semver.NewVersion(installed)
	if err != nil {
		return false, false
	}
	return constraint.Check(v), true
}

// Remove uninstalls a package.
func (m *Manager) Remove(ctx context.Context, name string, useConda bool) (model.PackageOperationResult, error) {
	var args []string
	if useConda {
		args = []string{m.condaPath, "remove", "-y", name}
	} else {
		args = []string{m.pythonPath, "-m", "pip", "uninstall", "-y", name}
	}
	return m.runClassified(ctx, args, name, useConda)
}

// Upgrade upgrades a package to its latest version.
func (m *Manager) Upgrade(ctx context.Context, name string, useConda bool) (model.PackageOperationResult, error) {
	var args []string
	if useConda {
		args = []string{m.condaPath, "update", "-y", name}
	} else {
		args = []string{m.pythonPath, "-m", "pip", "install", "--upgrade", name}
	}
	return m.runClassified(ctx, args, name, useConda)
}

// InstallFromRequirementsFile installs every requirement listed in a
// requirements.txt (pip) or environment.yml (conda).
func (m *Manager) InstallFromRequirementsFile(ctx context.Context, path string, useConda bool) (model.PackageOperationResult, error) {
	if _, err := os.Stat(path); err != nil {
		return model.PackageOperationResult{}, bperr.Wrap(bperr.KindPackageInstallFailed, err, "requirements file %s", path)
	}
	var args []string
	if useConda {
		args = []string{m.condaPath, "env", "update", "-f", path}
	} else {
		args = []string{m.pythonPath, "-m", "pip", "install", "-r", path}
	}
	return m.runClassified(ctx, args, path, useConda)
}

func (m *Manager) installArgs(spec string, useConda bool) []string {
	if useConda {
		return []string{m.condaPath, "install", "-y", spec}
	}
	return []string{m.pythonPath, "-m", "pip", "install", spec}
}

// ListInstalled returns every package currently installed.
func (m *Manager) ListInstalled(ctx context.Context, useConda bool) ([]model.PackageRecord, error) {
	var args []string
	if useConda {
		args = []string{m.condaPath, "list"}
	} else {
		args = []string{m.pythonPath, "-m", "pip", "list", "--format=freeze"}
	}
	result, err := execshim.Run(ctx, args, execshim.Options{})
	if err != nil {
		return nil, bperr.Wrap(bperr.KindPackageInstallFailed, err, "listing installed packages")
	}
	return parseFreezeOutput(result.Stdout, useConda), nil
}

// GetVersion returns the installed version of a package, or "" if absent.
func (m *Manager) GetVersion(ctx context.Context, name string, useConda bool) (string, error) {
	records, err := m.ListInstalled(ctx, useConda)
	if err != nil {
		return "", err
	}
	for _, r := range records {
		if strings.EqualFold(r.Name, name) {
			return r.Version, nil
		}
	}
	return "", nil
}

// IsInstalled reports whether a package is present.
func (m *Manager) IsInstalled(ctx context.Context, name string, useConda bool) (bool, error) {
	version, err := m.GetVersion(ctx, name, useConda)
	return version != "", err
}

// Freeze writes the current environment's exact package set to outputPath
// in the tool's native format (pip requirements / conda export).
func (m *Manager) Freeze(ctx context.Context, outputPath string, useConda bool) error {
	var args []string
	if useConda {
		args = []string{m.condaPath, "env", "export"}
	} else {
		args = []string{m.pythonPath, "-m", "pip", "freeze"}
	}
	result, err := execshim.Run(ctx, args, execshim.Options{})
	if err != nil {
		return bperr.Wrap(bperr.KindPackageInstallFailed, err, "freezing environment")
	}
	if err := os.WriteFile(outputPath, []byte(result.Stdout+"\n"), 0o644); err != nil {
		return bperr.Wrap(bperr.KindInternal, err, "writing freeze output to %s", outputPath)
	}
	return nil
}

// InstallProfiles resolves profileNames against profiles, installing every
// requirement in order and reporting per-package progress.
func (m *Manager) InstallProfiles(ctx context.Context, profiles map[string][]model.PackageRequirement, profileNames []string, report progress.PackageFunc) ([]model.PackageOperationResult, error) {
	var reqs []model.PackageRequirement
	for _, name := range profileNames {
		profileReqs, ok := profiles[name]
		if !ok {
			return nil, bperr.New(bperr.KindNotInitialized, "unknown package profile %q", name)
		}
		reqs = append(reqs, profileReqs...)
	}

	results := make([]model.PackageOperationResult, 0, len(reqs))
	for i, req := range reqs {
		if report != nil {
			report(progress.PackageReport{Current: i + 1, Total: len(reqs), PackageName: req.Name})
		}
		if err := checkpoint(ctx); err != nil {
			return results, err
		}

		useConda := req.Source == model.SourceConda
		if !useConda {
			if satisfied, checked := m.versionSatisfies(ctx, req); checked && satisfied {
				results = append(results, model.PackageOperationResult{
					Success: true,
					Message: fmt.Sprintf("%s already satisfies %s", req.Name, req.VersionSpec),
					Package: req.Name,
				})
				continue
			}
		}

		result, err := m.Install(ctx, req.Name, req.VersionSpec, useConda)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func checkpoint(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return bperr.New(bperr.KindCancelled, "package installation cancelled")
	default:
		return nil
	}
}

// runClassified runs args, serialized per-environment, and classifies the
// outcome by streaming output lines through the tool-specific regexes.
func (m *Manager) runClassified(ctx context.Context, args []string, pkg string, useConda bool) (model.PackageOperationResult, error) {
	envKey := m.pythonPath
	if useConda {
		envKey = m.condaPath
	}
	lock := m.envLock(envKey)
	lock.Lock()
	defer lock.Unlock()

	result, runErr := execshim.Run(ctx, args, execshim.Options{})
	if result == nil {
		return model.PackageOperationResult{}, bperr.Wrap(bperr.KindPackageInstallFailed, runErr, "running %s", strings.Join(args, " "))
	}

	outcome := classify(result.Combined, useConda)
	opResult := model.PackageOperationResult{
		Success:         outcome.success,
		Message:         outcome.message,
		Package:         pkg,
		Details:         result.Combined,
		CommandExecuted: commandLabel(args, useConda),
		Warning:         outcome.ambiguous,
	}
	if !outcome.success && !outcome.ambiguous {
		return opResult, bperr.New(bperr.KindPackageInstallFailed, "%s", outcome.message)
	}
	return opResult, nil
}

// commandLabel renders the argv this host actually ran as the effective
// pip/conda invocation a caller recognizes ("pip install requests==2.31.0"),
// independent of the absolute interpreter path the argv starts with
// ("/opt/py/venvs/default/bin/python -m pip install requests==2.31.0").
func commandLabel(args []string, useConda bool) string {
	if useConda {
		if len(args) == 0 {
			return "conda"
		}
		return "conda " + strings.Join(args[1:], " ")
	}
	for i, a := range args {
		if a == "pip" && i > 0 && args[i-1] == "-m" {
			return "pip " + strings.Join(args[i+1:], " ")
		}
	}
	return strings.Join(args, " ")
}

type classification struct {
	success   bool
	ambiguous bool
	message   string
}

// classify scans subprocess output line-by-line for known pip/conda outcome
// markers, preferring an explicit error match over a success match, and
// falling back to ambiguous when neither is found.
func classify(combined string, useConda bool) classification {
	successPattern, errorPattern := pipSuccessPattern, pipErrorPattern
	if useConda {
		successPattern, errorPattern = condaSuccessPattern, condaErrorPattern
	}

	scanner := bufio.NewScanner(strings.NewReader(combined))
	sawSuccess, sawSatisfied, sawError := false, false, false
	var lastErrorLine string

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case errorPattern.MatchString(line):
			sawError = true
			lastErrorLine = line
		case successPattern.MatchString(line):
			sawSuccess = true
		case !useConda && pipSatisfiedPattern.MatchString(line):
			sawSatisfied = true
		case !useConda && pipUninstalledPattern.MatchString(line):
			sawSuccess = true
		}
	}

	switch {
	case sawError:
		return classification{success: false, message: lastErrorLine}
	case sawSuccess:
		return classification{success: true, message: "operation completed successfully"}
	case sawSatisfied:
		return classification{success: true, message: "requirement already satisfied"}
	default:
		return classification{success: false, ambiguous: true, message: "could not determine outcome from output"}
	}
}

func parseFreezeOutput(stdout string, useConda bool) []model.PackageRecord {
	var out []model.PackageRecord
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if useConda {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				out = append(out, model.PackageRecord{Name: fields[0], Version: fields[1]})
			}
			continue
		}
		parts := strings.SplitN(line, "==", 2)
		if len(parts) == 2 {
			out = append(out, model.PackageRecord{Name: parts[0], Version: parts[1]})
		}
	}
	return out
}
