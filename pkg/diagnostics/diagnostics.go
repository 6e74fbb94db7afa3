// Package diagnostics probes candidate Python installs and derives process
// health signals (liveness, memory footprint) used to size the grace window
// the execution engine gives a hosting process before escalating to kill.
package diagnostics

import (
	"bufio"
	"context"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/beep-python/host/internal/execshim"
)

// Report is the outcome of probing a candidate Python install path.
type Report struct {
	PythonFound       bool
	Version           string
	IsConda           bool
	CanExecuteCode    bool
	PipFound          bool
	InstalledPackages map[string]string
	Warnings          []string
	Errors            []string
}

// Probe runs a sequence of cheap, independent checks against the
// interpreter at path, accumulating warnings and errors rather than
// stopping at the first failure, so a caller always gets a complete
// picture of what is and isn't working.
func Probe(ctx context.Context, pythonPath string) Report {
	r := Report{InstalledPackages: map[string]string{}}

	versionResult, err := execshim.Run(ctx, []string{pythonPath, "--version"}, execshim.Options{})
	if err != nil || versionResult == nil {
		r.Errors = append(r.Errors, "python executable not found or not runnable: "+errString(err))
		return r
	}
	r.PythonFound = true
	r.Version = strings.TrimSpace(strings.TrimPrefix(versionResult.Combined, "Python "))

	condaResult, err := execshim.Run(ctx, []string{pythonPath, "-c", "import conda"}, execshim.Options{})
	r.IsConda = err == nil && condaResult != nil && condaResult.ExitCode == 0

	execResult, err := execshim.Run(ctx, []string{pythonPath, "-c", "print('diagnostics-ok')"}, execshim.Options{})
	if err != nil || execResult == nil || strings.TrimSpace(execResult.Stdout) != "diagnostics-ok" {
		r.Warnings = append(r.Warnings, "interpreter did not echo the probe string")
	} else {
		r.CanExecuteCode = true
	}

	pipResult, err := execshim.Run(ctx, []string{pythonPath, "-m", "pip", "--version"}, execshim.Options{})
	if err != nil || pipResult == nil || pipResult.ExitCode != 0 {
		r.Warnings = append(r.Warnings, "pip is not importable")
	} else {
		r.PipFound = true
		listResult, err := execshim.Run(ctx, []string{pythonPath, "-m", "pip", "list", "--format=freeze"}, execshim.Options{})
		if err != nil || listResult == nil {
			r.Warnings = append(r.Warnings, "pip list failed: "+errString(err))
		} else {
			r.InstalledPackages = parseFreeze(listResult.Stdout)
		}
	}

	return r
}

func parseFreeze(stdout string) map[string]string {
	out := map[string]string{}
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "==", 2)
		if len(parts) == 2 {
			out[parts[0]] = parts[1]
		}
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ProcessAlive reports whether pid names a running process, tolerating the
// permission and not-found errors gopsutil surfaces on a process that has
// already exited.
func ProcessAlive(pid int32) bool {
	running, err := process.PidExists(pid)
	return err == nil && running
}

// minGrace and maxGrace bound the grace window GraceWindow derives from a
// process's resident memory: a process holding more memory is given more
// time to unwind cleanly (flushing buffers, releasing file handles) before
// the engine escalates to a hard kill.
const (
	minGrace = 2 * time.Second
	maxGrace = 15 * time.Second

	// graceMemoryStep is the RSS increment, in bytes, that earns one extra
	// second of grace above minGrace.
	graceMemoryStep = 256 * 1024 * 1024
)

// GraceWindow derives how long the engine should wait for pid to yield
// after a cooperative interrupt before killing it outright. baseline is
// the floor used when the process's memory cannot be read (e.g. it has
// already exited, or the platform doesn't expose it).
func GraceWindow(pid int32, baseline time.Duration) time.Duration {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return baseline
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil || memInfo == nil {
		return baseline
	}

	extra := time.Duration(memInfo.RSS/graceMemoryStep) * time.Second
	window := minGrace + extra
	if window < baseline {
		window = baseline
	}
	if window > maxGrace {
		window = maxGrace
	}
	return window
}
