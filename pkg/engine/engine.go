// Package engine runs user Python code inside a chosen session's scope,
// serializing submissions per interpreter process the way a single-threaded
// interpreter under a process-wide lock requires, with cooperative-then-
// escalated cancellation and timeout handling.
package engine

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beep-python/host/internal/bperr"
	"github.com/beep-python/host/pkg/model"
	"github.com/beep-python/host/pkg/progress"
)

// Engine owns one hosting process per distinct interpreter path and routes
// execute calls to the right one.
type Engine struct {
	mu    sync.Mutex
	hosts map[string]*host
}

// New builds an empty Engine. Hosting processes are started lazily, on
// first use of a given interpreter path.
func New() *Engine {
	return &Engine{hosts: make(map[string]*host)}
}

// MintScope allocates a fresh opaque scope token. Only the engine ever
// interprets its contents (the hosting process's per-scope globals dict);
// the session manager treats the returned value purely as a handle.
func (e *Engine) MintScope() *model.Scope {
	return model.NewScope(uuid.NewString())
}

// Request describes one execute call.
type Request struct {
	PythonPath string
	Scope      *model.Scope
	Code       string
	Timeout    time.Duration
	Variables  map[string]any
	Progress   progress.Func
}

// Result wraps the public ExecutionResult contract with the one piece of
// engine-internal detail callers outside this package need: whether the
// hosting process had to be killed, in which case the owning session must
// be marked Terminated per the concurrency model.
type Result struct {
	model.ExecutionResult
	HostKilled bool
}

// Execute runs code in scope's namespace on the interpreter at
// req.PythonPath, serialized against every other submission to that same
// interpreter.
func (e *Engine) Execute(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	if req.Scope == nil {
		return Result{}, bperr.New(bperr.KindNotInitialized, "execute called without a bound scope")
	}

	select {
	case <-ctx.Done():
		return Result{ExecutionResult: model.ExecutionResult{ExitKind: model.ExitCancelled}}, bperr.New(bperr.KindCancelled, "execute cancelled before acquiring the interpreter")
	default:
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	h, err := e.hostFor(req.PythonPath)
	if err != nil {
		return Result{}, err
	}

	if req.Progress != nil {
		req.Progress(progress.Report{Stage: "Executing", Percent: 10, Message: "submitted to interpreter"})
	}

	resp, outcome, callErr := h.call(ctx, request{Scope: req.Scope.Token(), Code: req.Code, Vars: req.Variables})
	duration := time.Since(start).Milliseconds()

	switch outcome {
	case outcomeKilled:
		e.dropHost(req.PythonPath)
		return Result{
			ExecutionResult: model.ExecutionResult{
				ExitKind:   model.ExitFailed,
				Error:      callErr.Error(),
				DurationMs: duration,
			},
			HostKilled: true,
		}, callErr

	case outcomeTimedOut:
		return Result{
			ExecutionResult: model.ExecutionResult{
				Stdout:     resp.Stdout,
				Stderr:     resp.Stderr,
				ExitKind:   model.ExitTimeout,
				DurationMs: duration,
			},
		}, bperr.New(bperr.KindTimeout, "execution exceeded %s", req.Timeout)

	case outcomeCancelled:
		return Result{
			ExecutionResult: model.ExecutionResult{
				Stdout:     resp.Stdout,
				Stderr:     resp.Stderr,
				ExitKind:   model.ExitCancelled,
				DurationMs: duration,
			},
		}, bperr.New(bperr.KindCancelled, "execution cancelled")
	}

	if req.Progress != nil {
		req.Progress(progress.Report{Stage: "Executing", Percent: 100, Message: "complete"})
	}

	result := model.ExecutionResult{
		Success:    resp.Success,
		Stdout:     resp.Stdout,
		Stderr:     resp.Stderr,
		DurationMs: duration,
	}
	if resp.Success {
		result.ExitKind = model.ExitCompleted
		return Result{ExecutionResult: result}, nil
	}

	result.ExitKind = model.ExitFailed
	result.Error = resp.Error
	return Result{ExecutionResult: result}, bperr.New(bperr.KindPythonRaised, "%s", resp.Error)
}

// ExecuteScript reads path and executes its contents.
func (e *Engine) ExecuteScript(ctx context.Context, req Request, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, bperr.Wrap(bperr.KindInternal, err, "reading script %s", path)
	}
	req.Code = string(data)
	return e.Execute(ctx, req)
}

// ExecuteWithVariables injects vars as bindings into scope before running
// code, merging them with any already present on req.Variables.
func (e *Engine) ExecuteWithVariables(ctx context.Context, req Request, vars map[string]any) (Result, error) {
	merged := make(map[string]any, len(req.Variables)+len(vars))
	for k, v := range req.Variables {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}
	req.Variables = merged
	return e.Execute(ctx, req)
}

// ExecuteBatch runs codes in order against the same scope, stopping at the
// first failure.
func (e *Engine) ExecuteBatch(ctx context.Context, req Request, codes []string) ([]Result, error) {
	results := make([]Result, 0, len(codes))
	for i, code := range codes {
		select {
		case <-ctx.Done():
			return results, bperr.New(bperr.KindCancelled, "batch cancelled before item %d", i)
		default:
		}

		itemReq := req
		itemReq.Code = code
		result, err := e.Execute(ctx, itemReq)
		results = append(results, result)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (e *Engine) hostFor(pythonPath string) (*host, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if h, ok := e.hosts[pythonPath]; ok && !h.dead {
		return h, nil
	}
	h, err := startHost(pythonPath)
	if err != nil {
		return nil, err
	}
	e.hosts[pythonPath] = h
	return h, nil
}

func (e *Engine) dropHost(pythonPath string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h, ok := e.hosts[pythonPath]; ok {
		h.close()
		delete(e.hosts, pythonPath)
	}
}

// Shutdown terminates every hosting process this engine started.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for path, h := range e.hosts {
		h.close()
		delete(e.hosts, path)
	}
}
