package engine

import (
	"context"
	"strings"
	"testing"
	"time"
)

func pythonPath(t *testing.T) string {
	t.Helper()
	return "python3"
}

func TestExecutePrintsToStdout(t *testing.T) {
	e := New()
	defer e.Shutdown()

	scope := e.MintScope()
	result, err := e.Execute(context.Background(), Request{
		PythonPath: pythonPath(t),
		Scope:      scope,
		Code:       "print('hello from scope')",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "hello from scope" {
		t.Errorf("Stdout = %q, want %q", result.Stdout, "hello from scope")
	}
	if !result.Success {
		t.Errorf("Success = false, want true")
	}
}

func TestExecuteSameScopeRetainsVariablesAcrossCalls(t *testing.T) {
	e := New()
	defer e.Shutdown()

	scope := e.MintScope()
	req := Request{PythonPath: pythonPath(t), Scope: scope}

	if _, err := e.Execute(context.Background(), withCode(req, "x = 41")); err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	result, err := e.Execute(context.Background(), withCode(req, "x += 1\nprint(x)"))
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "42" {
		t.Errorf("Stdout = %q, want %q (scope should retain x across calls)", result.Stdout, "42")
	}
}

func TestExecuteDifferentScopesAreIsolated(t *testing.T) {
	e := New()
	defer e.Shutdown()

	scopeA := e.MintScope()
	scopeB := e.MintScope()

	if _, err := e.Execute(context.Background(), withCode(Request{PythonPath: pythonPath(t), Scope: scopeA}, "y = 1")); err != nil {
		t.Fatalf("Execute(scopeA) error = %v", err)
	}
	result, err := e.Execute(context.Background(), withCode(Request{PythonPath: pythonPath(t), Scope: scopeB}, "print('y' in dir())"))
	if err != nil {
		t.Fatalf("Execute(scopeB) error = %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "False" {
		t.Errorf("scope isolation violated: scopeB sees %q, want False", result.Stdout)
	}
}

func TestExecutePythonExceptionReturnsPythonRaised(t *testing.T) {
	e := New()
	defer e.Shutdown()

	scope := e.MintScope()
	result, err := e.Execute(context.Background(), withCode(Request{PythonPath: pythonPath(t), Scope: scope}, "raise ValueError('boom')"))
	if err == nil {
		t.Fatal("Execute() error = nil, want PythonRaised")
	}
	if result.Success {
		t.Error("Success = true, want false")
	}
	if !strings.Contains(result.Error, "ValueError") {
		t.Errorf("Error = %q, want it to mention ValueError", result.Error)
	}
}

func TestExecuteWithVariablesInjectsBindings(t *testing.T) {
	e := New()
	defer e.Shutdown()

	scope := e.MintScope()
	result, err := e.ExecuteWithVariables(context.Background(), Request{
		PythonPath: pythonPath(t),
		Scope:      scope,
		Code:       "print(name, count)",
	}, map[string]any{"name": "alice", "count": 3})
	if err != nil {
		t.Fatalf("ExecuteWithVariables() error = %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "alice 3" {
		t.Errorf("Stdout = %q, want %q", result.Stdout, "alice 3")
	}
}

func TestExecuteBatchShortCircuitsOnFailure(t *testing.T) {
	e := New()
	defer e.Shutdown()

	scope := e.MintScope()
	req := Request{PythonPath: pythonPath(t), Scope: scope}

	results, err := e.ExecuteBatch(context.Background(), req, []string{
		"print('one')",
		"raise RuntimeError('stop here')",
		"print('three')",
	})
	if err == nil {
		t.Fatal("ExecuteBatch() error = nil, want failure at item 2")
	}
	if len(results) != 2 {
		t.Fatalf("ExecuteBatch() returned %d results, want 2 (stopped after failure)", len(results))
	}
	if results[1].Success {
		t.Error("results[1].Success = true, want false")
	}
}

func TestExecuteTimeoutProducesTimeoutExitKind(t *testing.T) {
	e := New()
	defer e.Shutdown()

	scope := e.MintScope()
	result, err := e.Execute(context.Background(), Request{
		PythonPath: pythonPath(t),
		Scope:      scope,
		Code:       "import time\ntime.sleep(10)",
		Timeout:    300 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("Execute() error = nil, want Timeout")
	}
	if result.ExitKind != "Timeout" {
		t.Errorf("ExitKind = %q, want Timeout", result.ExitKind)
	}
}

func TestExecuteRequiresScope(t *testing.T) {
	e := New()
	defer e.Shutdown()
	_, err := e.Execute(context.Background(), Request{PythonPath: pythonPath(t), Code: "pass"})
	if err == nil {
		t.Fatal("Execute() error = nil, want NotInitialized for a nil scope")
	}
}

func withCode(req Request, code string) Request {
	req.Code = code
	return req
}
