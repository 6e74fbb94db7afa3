package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/beep-python/host/pkg/progress"
)

type fakeRunner struct {
	name string
	in   []ParameterSpec
	out  []ParameterSpec
	run  func(ctx context.Context, in []ParameterRecord, report progress.Func) (Result, error)
}

func (f fakeRunner) Name() string                  { return f.name }
func (f fakeRunner) InParameters() []ParameterSpec  { return f.in }
func (f fakeRunner) OutParameters() []ParameterSpec { return f.out }
func (f fakeRunner) Run(ctx context.Context, in []ParameterRecord, report progress.Func) (Result, error) {
	return f.run(ctx, in, report)
}

func TestPerformSucceedsAndDefaultsEventType(t *testing.T) {
	a := New(fakeRunner{
		name: "echo",
		run: func(ctx context.Context, in []ParameterRecord, report progress.Func) (Result, error) {
			v, _ := Get(in, "text")
			return Result{Message: "ok", Output: []ParameterRecord{{Name: "echoed", Value: v}}}, nil
		},
	})

	result, err := a.Perform(context.Background(), []ParameterRecord{{Name: "text", Value: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Perform() error = %v", err)
	}
	if result.EventType != EventSuccess {
		t.Errorf("EventType = %v, want Success", result.EventType)
	}
	if v, _ := Get(result.Output, "echoed"); v != "hi" {
		t.Errorf("Output[echoed] = %v, want hi", v)
	}
}

func TestPerformFailsFastOnMissingRequiredArg(t *testing.T) {
	called := false
	a := New(fakeRunner{
		name: "needs-arg",
		in:   []ParameterSpec{{Name: "x", Required: true}},
		run: func(ctx context.Context, in []ParameterRecord, report progress.Func) (Result, error) {
			called = true
			return Result{}, nil
		},
	})

	result, err := a.Perform(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Perform() error = %v, want nil (validation failure is reported via Result)", err)
	}
	if result.Kind != FailureMissingArg {
		t.Errorf("Kind = %v, want MissingArg", result.Kind)
	}
	if called {
		t.Error("Run() was called despite missing required argument")
	}
}

func TestPerformEmitsStartedRunningEnded(t *testing.T) {
	var events []LifecycleEvent
	a := New(fakeRunner{
		name: "reporter",
		run: func(ctx context.Context, in []ParameterRecord, report progress.Func) (Result, error) {
			report(progress.Report{Percent: 50})
			return Result{}, nil
		},
	})
	a.Observe(func(n Notification) { events = append(events, n.Event) })

	if _, err := a.Perform(context.Background(), nil, nil); err != nil {
		t.Fatalf("Perform() error = %v", err)
	}

	want := []LifecycleEvent{Started, Running, Ended}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %v, want %v", i, events[i], want[i])
		}
	}
}

func TestStopIsIdempotentAndCancelsInFlightWork(t *testing.T) {
	started := make(chan struct{})
	a := New(fakeRunner{
		name: "blocker",
		run: func(ctx context.Context, in []ParameterRecord, report progress.Func) (Result, error) {
			close(started)
			<-ctx.Done()
			return Result{EventType: EventCancelled, Message: "interrupted"}, ctx.Err()
		},
	})

	done := make(chan Result, 1)
	go func() {
		result, _ := a.Perform(context.Background(), nil, nil)
		done <- result
	}()

	<-started
	a.Stop()
	a.Stop() // idempotent

	select {
	case result := <-done:
		if result.EventType != EventCancelled {
			t.Errorf("EventType = %v, want Cancelled", result.EventType)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Perform() did not return after Stop()")
	}
}

func TestStopBeforePerformShortCircuits(t *testing.T) {
	a := New(fakeRunner{
		name: "never-runs",
		run: func(ctx context.Context, in []ParameterRecord, report progress.Func) (Result, error) {
			t.Fatal("Run() called on a stopped action")
			return Result{}, nil
		},
	})
	a.Stop()

	result, err := a.Perform(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Perform() error = %v", err)
	}
	if result.EventType != EventStopped {
		t.Errorf("EventType = %v, want Stopped", result.EventType)
	}
}

func TestRunChainSkipsSuccessorsOnFailure(t *testing.T) {
	first := New(fakeRunner{
		name: "first",
		run: func(ctx context.Context, in []ParameterRecord, report progress.Func) (Result, error) {
			return Result{EventType: EventError, Message: "boom"}, nil
		},
	})
	secondRan := false
	second := New(fakeRunner{
		name: "second",
		run: func(ctx context.Context, in []ParameterRecord, report progress.Func) (Result, error) {
			secondRan = true
			return Result{}, nil
		},
	})
	first.Then(second)

	results, err := RunChain(context.Background(), first, nil, nil)
	if err != nil {
		t.Fatalf("RunChain() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("RunChain() returned %d results, want 1 (successor skipped)", len(results))
	}
	if secondRan {
		t.Error("successor ran despite predecessor failure")
	}
}

func TestRunChainRunsSuccessorsOnSuccess(t *testing.T) {
	first := New(fakeRunner{
		name: "first",
		run: func(ctx context.Context, in []ParameterRecord, report progress.Func) (Result, error) {
			return Result{EventType: EventSuccess, Output: []ParameterRecord{{Name: "value", Value: 1}}}, nil
		},
	})
	var secondSawInput []ParameterRecord
	second := New(fakeRunner{
		name: "second",
		run: func(ctx context.Context, in []ParameterRecord, report progress.Func) (Result, error) {
			secondSawInput = in
			return Result{EventType: EventSuccess}, nil
		},
	})
	first.Then(second)

	results, err := RunChain(context.Background(), first, nil, nil)
	if err != nil {
		t.Fatalf("RunChain() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("RunChain() returned %d results, want 2", len(results))
	}
	if v, _ := Get(secondSawInput, "value"); v != 1 {
		t.Errorf("successor input = %v, want predecessor's output forwarded", secondSawInput)
	}
}
