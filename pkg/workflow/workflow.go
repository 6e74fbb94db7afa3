// Package workflow implements the Action protocol every higher-level
// operation (data-frame manipulation, training stages, future LLM calls)
// is built on: ordered input/output parameter records, Started/Running/Ended
// lifecycle notifications, cooperative stop, and successor composition
// gated on a successful outcome.
package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/beep-python/host/pkg/progress"
)

// ParameterSpec declares one parameter an Action accepts or produces.
type ParameterSpec struct {
	Name     string
	Required bool
}

// ParameterRecord is one bound parameter value on the input or output
// channel.
type ParameterRecord struct {
	Name  string
	Value any
}

// Get returns the value bound to name, if any.
func Get(records []ParameterRecord, name string) (any, bool) {
	for _, r := range records {
		if r.Name == name {
			return r.Value, true
		}
	}
	return nil, false
}

// EventType is the terminal outcome an Action's Result reports.
type EventType string

// Event types an Action's Result reports.
const (
	EventSuccess   EventType = "Success"
	EventError     EventType = "Error"
	EventCancelled EventType = "Cancelled"
	EventStopped   EventType = "Stopped"
)

// FailureKind narrows EventError into the fail-fast validation categories
// an Action checks before running.
type FailureKind string

// Validation failure kinds.
const (
	FailureNone       FailureKind = ""
	FailureMissingArg FailureKind = "MissingArg"
	FailureBadArg     FailureKind = "BadArg"
)

// Result is the outcome of one Perform call.
type Result struct {
	Message   string
	EventType EventType
	Kind      FailureKind
	Output    []ParameterRecord
}

// MissingArg builds the fail-fast Result for a required parameter that was
// never bound.
func MissingArg(name string) Result {
	return Result{Message: fmt.Sprintf("missing required argument %q", name), EventType: EventError, Kind: FailureMissingArg}
}

// BadArg builds the fail-fast Result for a parameter whose value failed a
// runner's own semantic check.
func BadArg(name, reason string) Result {
	return Result{Message: fmt.Sprintf("argument %q is invalid: %s", name, reason), EventType: EventError, Kind: FailureBadArg}
}

// LifecycleEvent names the three notifications an Action's observers see.
type LifecycleEvent string

// Lifecycle events.
const (
	Started LifecycleEvent = "Started"
	Running LifecycleEvent = "Running"
	Ended   LifecycleEvent = "Ended"
)

// Notification is delivered to every registered Observer.
type Notification struct {
	Event    LifecycleEvent
	Action   string
	Progress progress.Report
}

// Observer receives lifecycle notifications for one Action.
type Observer func(Notification)

// Runner is the work a concrete Action performs. Run receives already
// length-checked input (Action validates required parameters before
// calling it) and must report progress at least every few seconds during
// loops, since it runs on the caller's goroutine and must never block
// indefinitely without yielding to ctx.
type Runner interface {
	Name() string
	InParameters() []ParameterSpec
	OutParameters() []ParameterSpec
	Run(ctx context.Context, in []ParameterRecord, report progress.Func) (Result, error)
}

// Action wraps a Runner with the machinery every workflow step shares:
// input validation, lifecycle notifications, idempotent cooperative stop,
// and successor composition.
type Action struct {
	runner Runner

	mu         sync.Mutex
	observers  []Observer
	successors []*Action
	stopped    bool
	cancel     context.CancelFunc
}

// New wraps runner in an Action.
func New(runner Runner) *Action {
	return &Action{runner: runner}
}

// Name returns the wrapped runner's name.
func (a *Action) Name() string { return a.runner.Name() }

// Observe registers o to receive this Action's lifecycle notifications.
func (a *Action) Observe(o Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, o)
}

// Then declares next as a successor, run only if this Action's Result has
// EventType Success. Returns a for chaining.
func (a *Action) Then(next *Action) *Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.successors = append(a.successors, next)
	return a
}

// Successors returns a's declared successors in order.
func (a *Action) Successors() []*Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Action(nil), a.successors...)
}

func (a *Action) notify(event LifecycleEvent, r progress.Report) {
	a.mu.Lock()
	observers := append([]Observer(nil), a.observers...)
	a.mu.Unlock()
	for _, o := range observers {
		o(Notification{Event: event, Action: a.runner.Name(), Progress: r})
	}
}

func (a *Action) validate(in []ParameterRecord) (Result, bool) {
	bound := make(map[string]bool, len(in))
	for _, r := range in {
		bound[r.Name] = true
	}
	for _, spec := range a.runner.InParameters() {
		if spec.Required && !bound[spec.Name] {
			return MissingArg(spec.Name), false
		}
	}
	return Result{}, true
}

// Perform runs the action synchronously: it validates in, emits Started,
// forwards progress as Running notifications (and to report, if non-nil),
// and emits Ended with the final Result.
func (a *Action) Perform(ctx context.Context, in []ParameterRecord, report progress.Func) (Result, error) {
	if result, ok := a.validate(in); !ok {
		a.notify(Started, progress.Report{Message: result.Message})
		a.notify(Ended, progress.Report{Message: result.Message})
		return result, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		cancel()
		result := Result{EventType: EventStopped, Message: "action already stopped"}
		a.notify(Ended, progress.Report{Message: result.Message})
		return result, nil
	}
	a.cancel = cancel
	a.mu.Unlock()
	defer cancel()

	select {
	case <-runCtx.Done():
		result := Result{EventType: EventCancelled, Message: "cancelled before starting"}
		a.notify(Ended, progress.Report{Message: result.Message})
		return result, runCtx.Err()
	default:
	}

	a.notify(Started, progress.Report{Percent: 0})
	wrapped := func(r progress.Report) {
		a.notify(Running, r)
		if report != nil {
			report(r)
		}
	}

	result, err := a.runner.Run(runCtx, in, wrapped)
	switch {
	case err != nil && result.EventType == "":
		result.EventType = EventError
		if result.Message == "" {
			result.Message = err.Error()
		}
	case result.EventType == "":
		result.EventType = EventSuccess
	}

	a.notify(Ended, progress.Report{Percent: 100, Message: result.Message})
	return result, err
}

// PerformAsync runs Perform on a new goroutine and returns a channel that
// receives exactly one Result.
func (a *Action) PerformAsync(ctx context.Context, in []ParameterRecord, report progress.Func) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		result, _ := a.Perform(ctx, in, report)
		ch <- result
	}()
	return ch
}

// PerformWithHook runs Perform synchronously and calls hook with the
// Result before returning it.
func (a *Action) PerformWithHook(ctx context.Context, in []ParameterRecord, report progress.Func, hook func(Result)) (Result, error) {
	result, err := a.Perform(ctx, in, report)
	if hook != nil {
		hook(result)
	}
	return result, err
}

// Stop requests cancellation of any in-flight Perform call and marks the
// action so future Perform calls short-circuit with EventStopped. Stop is
// idempotent and safe to call in any state, including before the action
// has ever run.
func (a *Action) Stop() Result {
	a.mu.Lock()
	a.stopped = true
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return Result{EventType: EventStopped, Message: "stop requested"}
}

// RunChain performs a, then — only if a's Result has EventType Success —
// performs each of a's successors in declaration order against a's output,
// stopping at the first non-Success result or error.
func RunChain(ctx context.Context, a *Action, in []ParameterRecord, report progress.Func) ([]Result, error) {
	result, err := a.Perform(ctx, in, report)
	results := []Result{result}
	if err != nil || result.EventType != EventSuccess {
		return results, err
	}

	for _, next := range a.Successors() {
		nested, nestedErr := RunChain(ctx, next, result.Output, report)
		results = append(results, nested...)
		if nestedErr != nil || (len(nested) > 0 && nested[len(nested)-1].EventType != EventSuccess) {
			return results, nestedErr
		}
	}
	return results, nil
}
