// Package actions provides concrete workflow.Runner implementations that
// demonstrate the Action protocol end to end by funneling their actual work
// through the execution engine. Run waits for the engine call to return;
// workflow.Action.PerformAsync runs it off the caller's goroutine.
package actions

import (
	"context"
	"fmt"

	"github.com/beep-python/host/pkg/engine"
	"github.com/beep-python/host/pkg/model"
	"github.com/beep-python/host/pkg/progress"
	"github.com/beep-python/host/pkg/workflow"
)

// Executor is the subset of *engine.Engine an action needs, narrowed so
// these runners can be tested against a fake.
type Executor interface {
	Execute(ctx context.Context, req engine.Request) (engine.Result, error)
}

// CreateDataFrame builds a pandas DataFrame from column data and binds it
// to a scope-local variable name.
type CreateDataFrame struct {
	Engine     Executor
	PythonPath string
}

func (a *CreateDataFrame) Name() string { return "CreateDataFrame" }

func (a *CreateDataFrame) InParameters() []workflow.ParameterSpec {
	return []workflow.ParameterSpec{
		{Name: "scope", Required: true},
		{Name: "variableName", Required: true},
		{Name: "columns", Required: true},
	}
}

func (a *CreateDataFrame) OutParameters() []workflow.ParameterSpec {
	return []workflow.ParameterSpec{
		{Name: "variableName", Required: true},
		{Name: "rowCount", Required: true},
	}
}

func (a *CreateDataFrame) Run(ctx context.Context, in []workflow.ParameterRecord, report progress.Func) (workflow.Result, error) {
	scopeVal, _ := workflow.Get(in, "scope")
	scope, ok := scopeVal.(*model.Scope)
	if !ok {
		return workflow.BadArg("scope", "must be an execution scope"), nil
	}
	nameVal, _ := workflow.Get(in, "variableName")
	name, ok := nameVal.(string)
	if !ok || name == "" {
		return workflow.BadArg("variableName", "must be a non-empty string"), nil
	}
	columns, _ := workflow.Get(in, "columns")

	report(progress.Report{Percent: 10, Message: "building dataframe"})
	result, err := a.Engine.Execute(ctx, engine.Request{
		PythonPath: a.PythonPath,
		Scope:      scope,
		Code:       fmt.Sprintf("import pandas as pd\n%s = pd.DataFrame(__columns__)\nprint(len(%s))", name, name),
		Variables:  map[string]any{"__columns__": columns},
	})
	if err != nil {
		return workflow.Result{EventType: workflow.EventError, Message: result.Error}, err
	}
	report(progress.Report{Percent: 100, Message: "dataframe created"})

	return workflow.Result{
		Message:   fmt.Sprintf("created dataframe %q", name),
		EventType: workflow.EventSuccess,
		Output: []workflow.ParameterRecord{
			{Name: "variableName", Value: name},
			{Name: "rowCount", Value: result.Stdout},
		},
	}, nil
}

// AddColumn computes a new column on an existing DataFrame from a Python
// expression and assigns it in place.
type AddColumn struct {
	Engine     Executor
	PythonPath string
}

func (a *AddColumn) Name() string { return "AddColumn" }

func (a *AddColumn) InParameters() []workflow.ParameterSpec {
	return []workflow.ParameterSpec{
		{Name: "scope", Required: true},
		{Name: "variableName", Required: true},
		{Name: "columnName", Required: true},
		{Name: "expression", Required: true},
	}
}

func (a *AddColumn) OutParameters() []workflow.ParameterSpec {
	return []workflow.ParameterSpec{
		{Name: "variableName", Required: true},
		{Name: "columnName", Required: true},
	}
}

func (a *AddColumn) Run(ctx context.Context, in []workflow.ParameterRecord, report progress.Func) (workflow.Result, error) {
	scopeVal, _ := workflow.Get(in, "scope")
	scope, ok := scopeVal.(*model.Scope)
	if !ok {
		return workflow.BadArg("scope", "must be an execution scope"), nil
	}
	dfVal, _ := workflow.Get(in, "variableName")
	df, ok := dfVal.(string)
	if !ok || df == "" {
		return workflow.BadArg("variableName", "must be a non-empty string"), nil
	}
	colVal, _ := workflow.Get(in, "columnName")
	col, ok := colVal.(string)
	if !ok || col == "" {
		return workflow.BadArg("columnName", "must be a non-empty string"), nil
	}
	exprVal, _ := workflow.Get(in, "expression")
	expr, ok := exprVal.(string)
	if !ok || expr == "" {
		return workflow.BadArg("expression", "must be a non-empty string"), nil
	}

	report(progress.Report{Percent: 10, Message: "computing column"})
	code := fmt.Sprintf("%s[%q] = %s\nprint('ok')", df, col, expr)
	result, err := a.Engine.Execute(ctx, engine.Request{
		PythonPath: a.PythonPath,
		Scope:      scope,
		Code:       code,
	})
	if err != nil {
		return workflow.Result{EventType: workflow.EventError, Message: result.Error}, err
	}
	report(progress.Report{Percent: 100, Message: "column added"})

	return workflow.Result{
		Message:   fmt.Sprintf("added column %q to %q", col, df),
		EventType: workflow.EventSuccess,
		Output: []workflow.ParameterRecord{
			{Name: "variableName", Value: df},
			{Name: "columnName", Value: col},
		},
	}, nil
}
