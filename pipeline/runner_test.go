package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/docfides/docfides/agent"
	"github.com/docfides/docfides/store"
)

// memPersister keeps stage outputs and run history in memory.
type memPersister struct {
	outputs map[string]json.RawMessage // keyed by stage name
	runs    []store.StageRun
}

func newMemPersister() *memPersister {
	return &memPersister{outputs: make(map[string]json.RawMessage)}
}

func (m *memPersister) SaveStageOutput(ctx context.Context, projectID, stage string, output json.RawMessage) error {
	m.outputs[stage] = output
	return nil
}

func (m *memPersister) ListStageOutputs(ctx context.Context, projectID string) ([]store.StageOutput, error) {
	var outs []store.StageOutput
	for stage, raw := range m.outputs {
		outs = append(outs, store.StageOutput{ProjectID: projectID, Stage: stage, Output: raw})
	}
	return outs, nil
}

func (m *memPersister) AppendStageRun(ctx context.Context, run store.StageRun) error {
	m.runs = append(m.runs, run)
	return nil
}

// fakeStage is a scriptable stage for runner tests.
type fakeStage struct {
	name     string
	requires []string
	skip     bool
	output   map[string]any
	err      error
	runs     int
}

func (s *fakeStage) Name() string            { return s.name }
func (s *fakeStage) Requires() []string      { return s.requires }
func (s *fakeStage) Skip(pctx *Context) bool { return s.skip }

func (s *fakeStage) Run(ctx context.Context, pctx *Context) (map[string]any, agent.Usage, error) {
	s.runs++
	if s.err != nil {
		return nil, agent.Usage{}, s.err
	}
	return s.output, agent.Usage{InputTokens: 10, OutputTokens: 5}, nil
}

func TestRunnerRunsStagesInOrder(t *testing.T) {
	a := &fakeStage{name: "alpha", output: map[string]any{"a": 1.0}}
	b := &fakeStage{name: "beta", requires: []string{"alpha"}, output: map[string]any{"b": 2.0}}
	p := newMemPersister()
	r := NewRunner([]Stage{a, b}, p, nil)

	pctx := NewContext("proj-1", "")
	results, err := r.Run(context.Background(), pctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Stage != "alpha" || results[1].Stage != "beta" {
		t.Errorf("stage order = %s, %s", results[0].Stage, results[1].Stage)
	}
	if _, ok := p.outputs["beta"]; !ok {
		t.Error("beta output was not persisted")
	}
	if out, ok := pctx.Output("alpha"); !ok || out["a"] != 1.0 {
		t.Errorf("context output alpha = %v", out)
	}
	for _, run := range p.runs {
		if run.Status != "completed" {
			t.Errorf("run status = %q, want completed", run.Status)
		}
	}
}

func TestRunnerPreconditionError(t *testing.T) {
	b := &fakeStage{name: "beta", requires: []string{"alpha", "gamma"}}
	r := NewRunner([]Stage{b}, newMemPersister(), nil)

	_, err := r.Run(context.Background(), NewContext("proj-1", ""))
	var precond *PreconditionError
	if !errors.As(err, &precond) {
		t.Fatalf("err = %v, want PreconditionError", err)
	}
	if precond.Stage != "beta" {
		t.Errorf("Stage = %q", precond.Stage)
	}
	if len(precond.Missing) != 2 || precond.Missing[0] != "alpha" || precond.Missing[1] != "gamma" {
		t.Errorf("Missing = %v, want the exact upstream names", precond.Missing)
	}
	if b.runs != 0 {
		t.Error("stage must not run when preconditions fail")
	}
}

func TestRunnerSkipsConditionalStage(t *testing.T) {
	a := &fakeStage{name: "alpha", output: map[string]any{}}
	skipped := &fakeStage{name: "styleish", skip: true}
	c := &fakeStage{name: "gamma", requires: []string{"alpha"}, output: map[string]any{}}
	p := newMemPersister()
	r := NewRunner([]Stage{a, skipped, c}, p, nil)

	results, err := r.Run(context.Background(), NewContext("proj-1", ""))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !results[1].Skipped {
		t.Error("expected the conditional stage to be marked skipped")
	}
	if skipped.runs != 0 {
		t.Error("skipped stage must not run")
	}
	if _, ok := p.outputs["styleish"]; ok {
		t.Error("skipped stage must not persist an output")
	}
	if c.runs != 1 {
		t.Error("stages after the skipped one must still run")
	}
}

func TestRunnerStopsOnStageFailure(t *testing.T) {
	a := &fakeStage{name: "alpha", output: map[string]any{}}
	b := &fakeStage{name: "beta", err: errors.New("model exploded")}
	c := &fakeStage{name: "gamma"}
	p := newMemPersister()
	r := NewRunner([]Stage{a, b, c}, p, nil)

	results, err := r.Run(context.Background(), NewContext("proj-1", ""))
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("err = %v, want StageError", err)
	}
	if stageErr.Stage != "beta" {
		t.Errorf("failing stage = %q, want beta", stageErr.Stage)
	}
	if len(results) != 1 {
		t.Errorf("got %d results before the failure, want 1", len(results))
	}
	if c.runs != 0 {
		t.Error("no stage may run after a failure")
	}
	var failed bool
	for _, run := range p.runs {
		if run.Stage == "beta" && run.Status == "failed" && run.Error != "" {
			failed = true
		}
	}
	if !failed {
		t.Error("the failed attempt must appear in the run history")
	}
}

func TestRunnerCancellationAtStageBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &fakeStage{name: "alpha", output: map[string]any{}}
	b := &fakeStage{name: "beta", output: map[string]any{}}
	// Cancel while alpha runs; beta must never start.
	cancelling := &hookStage{fakeStage: a, hook: cancel}

	r := NewRunner([]Stage{cancelling, b}, newMemPersister(), nil)
	results, err := r.Run(ctx, NewContext("proj-1", ""))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(results) != 1 {
		t.Errorf("the in-flight stage runs to completion, got %d results", len(results))
	}
	if b.runs != 0 {
		t.Error("no new stage may start after cancellation")
	}
}

type hookStage struct {
	*fakeStage
	hook func()
}

func (s *hookStage) Run(ctx context.Context, pctx *Context) (map[string]any, agent.Usage, error) {
	defer s.hook()
	return s.fakeStage.Run(ctx, pctx)
}

func TestRunnerReplayUsesPersistedOutputs(t *testing.T) {
	p := newMemPersister()
	p.outputs["alpha"] = json.RawMessage(`{"a": 1}`)

	b := &fakeStage{name: "beta", requires: []string{"alpha"}, output: map[string]any{"b": 2.0}}
	r := NewRunner([]Stage{&fakeStage{name: "alpha"}, b}, p, nil)

	result, err := r.Replay(context.Background(), NewContext("proj-1", ""), "beta")
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if result.Stage != "beta" || b.runs != 1 {
		t.Errorf("replay ran %q %d times", result.Stage, b.runs)
	}
	if _, ok := p.outputs["beta"]; !ok {
		t.Error("replayed output must be persisted")
	}
}

func TestRunnerReplayUnknownStage(t *testing.T) {
	r := NewRunner([]Stage{&fakeStage{name: "alpha"}}, newMemPersister(), nil)
	_, err := r.Replay(context.Background(), NewContext("proj-1", ""), "nope")
	if !errors.Is(err, ErrUnknownStage) {
		t.Fatalf("err = %v, want ErrUnknownStage", err)
	}
}

func TestRunnerReplayMissingDependency(t *testing.T) {
	b := &fakeStage{name: "beta", requires: []string{"alpha"}}
	r := NewRunner([]Stage{b}, newMemPersister(), nil)

	_, err := r.Replay(context.Background(), NewContext("proj-1", ""), "beta")
	var precond *PreconditionError
	if !errors.As(err, &precond) {
		t.Fatalf("err = %v, want PreconditionError", err)
	}
}
