package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/docfides/docfides/agent"
	"github.com/docfides/docfides/store"
)

// Stage is one step of the pipeline. Requires names the stages whose
// outputs must already exist in the Context; Skip lets a stage opt out
// for this project (a skipped stage is not an error).
type Stage interface {
	Name() string
	Requires() []string
	Skip(pctx *Context) bool
	Run(ctx context.Context, pctx *Context) (map[string]any, agent.Usage, error)
}

// Persister stores stage outputs and run history. *store.Store
// satisfies it.
type Persister interface {
	SaveStageOutput(ctx context.Context, projectID, stage string, output json.RawMessage) error
	ListStageOutputs(ctx context.Context, projectID string) ([]store.StageOutput, error)
	AppendStageRun(ctx context.Context, run store.StageRun) error
}

// Runner executes stages in order. Stages are injected at construction
// so the dependency graph stays explicit and acyclic.
type Runner struct {
	stages  []Stage
	persist Persister
	log     *slog.Logger
}

func NewRunner(stages []Stage, persist Persister, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{stages: stages, persist: persist, log: log}
}

// Run executes every stage in order. It stops at the first failing
// stage and returns the results accumulated so far together with a
// StageError naming the failed stage. Cancellation is observed at
// stage boundaries: a stage already running finishes, and no new stage
// starts after the context is done.
func (r *Runner) Run(ctx context.Context, pctx *Context) ([]StageResult, error) {
	var results []StageResult
	for _, stage := range r.stages {
		if err := ctx.Err(); err != nil {
			r.log.Info("pipeline run cancelled",
				"project", pctx.ProjectID, "before_stage", stage.Name())
			return results, err
		}
		if stage.Skip(pctx) {
			r.log.Info("stage skipped", "project", pctx.ProjectID, "stage", stage.Name())
			results = append(results, StageResult{Stage: stage.Name(), Skipped: true})
			continue
		}
		res, err := r.runStage(ctx, pctx, stage)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// Replay re-runs exactly one named stage, feeding it whatever earlier
// outputs are already persisted instead of recomputing them.
func (r *Runner) Replay(ctx context.Context, pctx *Context, name string) (*StageResult, error) {
	stage := r.stage(name)
	if stage == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}
	if err := r.loadPersisted(ctx, pctx); err != nil {
		return nil, err
	}
	if stage.Skip(pctx) {
		return &StageResult{Stage: name, Skipped: true}, nil
	}
	return r.runStage(ctx, pctx, stage)
}

func (r *Runner) stage(name string) Stage {
	for _, s := range r.stages {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func (r *Runner) loadPersisted(ctx context.Context, pctx *Context) error {
	outs, err := r.persist.ListStageOutputs(ctx, pctx.ProjectID)
	if err != nil {
		return fmt.Errorf("load persisted stage outputs: %w", err)
	}
	for _, out := range outs {
		var m map[string]any
		if err := json.Unmarshal(out.Output, &m); err != nil {
			return fmt.Errorf("decode persisted output for stage %q: %w", out.Stage, err)
		}
		pctx.SetOutput(out.Stage, m)
	}
	return nil
}

func (r *Runner) runStage(ctx context.Context, pctx *Context, stage Stage) (*StageResult, error) {
	if missing := r.missingInputs(pctx, stage); len(missing) > 0 {
		err := &PreconditionError{Stage: stage.Name(), Missing: missing}
		r.recordRun(ctx, pctx, stage.Name(), agent.Usage{}, 0, err)
		return nil, err
	}

	start := time.Now()
	r.log.Info("stage started", "project", pctx.ProjectID, "stage", stage.Name())
	output, usage, err := stage.Run(ctx, pctx)
	elapsed := time.Since(start)

	if err != nil {
		r.log.Error("stage failed",
			"project", pctx.ProjectID, "stage", stage.Name(),
			"elapsed", elapsed, "error", err)
		r.recordRun(ctx, pctx, stage.Name(), usage, elapsed, err)
		return nil, &StageError{Stage: stage.Name(), Err: err}
	}

	raw, err := json.Marshal(output)
	if err != nil {
		return nil, &StageError{Stage: stage.Name(), Err: fmt.Errorf("encode output: %w", err)}
	}
	if err := r.persist.SaveStageOutput(ctx, pctx.ProjectID, stage.Name(), raw); err != nil {
		return nil, &StageError{Stage: stage.Name(), Err: err}
	}
	pctx.SetOutput(stage.Name(), output)
	r.recordRun(ctx, pctx, stage.Name(), usage, elapsed, nil)

	r.log.Info("stage completed",
		"project", pctx.ProjectID, "stage", stage.Name(),
		"elapsed", elapsed,
		"input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens)
	return &StageResult{
		Stage:    stage.Name(),
		Output:   output,
		Usage:    usage,
		Duration: elapsed,
	}, nil
}

func (r *Runner) missingInputs(pctx *Context, stage Stage) []string {
	var missing []string
	for _, req := range stage.Requires() {
		if _, ok := pctx.Output(req); !ok {
			missing = append(missing, req)
		}
	}
	return missing
}

func (r *Runner) recordRun(ctx context.Context, pctx *Context, stage string, usage agent.Usage, d time.Duration, runErr error) {
	run := store.StageRun{
		ProjectID:    pctx.ProjectID,
		Stage:        stage,
		Status:       "completed",
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Duration:     d,
	}
	if runErr != nil {
		run.Status = "failed"
		run.Error = runErr.Error()
	}
	// Run history is an audit trail; losing one row must not fail the
	// stage itself.
	if err := r.persist.AppendStageRun(ctx, run); err != nil {
		r.log.Warn("record stage run", "project", pctx.ProjectID, "stage", stage, "error", err)
	}
}
