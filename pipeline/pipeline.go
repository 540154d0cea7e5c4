// Package pipeline runs the ordered sequence of AI stages that turns
// extracted document text into verified, generated field content.
// Stages execute strictly sequentially; each one reads the outputs of
// earlier stages from the shared Context and contributes its own.
package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docfides/docfides/agent"
)

// Stage names, in execution order.
const (
	StageParse        = "parse"
	StageExtractData  = "extract-data"
	StageStyle        = "style"
	StageFields       = "fields"
	StageMapping      = "mapping"
	StageGeneration   = "generation"
	StageVerification = "verification"
)

// StageOrder lists every stage in the order the runner executes them.
var StageOrder = []string{
	StageParse,
	StageExtractData,
	StageStyle,
	StageFields,
	StageMapping,
	StageGeneration,
	StageVerification,
}

// ErrUnknownStage is returned by Replay for a stage name the runner
// does not know.
var ErrUnknownStage = errors.New("pipeline: unknown stage")

// PreconditionError reports a stage run before its upstream outputs
// exist. It is permanent and names exactly what is missing.
type PreconditionError struct {
	Stage   string
	Missing []string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("pipeline: stage %q requires missing output(s): %s",
		e.Stage, strings.Join(e.Missing, ", "))
}

// StageError wraps a failure inside a stage so callers see which stage
// broke the run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: stage %q failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Context is the per-project state threaded through one pipeline run.
// It is owned by exactly one run and never shared across runs.
type Context struct {
	ProjectID     string
	OwnerID       string
	HasStyleInput bool

	outputs map[string]map[string]any
}

func NewContext(projectID, ownerID string) *Context {
	return &Context{
		ProjectID: projectID,
		OwnerID:   ownerID,
		outputs:   make(map[string]map[string]any),
	}
}

// Output returns the stored output for a stage, if any.
func (c *Context) Output(stage string) (map[string]any, bool) {
	out, ok := c.outputs[stage]
	return out, ok
}

func (c *Context) SetOutput(stage string, out map[string]any) {
	c.outputs[stage] = out
}

// StageResult records one stage execution for the run history.
type StageResult struct {
	Stage    string         `json:"stage"`
	Skipped  bool           `json:"skipped,omitempty"`
	Output   map[string]any `json:"output,omitempty"`
	Usage    agent.Usage    `json:"usage"`
	Duration time.Duration  `json:"duration"`
}
