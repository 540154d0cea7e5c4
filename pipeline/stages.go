package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/docfides/docfides/agent"
)

// maxPromptDocChars bounds how much of one document's text is quoted
// into a stage prompt.
const maxPromptDocChars = 12000

// Parser produces the parse stage output for a project's documents.
// The concrete implementation sits in the facade, where the extraction
// engine and the cache are wired together.
type Parser interface {
	ParseProject(ctx context.Context, projectID string) (*ParseOutput, error)
}

// ParsedDocument is one document's contribution to the parse output.
type ParsedDocument struct {
	Filename   string   `json:"filename"`
	Role       string   `json:"role"`
	Language   string   `json:"language,omitempty"`
	PageCount  int      `json:"page_count"`
	Confidence float64  `json:"confidence"`
	Text       string   `json:"text"`
	Warnings   []string `json:"warnings,omitempty"`
}

type ParseOutput struct {
	Documents  []ParsedDocument `json:"documents"`
	Confidence float64          `json:"confidence"`
}

type ExtractedEntity struct {
	Name     string `json:"name" jsonschema_description:"Short identifier for the fact, e.g. company_name"`
	Value    string `json:"value" jsonschema_description:"The fact's value, quoted or normalized from the source text"`
	Category string `json:"category,omitempty" jsonschema_description:"Grouping such as party, date, amount, address"`
	Source   string `json:"source,omitempty" jsonschema_description:"Filename the fact was taken from"`
}

type ExtractDataOutput struct {
	Entities []ExtractedEntity `json:"entities" jsonschema_description:"Every distinct fact found in the documents"`
	Summary  string            `json:"summary" jsonschema_description:"Two or three sentences describing what the documents contain"`
}

type StyleOutput struct {
	Tone       string   `json:"tone" jsonschema_description:"Overall tone, e.g. formal, neutral, conversational"`
	Formality  string   `json:"formality" jsonschema_description:"Register: high, medium or low"`
	Vocabulary []string `json:"vocabulary,omitempty" jsonschema_description:"Characteristic words or phrases to reuse"`
	Notes      string   `json:"notes,omitempty" jsonschema_description:"Other stylistic observations worth imitating"`
}

type FieldDefinition struct {
	Name        string `json:"name" jsonschema_description:"Machine-friendly field name"`
	Description string `json:"description" jsonschema_description:"What belongs in this field"`
	Type        string `json:"type" jsonschema_description:"Expected value type: text, date, number or list"`
	Required    bool   `json:"required" jsonschema_description:"Whether the final output must fill this field"`
}

type FieldsOutput struct {
	Fields []FieldDefinition `json:"fields" jsonschema_description:"The field schema the final document should fill"`
}

type FieldMapping struct {
	Field      string  `json:"field" jsonschema_description:"Field name from the schema"`
	Value      string  `json:"value" jsonschema_description:"Value assigned to the field"`
	Confidence float64 `json:"confidence" jsonschema_description:"How certain the assignment is, 0 to 100"`
	Source     string  `json:"source,omitempty" jsonschema_description:"Entity or document the value came from"`
}

type MappingOutput struct {
	Mappings []FieldMapping `json:"mappings" jsonschema_description:"One entry per schema field that could be filled"`
	Unmapped []string       `json:"unmapped,omitempty" jsonschema_description:"Schema fields with no supporting data"`
}

type GeneratedSection struct {
	Field string `json:"field" jsonschema_description:"Field name this text fills"`
	Text  string `json:"text" jsonschema_description:"Final prose for the field"`
}

type GenerationOutput struct {
	Sections []GeneratedSection `json:"sections" jsonschema_description:"Generated text per field, in schema order"`
}

type VerificationIssue struct {
	Field    string `json:"field" jsonschema_description:"Field the issue concerns, empty for document-wide issues"`
	Severity string `json:"severity" jsonschema_description:"error, warning or info"`
	Message  string `json:"message" jsonschema_description:"What is wrong and how to fix it"`
}

type VerificationOutput struct {
	Approved bool                `json:"approved" jsonschema_description:"True when the generated content is acceptable as-is"`
	Score    float64             `json:"score" jsonschema_description:"Overall quality score, 0 to 100"`
	Issues   []VerificationIssue `json:"issues,omitempty" jsonschema_description:"Problems found, worst first"`
}

// DefaultStages wires the full stage list in execution order.
func DefaultStages(parser Parser, caller *agent.Caller) []Stage {
	return []Stage{
		&ParseStage{Parser: parser},
		&ExtractDataStage{Caller: caller},
		&StyleStage{Caller: caller},
		&FieldsStage{Caller: caller},
		&MappingStage{Caller: caller},
		&GenerationStage{Caller: caller},
		&VerificationStage{Caller: caller},
	}
}

// ParseStage extracts text from every project document, cache-first.
// It is the only stage that does not call the language model.
type ParseStage struct {
	Parser Parser
}

func (s *ParseStage) Name() string       { return StageParse }
func (s *ParseStage) Requires() []string { return nil }
func (s *ParseStage) Skip(*Context) bool { return false }

func (s *ParseStage) Run(ctx context.Context, pctx *Context) (map[string]any, agent.Usage, error) {
	out, err := s.Parser.ParseProject(ctx, pctx.ProjectID)
	if err != nil {
		return nil, agent.Usage{}, err
	}
	m, err := agent.ToMap(out)
	if err != nil {
		return nil, agent.Usage{}, err
	}
	return m, agent.Usage{}, nil
}

// ExtractDataStage pulls every concrete fact out of the parsed text.
type ExtractDataStage struct {
	Caller *agent.Caller
}

func (s *ExtractDataStage) Name() string       { return StageExtractData }
func (s *ExtractDataStage) Requires() []string { return []string{StageParse} }
func (s *ExtractDataStage) Skip(*Context) bool { return false }

func (s *ExtractDataStage) Run(ctx context.Context, pctx *Context) (map[string]any, agent.Usage, error) {
	parsed, err := parseOutputFrom(pctx)
	if err != nil {
		return nil, agent.Usage{}, err
	}
	prompt := fmt.Sprintf(
		"Extract every distinct fact (names, dates, amounts, identifiers, addresses, terms) from the documents below. Quote values as they appear; do not invent data.\n\n%s",
		documentDigest(parsed, "primary", "supporting"))

	var out ExtractDataOutput
	usage, err := callTool(ctx, s.Caller, agent.Spec{
		Name:        "record_extracted_data",
		Description: "Record the facts found in the source documents.",
		Schema:      agent.SchemaFor[ExtractDataOutput](),
	}, prompt, &out)
	if err != nil {
		return nil, usage, err
	}
	m, err := agent.ToMap(out)
	return m, usage, err
}

// StyleStage characterizes the writing style of the style-reference
// input. It runs only when such an input exists.
type StyleStage struct {
	Caller *agent.Caller
}

func (s *StyleStage) Name() string       { return StageStyle }
func (s *StyleStage) Requires() []string { return []string{StageParse} }

func (s *StyleStage) Skip(pctx *Context) bool { return !pctx.HasStyleInput }

func (s *StyleStage) Run(ctx context.Context, pctx *Context) (map[string]any, agent.Usage, error) {
	parsed, err := parseOutputFrom(pctx)
	if err != nil {
		return nil, agent.Usage{}, err
	}
	digest := documentDigest(parsed, "style")
	if digest == "" {
		return nil, agent.Usage{}, fmt.Errorf("style input flagged but no style document was parsed")
	}
	prompt := fmt.Sprintf(
		"Describe the writing style of the reference text below so another writer could imitate it.\n\n%s", digest)

	var out StyleOutput
	usage, err := callTool(ctx, s.Caller, agent.Spec{
		Name:        "record_style_profile",
		Description: "Record the style profile of the reference text.",
		Schema:      agent.SchemaFor[StyleOutput](),
	}, prompt, &out)
	if err != nil {
		return nil, usage, err
	}
	m, err := agent.ToMap(out)
	return m, usage, err
}

// FieldsStage derives the field schema the final document must fill.
type FieldsStage struct {
	Caller *agent.Caller
}

func (s *FieldsStage) Name() string       { return StageFields }
func (s *FieldsStage) Requires() []string { return []string{StageParse} }
func (s *FieldsStage) Skip(*Context) bool { return false }

func (s *FieldsStage) Run(ctx context.Context, pctx *Context) (map[string]any, agent.Usage, error) {
	parsed, err := parseOutputFrom(pctx)
	if err != nil {
		return nil, agent.Usage{}, err
	}
	prompt := fmt.Sprintf(
		"Identify the fields a completed version of this document should contain. Prefer fields the source text clearly calls for; mark genuinely mandatory ones as required.\n\n%s",
		documentDigest(parsed, "primary"))

	var out FieldsOutput
	usage, err := callTool(ctx, s.Caller, agent.Spec{
		Name:        "record_field_schema",
		Description: "Record the field schema for the output document.",
		Schema:      agent.SchemaFor[FieldsOutput](),
	}, prompt, &out)
	if err != nil {
		return nil, usage, err
	}
	if len(out.Fields) == 0 {
		return nil, usage, fmt.Errorf("field schema is empty")
	}
	m, err := agent.ToMap(out)
	return m, usage, err
}

// MappingStage assigns extracted facts to schema fields.
type MappingStage struct {
	Caller *agent.Caller
}

func (s *MappingStage) Name() string { return StageMapping }

func (s *MappingStage) Requires() []string {
	return []string{StageExtractData, StageFields}
}

func (s *MappingStage) Skip(*Context) bool { return false }

func (s *MappingStage) Run(ctx context.Context, pctx *Context) (map[string]any, agent.Usage, error) {
	var data ExtractDataOutput
	if err := decodeStage(pctx, StageExtractData, &data); err != nil {
		return nil, agent.Usage{}, err
	}
	var fields FieldsOutput
	if err := decodeStage(pctx, StageFields, &fields); err != nil {
		return nil, agent.Usage{}, err
	}

	var b strings.Builder
	b.WriteString("Assign the extracted facts to the schema fields. Leave a field unmapped rather than guessing.\n\nFields:\n")
	for _, f := range fields.Fields {
		fmt.Fprintf(&b, "- %s (%s, required=%v): %s\n", f.Name, f.Type, f.Required, f.Description)
	}
	b.WriteString("\nFacts:\n")
	for _, e := range data.Entities {
		fmt.Fprintf(&b, "- %s = %s", e.Name, e.Value)
		if e.Source != "" {
			fmt.Fprintf(&b, " (from %s)", e.Source)
		}
		b.WriteString("\n")
	}

	var out MappingOutput
	usage, err := callTool(ctx, s.Caller, agent.Spec{
		Name:        "record_field_mapping",
		Description: "Record which fact fills which field.",
		Schema:      agent.SchemaFor[MappingOutput](),
	}, b.String(), &out)
	if err != nil {
		return nil, usage, err
	}
	m, err := agent.ToMap(out)
	return m, usage, err
}

// GenerationStage writes the final prose for every mapped field,
// following the style profile when one exists.
type GenerationStage struct {
	Caller *agent.Caller
}

func (s *GenerationStage) Name() string       { return StageGeneration }
func (s *GenerationStage) Requires() []string { return []string{StageMapping} }
func (s *GenerationStage) Skip(*Context) bool { return false }

func (s *GenerationStage) Run(ctx context.Context, pctx *Context) (map[string]any, agent.Usage, error) {
	var mapping MappingOutput
	if err := decodeStage(pctx, StageMapping, &mapping); err != nil {
		return nil, agent.Usage{}, err
	}

	var b strings.Builder
	b.WriteString("Write the final text for each field below. Use only the mapped values; do not add facts.\n\n")
	for _, fm := range mapping.Mappings {
		fmt.Fprintf(&b, "- %s: %s\n", fm.Field, fm.Value)
	}
	if style, ok := pctx.Output(StageStyle); ok {
		var sp StyleOutput
		if err := agent.DecodeMap(style, &sp); err == nil {
			fmt.Fprintf(&b, "\nMatch this style: tone %s, formality %s.", sp.Tone, sp.Formality)
			if sp.Notes != "" {
				fmt.Fprintf(&b, " %s", sp.Notes)
			}
		}
	}

	var out GenerationOutput
	usage, err := callTool(ctx, s.Caller, agent.Spec{
		Name:        "record_generated_text",
		Description: "Record the generated text for every field.",
		Schema:      agent.SchemaFor[GenerationOutput](),
	}, b.String(), &out)
	if err != nil {
		return nil, usage, err
	}
	m, err := agent.ToMap(out)
	return m, usage, err
}

// VerificationStage reviews the generated content against the mapping.
type VerificationStage struct {
	Caller *agent.Caller
}

func (s *VerificationStage) Name() string       { return StageVerification }
func (s *VerificationStage) Requires() []string { return []string{StageGeneration} }
func (s *VerificationStage) Skip(*Context) bool { return false }

func (s *VerificationStage) Run(ctx context.Context, pctx *Context) (map[string]any, agent.Usage, error) {
	var gen GenerationOutput
	if err := decodeStage(pctx, StageGeneration, &gen); err != nil {
		return nil, agent.Usage{}, err
	}

	var b strings.Builder
	b.WriteString("Review the generated content for factual drift, missing required fields and inconsistent values. Approve only content that is usable as-is.\n\n")
	for _, sec := range gen.Sections {
		fmt.Fprintf(&b, "## %s\n%s\n\n", sec.Field, sec.Text)
	}
	if mapping, ok := pctx.Output(StageMapping); ok {
		var mp MappingOutput
		if err := agent.DecodeMap(mapping, &mp); err == nil {
			b.WriteString("Mapped values to check against:\n")
			for _, fm := range mp.Mappings {
				fmt.Fprintf(&b, "- %s: %s\n", fm.Field, fm.Value)
			}
		}
	}

	var out VerificationOutput
	usage, err := callTool(ctx, s.Caller, agent.Spec{
		Name:        "record_verification",
		Description: "Record the verification verdict for the generated content.",
		Schema:      agent.SchemaFor[VerificationOutput](),
	}, b.String(), &out)
	if err != nil {
		return nil, usage, err
	}
	m, err := agent.ToMap(out)
	return m, usage, err
}

const stageSystemPrompt = "You are a document-processing assistant. Always respond by calling the provided tool with complete, well-formed arguments. Never answer in plain text."

func callTool(ctx context.Context, caller *agent.Caller, spec agent.Spec, prompt string, out any) (agent.Usage, error) {
	res, err := caller.Call(ctx, agent.Request{
		System: stageSystemPrompt,
		Prompt: prompt,
		Tool:   spec,
	})
	if err != nil {
		return agent.Usage{}, err
	}
	if err := agent.DecodeArguments(res.Arguments, out); err != nil {
		return res.Usage, fmt.Errorf("decode %s arguments: %w", spec.Name, err)
	}
	return res.Usage, nil
}

func parseOutputFrom(pctx *Context) (*ParseOutput, error) {
	raw, ok := pctx.Output(StageParse)
	if !ok {
		return nil, fmt.Errorf("parse output not present")
	}
	var out ParseOutput
	if err := agent.DecodeMap(raw, &out); err != nil {
		return nil, fmt.Errorf("decode parse output: %w", err)
	}
	return &out, nil
}

func decodeStage(pctx *Context, stage string, out any) error {
	raw, ok := pctx.Output(stage)
	if !ok {
		return fmt.Errorf("%s output not present", stage)
	}
	if err := agent.DecodeMap(raw, out); err != nil {
		return fmt.Errorf("decode %s output: %w", stage, err)
	}
	return nil
}

// documentDigest renders the parsed documents matching the given roles
// into one prompt block, truncating very long texts.
func documentDigest(parsed *ParseOutput, roles ...string) string {
	want := make(map[string]bool, len(roles))
	for _, r := range roles {
		want[r] = true
	}
	var b strings.Builder
	for _, doc := range parsed.Documents {
		if len(want) > 0 && !want[doc.Role] {
			continue
		}
		text := doc.Text
		if len(text) > maxPromptDocChars {
			text = text[:maxPromptDocChars] + "\n[truncated]"
		}
		fmt.Fprintf(&b, "=== %s (%s", doc.Filename, doc.Role)
		if doc.Language != "" {
			fmt.Fprintf(&b, ", language %s", doc.Language)
		}
		fmt.Fprintf(&b, ", confidence %.0f) ===\n%s\n\n", doc.Confidence, text)
	}
	return strings.TrimSpace(b.String())
}
