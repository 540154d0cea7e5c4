package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/docfides/docfides/agent"
	"github.com/docfides/docfides/llm"
)

type staticParser struct {
	out *ParseOutput
}

func (p *staticParser) ParseProject(ctx context.Context, projectID string) (*ParseOutput, error) {
	return p.out, nil
}

// toolProvider always answers with one fixed tool call.
type toolProvider struct {
	tool string
	args string
	last llm.ChatRequest
}

func (p *toolProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.last = req
	return &llm.ChatResponse{
		ToolCalls:        []llm.ToolCall{{ID: "c1", Name: p.tool, Arguments: json.RawMessage(p.args)}},
		PromptTokens:     120,
		CompletionTokens: 30,
	}, nil
}

func parseContext(t *testing.T, out *ParseOutput) *Context {
	t.Helper()
	pctx := NewContext("proj-1", "")
	m, err := agent.ToMap(out)
	if err != nil {
		t.Fatal(err)
	}
	pctx.SetOutput(StageParse, m)
	return pctx
}

func sampleParse() *ParseOutput {
	return &ParseOutput{
		Documents: []ParsedDocument{
			{Filename: "contract.pdf", Role: "primary", Language: "ron", PageCount: 3, Confidence: 92, Text: "Contract intre parti pentru executie lucrari."},
			{Filename: "reference.docx", Role: "style", Confidence: 95, Text: "Elegant reference prose."},
		},
		Confidence: 93.5,
	}
}

func TestStageDependencies(t *testing.T) {
	tests := []struct {
		stage Stage
		want  []string
	}{
		{&ParseStage{}, nil},
		{&ExtractDataStage{}, []string{StageParse}},
		{&StyleStage{}, []string{StageParse}},
		{&FieldsStage{}, []string{StageParse}},
		{&MappingStage{}, []string{StageExtractData, StageFields}},
		{&GenerationStage{}, []string{StageMapping}},
		{&VerificationStage{}, []string{StageGeneration}},
	}
	for _, tt := range tests {
		t.Run(tt.stage.Name(), func(t *testing.T) {
			got := tt.stage.Requires()
			if len(got) != len(tt.want) {
				t.Fatalf("Requires = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("Requires[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestStyleStageSkip(t *testing.T) {
	s := &StyleStage{}
	with := NewContext("p", "")
	with.HasStyleInput = true
	without := NewContext("p", "")

	if s.Skip(with) {
		t.Error("style stage must run when a style input exists")
	}
	if !s.Skip(without) {
		t.Error("style stage must be skipped without a style input")
	}
}

func TestParseStageRun(t *testing.T) {
	parser := &staticParser{out: sampleParse()}
	s := &ParseStage{Parser: parser}

	out, usage, err := s.Run(context.Background(), NewContext("proj-1", ""))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if usage.InputTokens != 0 {
		t.Error("parse stage uses no model tokens")
	}
	docs, ok := out["documents"].([]any)
	if !ok || len(docs) != 2 {
		t.Fatalf("documents = %v", out["documents"])
	}
}

func TestExtractDataStageRun(t *testing.T) {
	provider := &toolProvider{
		tool: "record_extracted_data",
		args: `{"entities":[{"name":"company_name","value":"SC Construct SRL","category":"party"}],"summary":"A works contract."}`,
	}
	caller := agent.NewCaller(provider, agent.DefaultPolicy())
	s := &ExtractDataStage{Caller: caller}

	pctx := parseContext(t, sampleParse())
	out, usage, err := s.Run(context.Background(), pctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if usage.InputTokens != 120 || usage.OutputTokens != 30 {
		t.Errorf("usage = %+v", usage)
	}

	var decoded ExtractDataOutput
	if err := agent.DecodeMap(out, &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded.Entities) != 1 || decoded.Entities[0].Value != "SC Construct SRL" {
		t.Errorf("entities = %+v", decoded.Entities)
	}

	// The prompt quotes the primary document but not the style reference.
	prompt := provider.last.Messages[len(provider.last.Messages)-1].Content
	if !strings.Contains(prompt, "contract.pdf") {
		t.Error("prompt must include the primary document")
	}
	if strings.Contains(prompt, "Elegant reference prose") {
		t.Error("prompt must not include the style reference text")
	}
}

func TestMappingStagePromptShape(t *testing.T) {
	provider := &toolProvider{
		tool: "record_field_mapping",
		args: `{"mappings":[{"field":"company","value":"SC Construct SRL","confidence":90}],"unmapped":["signature_date"]}`,
	}
	caller := agent.NewCaller(provider, agent.DefaultPolicy())
	s := &MappingStage{Caller: caller}

	pctx := NewContext("proj-1", "")
	data, _ := agent.ToMap(ExtractDataOutput{
		Entities: []ExtractedEntity{{Name: "company_name", Value: "SC Construct SRL"}},
	})
	fields, _ := agent.ToMap(FieldsOutput{
		Fields: []FieldDefinition{{Name: "company", Type: "text", Required: true, Description: "Contracting company"}},
	})
	pctx.SetOutput(StageExtractData, data)
	pctx.SetOutput(StageFields, fields)

	out, _, err := s.Run(context.Background(), pctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var decoded MappingOutput
	if err := agent.DecodeMap(out, &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded.Unmapped) != 1 || decoded.Unmapped[0] != "signature_date" {
		t.Errorf("unmapped = %v", decoded.Unmapped)
	}

	prompt := provider.last.Messages[len(provider.last.Messages)-1].Content
	if !strings.Contains(prompt, "company") || !strings.Contains(prompt, "SC Construct SRL") {
		t.Errorf("prompt missing fields or facts:\n%s", prompt)
	}
}

func TestDocumentDigestFiltersByRole(t *testing.T) {
	digest := documentDigest(sampleParse(), "style")
	if !strings.Contains(digest, "reference.docx") {
		t.Error("style digest must include the style document")
	}
	if strings.Contains(digest, "contract.pdf") {
		t.Error("style digest must exclude the primary document")
	}
}

func TestDocumentDigestTruncatesLongText(t *testing.T) {
	long := strings.Repeat("x", maxPromptDocChars+500)
	out := &ParseOutput{Documents: []ParsedDocument{{Filename: "big.pdf", Role: "primary", Text: long}}}
	digest := documentDigest(out, "primary")
	if !strings.Contains(digest, "[truncated]") {
		t.Error("long documents must be truncated in prompts")
	}
	if len(digest) > maxPromptDocChars+200 {
		t.Errorf("digest length = %d, truncation did not apply", len(digest))
	}
}
