package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/docfides/docfides/llm"
)

// scriptedProvider replays a fixed sequence of responses and errors.
type scriptedProvider struct {
	steps []step
	calls int
	reqs  []llm.ChatRequest
}

type step struct {
	resp *llm.ChatResponse
	err  error
}

func (p *scriptedProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.reqs = append(p.reqs, req)
	if p.calls >= len(p.steps) {
		return nil, errors.New("scripted provider ran out of steps")
	}
	s := p.steps[p.calls]
	p.calls++
	return s.resp, s.err
}

func toolResp(name, args string, in, out int) *llm.ChatResponse {
	return &llm.ChatResponse{
		ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: name, Arguments: json.RawMessage(args)},
		},
		PromptTokens:     in,
		CompletionTokens: out,
	}
}

func textResp(content string, in, out int) *llm.ChatResponse {
	return &llm.ChatResponse{Content: content, PromptTokens: in, CompletionTokens: out}
}

func newTestCaller(p llm.Provider) (*Caller, *[]time.Duration) {
	c := NewCaller(p, DefaultPolicy())
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

var testRequest = Request{
	System: "system prompt",
	Prompt: "do the thing",
	Tool: Spec{
		Name:        "record_result",
		Description: "Record the result.",
		Schema:      map[string]any{"type": "object"},
	},
}

func TestCallSuccessFirstAttempt(t *testing.T) {
	p := &scriptedProvider{steps: []step{
		{resp: toolResp("record_result", `{"ok":true}`, 100, 20)},
	}}
	c, slept := newTestCaller(p)

	res, err := c.Call(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(res.Arguments) != `{"ok":true}` {
		t.Errorf("Arguments = %s", res.Arguments)
	}
	if res.ToolName != "record_result" {
		t.Errorf("ToolName = %q", res.ToolName)
	}
	if res.Usage.InputTokens != 100 || res.Usage.OutputTokens != 20 {
		t.Errorf("Usage = %+v", res.Usage)
	}
	if p.calls != 1 || len(*slept) != 0 {
		t.Errorf("calls = %d, sleeps = %d, want 1 and 0", p.calls, len(*slept))
	}
}

func TestCallRetriesTransientWithBackoff(t *testing.T) {
	overloaded := &llm.APIError{StatusCode: 503, Body: "overloaded"}
	p := &scriptedProvider{steps: []step{
		{err: overloaded},
		{err: overloaded},
		{resp: toolResp("record_result", `{}`, 50, 10)},
	}}
	c, slept := newTestCaller(p)

	_, err := c.Call(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if p.calls != 3 {
		t.Errorf("calls = %d, want 3", p.calls)
	}
	want := []time.Duration{5 * time.Second, 15 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("sleeps = %v, want %v", *slept, want)
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Errorf("sleep[%d] = %v, want %v", i, (*slept)[i], d)
		}
	}
}

func TestCallHonorsRetryAfterHint(t *testing.T) {
	limited := &llm.APIError{StatusCode: 429, RetryAfter: 7 * time.Second}
	p := &scriptedProvider{steps: []step{
		{err: limited},
		{resp: toolResp("record_result", `{}`, 10, 5)},
	}}
	c, slept := newTestCaller(p)

	if _, err := c.Call(context.Background(), testRequest); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(*slept) != 1 || (*slept)[0] != 7*time.Second {
		t.Errorf("sleeps = %v, want the server hint of 7s", *slept)
	}
}

func TestCallExhaustsRetryBudget(t *testing.T) {
	limited := &llm.APIError{StatusCode: 429}
	p := &scriptedProvider{steps: []step{
		{err: limited}, {err: limited}, {err: limited},
	}}
	c, _ := newTestCaller(p)

	_, err := c.Call(context.Background(), testRequest)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if p.calls != 3 {
		t.Errorf("calls = %d, want exactly MaxAttempts", p.calls)
	}
}

func TestCallFailsFastOnPermanentError(t *testing.T) {
	bad := &llm.APIError{StatusCode: 400, Body: "invalid schema"}
	p := &scriptedProvider{steps: []step{{err: bad}}}
	c, slept := newTestCaller(p)

	_, err := c.Call(context.Background(), testRequest)
	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 400 {
		t.Fatalf("err = %v, want the 400 APIError", err)
	}
	if p.calls != 1 || len(*slept) != 0 {
		t.Errorf("permanent errors must not retry: calls = %d, sleeps = %d", p.calls, len(*slept))
	}
}

func TestCallRepromptsOnMissingToolCall(t *testing.T) {
	p := &scriptedProvider{steps: []step{
		{resp: textResp("here is your answer in prose", 80, 40)},
		{resp: toolResp("record_result", `{"ok":1}`, 90, 30)},
	}}
	c, _ := newTestCaller(p)

	res, err := c.Call(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if p.calls != 2 {
		t.Fatalf("calls = %d, want 2", p.calls)
	}
	// Usage sums both attempts.
	if res.Usage.InputTokens != 170 || res.Usage.OutputTokens != 70 {
		t.Errorf("Usage = %+v, want summed tokens", res.Usage)
	}
	// The re-prompt carries the first response and an explicit instruction.
	second := p.reqs[1]
	if len(second.Messages) != len(p.reqs[0].Messages)+2 {
		t.Errorf("re-prompt message count = %d", len(second.Messages))
	}
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "user" {
		t.Errorf("last message role = %q, want user", last.Role)
	}
}

func TestCallAcceptsAnyToolFallback(t *testing.T) {
	p := &scriptedProvider{steps: []step{
		{resp: textResp("prose", 10, 10)},
		{resp: toolResp("unexpected_tool", `{"x":2}`, 10, 10)},
	}}
	c, _ := newTestCaller(p)

	res, err := c.Call(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.ToolName != "unexpected_tool" {
		t.Errorf("ToolName = %q, want the fallback tool", res.ToolName)
	}
}

func TestCallMissingToolAfterReprompt(t *testing.T) {
	p := &scriptedProvider{steps: []step{
		{resp: textResp("prose", 10, 10)},
		{resp: textResp("still prose", 10, 10)},
	}}
	c, _ := newTestCaller(p)

	_, err := c.Call(context.Background(), testRequest)
	if !errors.Is(err, ErrMissingTool) {
		t.Fatalf("err = %v, want ErrMissingTool", err)
	}
	if p.calls != 2 {
		t.Errorf("calls = %d, want exactly one re-prompt", p.calls)
	}
}

func TestCallRequestShape(t *testing.T) {
	p := &scriptedProvider{steps: []step{
		{resp: toolResp("record_result", `{}`, 1, 1)},
	}}
	c, _ := newTestCaller(p)

	if _, err := c.Call(context.Background(), testRequest); err != nil {
		t.Fatal(err)
	}
	req := p.reqs[0]
	if len(req.Tools) != 1 || req.Tools[0].Name != "record_result" {
		t.Errorf("Tools = %+v", req.Tools)
	}
	if req.ToolChoice != "record_result" {
		t.Errorf("ToolChoice = %q", req.ToolChoice)
	}
	if req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
		t.Errorf("message roles = %q, %q", req.Messages[0].Role, req.Messages[1].Role)
	}
}
