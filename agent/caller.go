// Package agent wraps LLM providers with the structured-output call
// contract: every call names the tool it expects back and either returns
// that tool's arguments or a typed failure. The retry policy lives here and
// only here — call-sites must not layer their own.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docfides/docfides/llm"
)

var (
	// ErrMissingTool is returned when the model never produces the expected
	// structured construct, even after the re-prompt.
	ErrMissingTool = errors.New("agent: model did not produce the expected tool call")

	// ErrExhausted is returned when the retry budget runs out on transient
	// failures. The last observed error is wrapped.
	ErrExhausted = errors.New("agent: retry attempts exhausted")
)

// Usage counts the resource cost of a logical call, summed across every
// attempt and re-prompt it took.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another response's token counts.
func (u *Usage) Add(resp *llm.ChatResponse) {
	u.InputTokens += resp.PromptTokens
	u.OutputTokens += resp.CompletionTokens
}

// Spec names the structured construct a call expects back.
type Spec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Request is one logical structured-output call.
type Request struct {
	System      string
	Prompt      string
	Tool        Spec
	Temperature float64
	MaxTokens   int
}

// Result is a well-formed structured response.
type Result struct {
	// Arguments is the expected construct's argument payload.
	Arguments []byte
	// ToolName is the construct that actually produced Arguments; it differs
	// from the requested name only on the any-tool fallback path.
	ToolName string
	Usage    Usage
}

// Policy is the retry configuration shared by every call.
type Policy struct {
	// MaxAttempts bounds transient-failure retries.
	MaxAttempts int
	// Backoff is the sleep schedule when the server gives no retry hint.
	Backoff []time.Duration
}

// DefaultPolicy matches the contract constants: three attempts with a
// 5s/15s/45s backoff ladder.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second},
	}
}

// Caller issues structured-output calls against a provider.
type Caller struct {
	provider llm.Provider
	policy   Policy

	// sleep is swapped out in tests.
	sleep func(context.Context, time.Duration) error
}

// NewCaller builds a caller around an explicitly owned provider instance.
func NewCaller(provider llm.Provider, policy Policy) *Caller {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy().MaxAttempts
	}
	if len(policy.Backoff) == 0 {
		policy.Backoff = DefaultPolicy().Backoff
	}
	return &Caller{
		provider: provider,
		policy:   policy,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call runs the retry state machine for one logical structured-output call.
//
// Transient failures (rate limits, server overload) sleep and retry up to
// MaxAttempts, honoring the server's retry hint when present. A response
// without the expected tool call triggers exactly one re-prompt; if the
// re-prompt response still lacks it, any structured construct present is
// accepted as a fallback before giving up. Everything else fails immediately.
func (c *Caller) Call(ctx context.Context, req Request) (*Result, error) {
	messages := buildMessages(req)
	chatReq := llm.ChatRequest{
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools: []llm.ToolDefinition{{
			Name:        req.Tool.Name,
			Description: req.Tool.Description,
			Parameters:  req.Tool.Schema,
		}},
		ToolChoice: req.Tool.Name,
	}

	var usage Usage
	var lastErr error

	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		resp, err := c.provider.Chat(ctx, chatReq)
		if err != nil {
			retryable, delay := c.classify(err, attempt)
			if !retryable {
				return nil, err
			}
			lastErr = err
			slog.Warn("agent: transient failure, backing off",
				"tool", req.Tool.Name, "attempt", attempt+1, "delay", delay, "error", err)
			if serr := c.sleep(ctx, delay); serr != nil {
				return nil, serr
			}
			continue
		}

		usage.Add(resp)

		if tc := findToolCall(resp, req.Tool.Name); tc != nil {
			return &Result{Arguments: tc.Arguments, ToolName: tc.Name, Usage: usage}, nil
		}

		// Expected construct absent. Re-issue the conversation once with an
		// explicit instruction, then fall back to any construct present in
		// the retry response before giving up.
		return c.reprompt(ctx, chatReq, resp, req.Tool.Name, usage)
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrExhausted, c.policy.MaxAttempts, lastErr)
}

// reprompt handles the missing-tool-call path. It runs at most once per
// logical call.
func (c *Caller) reprompt(ctx context.Context, chatReq llm.ChatRequest, first *llm.ChatResponse, toolName string, usage Usage) (*Result, error) {
	slog.Warn("agent: expected tool call missing, re-prompting", "tool", toolName)

	chatReq.Messages = append(chatReq.Messages,
		llm.Message{Role: "assistant", Content: first.Content},
		llm.Message{Role: "user", Content: fmt.Sprintf(
			"Your previous response did not include the required %q tool call. "+
				"Respond again using only the %q tool.", toolName, toolName)},
	)

	resp, err := c.provider.Chat(ctx, chatReq)
	if err != nil {
		return nil, err
	}
	usage.Add(resp)

	if tc := findToolCall(resp, toolName); tc != nil {
		return &Result{Arguments: tc.Arguments, ToolName: tc.Name, Usage: usage}, nil
	}
	// Any structured construct beats free-form text.
	if len(resp.ToolCalls) > 0 {
		tc := resp.ToolCalls[0]
		slog.Warn("agent: accepting fallback tool call", "expected", toolName, "got", tc.Name)
		return &Result{Arguments: tc.Arguments, ToolName: tc.Name, Usage: usage}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrMissingTool, toolName)
}

// classify maps an error to (retryable, delay). Rate limits prefer the
// server's hint; everything transient falls back to the backoff ladder.
func (c *Caller) classify(err error, attempt int) (bool, time.Duration) {
	apiErr, ok := llm.AsAPIError(err)
	if !ok || !apiErr.Transient() {
		return false, 0
	}
	if apiErr.RateLimited() && apiErr.RetryAfter > 0 {
		return true, apiErr.RetryAfter
	}
	return true, c.backoffFor(attempt)
}

func (c *Caller) backoffFor(attempt int) time.Duration {
	if attempt >= len(c.policy.Backoff) {
		return c.policy.Backoff[len(c.policy.Backoff)-1]
	}
	return c.policy.Backoff[attempt]
}

func buildMessages(req Request) []llm.Message {
	var messages []llm.Message
	if req.System != "" {
		messages = append(messages, llm.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.Prompt})
	return messages
}

func findToolCall(resp *llm.ChatResponse, name string) *llm.ToolCall {
	for i := range resp.ToolCalls {
		if resp.ToolCalls[i].Name == name {
			return &resp.ToolCalls[i]
		}
	}
	return nil
}
