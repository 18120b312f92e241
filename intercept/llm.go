package intercept

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/sentryflect/event"
	"github.com/nextlevelbuilder/sentryflect/security"
)

// Message is a vendor-agnostic chat message, shaped like the teacher's
// own internal/providers.Message rather than a specific SDK's type
// (SPEC_FULL.md §3: "C7.1 is specified and tested against a small
// vendor-agnostic LLMClient interface").
type Message struct {
	Role    string
	Content string
}

// Request is the vendor-agnostic request shape wrapped LLM calls accept.
type Request struct {
	Vendor           string
	Model            string
	Messages         []Message
	Temperature      *float64
	MaxTokens        *int
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	Stop             []string
}

// Response is the vendor-agnostic response shape wrapped LLM calls return.
type Response struct {
	ID               string
	Type             string
	Content          string
	StopReason       string
	InputTokens      int
	OutputTokens     int
}

// LLMClient is the minimal interface an LLM vendor adapter wraps (spec
// §4.7.1). A real integration would implement this over a concrete SDK
// client; no concrete SDK is imported here (§1 "the concrete client
// libraries being wrapped" are external collaborators).
type LLMClient interface {
	CreateMessage(ctx context.Context, req Request) (Response, error)
}

// LLMInterceptor wraps an LLMClient's CreateMessage with the span
// lifecycle and security scanning from spec §4.7.1.
type LLMInterceptor struct {
	Call    Call
	Scanner *security.Scanner

	mu      sync.Mutex
	wrapped map[LLMClient]bool
}

// WrapLLMClient returns client wrapped for instrumentation, or the same
// client unmodified if it has already been wrapped (spec §4.7.1
// "maintain a set of already-wrapped instance identities to avoid
// double-wrapping").
func (i *LLMInterceptor) WrapLLMClient(client LLMClient) LLMClient {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.wrapped == nil {
		i.wrapped = map[LLMClient]bool{}
	}
	if i.wrapped[client] {
		return client
	}
	w := &instrumentedLLMClient{inner: client, interceptor: i}
	i.wrapped[client] = true
	i.wrapped[w] = true
	return w
}

// Applies reports whether target is a non-nil LLMClient (spec
// SPEC_FULL §4 auto-detection).
func (i *LLMInterceptor) Applies(target any) bool {
	c, ok := target.(LLMClient)
	return ok && c != nil
}

type instrumentedLLMClient struct {
	inner       LLMClient
	interceptor *LLMInterceptor
}

func (c *instrumentedLLMClient) CreateMessage(ctx context.Context, req Request) (Response, error) {
	call := c.interceptor.Call
	call.Op = "create_message"

	attrs := map[string]any{
		"llm.vendor":       req.Vendor,
		"llm.model":        req.Model,
		"llm.request.type": "create_message",
		"llm.request.data": serializeMessages(req.Messages),
	}
	if req.Temperature != nil {
		attrs["llm.request.temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		attrs["llm.request.max_tokens"] = *req.MaxTokens
	}
	if req.TopP != nil {
		attrs["llm.request.top_p"] = *req.TopP
	}
	if req.FrequencyPenalty != nil {
		attrs["llm.request.frequency_penalty"] = *req.FrequencyPenalty
	}
	if req.PresencePenalty != nil {
		attrs["llm.request.presence_penalty"] = *req.PresencePenalty
	}
	if len(req.Stop) > 0 {
		attrs["llm.request.stop"] = req.Stop
	}

	if userText := lastUserMessage(req.Messages); userText != "" {
		if scanAttrs, alertName, level := ScanAndAnnotate(c.interceptor.Scanner, userText); alertName != "" {
			for k, v := range scanAttrs {
				attrs[k] = v
			}
			call.Builder.LogEvent(alertName, scanAttrs, event.Options{Channel: event.ChannelSecurity, Level: level})
		}
	}

	span := call.Start(attrs)

	resp, err := c.inner.CreateMessage(ctx, req)
	if err != nil {
		span.Fail(err)
		return resp, err
	}

	respAttrs := map[string]any{
		"llm.response.id":                 resp.ID,
		"llm.response.type":               resp.Type,
		"llm.response.content":            resp.Content,
		"llm.response.stop_reason":        resp.StopReason,
		"llm.usage.input_tokens":          resp.InputTokens,
		"llm.usage.output_tokens":         resp.OutputTokens,
		"llm.usage.total_tokens":          resp.InputTokens + resp.OutputTokens,
	}

	if scanAttrs, alertName, level := ScanAndAnnotate(c.interceptor.Scanner, resp.Content); alertName != "" {
		for k, v := range scanAttrs {
			respAttrs[k] = v
		}
		call.Builder.LogEvent(alertName, scanAttrs, event.Options{Channel: event.ChannelSecurity, Level: level})
	}

	span.Finish(respAttrs)
	return resp, nil
}

func lastUserMessage(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	if len(msgs) > 0 {
		return msgs[len(msgs)-1].Content
	}
	return ""
}

func serializeMessages(msgs []Message) []map[string]any {
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, map[string]any{"role": m.Role, "content": m.Content})
	}
	return out
}
