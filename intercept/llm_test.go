package intercept

import (
	"context"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/sentryflect/secpatterns"
	"github.com/nextlevelbuilder/sentryflect/security"
)

type fakeLLMClient struct {
	resp Response
	err  error
}

func (f *fakeLLMClient) CreateMessage(ctx context.Context, req Request) (Response, error) {
	return f.resp, f.err
}

func TestWrapLLMClient_PreventsDoubleWrap(t *testing.T) {
	security.ResetForTest()
	defer security.ResetForTest()
	call, _ := newTestCall("llm")
	i := &LLMInterceptor{Call: call, Scanner: security.GetInstance(secpatterns.Config{})}

	inner := &fakeLLMClient{resp: Response{ID: "r1"}}
	wrapped1 := i.WrapLLMClient(inner)
	wrapped2 := i.WrapLLMClient(wrapped1)

	if wrapped1 != wrapped2 {
		t.Fatal("expected wrapping an already-wrapped client to be a no-op")
	}
}

func TestInstrumentedLLMClient_CreateMessage_Success(t *testing.T) {
	security.ResetForTest()
	defer security.ResetForTest()
	call, cap := newTestCall("llm")
	i := &LLMInterceptor{Call: call, Scanner: security.GetInstance(secpatterns.Config{})}

	inner := &fakeLLMClient{resp: Response{ID: "resp-1", Content: "hello", InputTokens: 10, OutputTokens: 5}}
	wrapped := i.WrapLLMClient(inner)

	resp, err := wrapped.CreateMessage(context.Background(), Request{
		Vendor: "anthropic", Model: "test-model",
		Messages: []Message{{Role: "user", Content: "hi there"}},
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if resp.ID != "resp-1" {
		t.Errorf("expected response passed through unmodified, got %+v", resp)
	}

	var finishSeen bool
	for _, ev := range cap.events {
		if ev.EventType == "llm.create_message.finish" {
			finishSeen = true
			if ev.Attributes["llm.usage.total_tokens"] != int64(15) && ev.Attributes["llm.usage.total_tokens"] != 15 {
				t.Errorf("expected total_tokens=15, got %v", ev.Attributes["llm.usage.total_tokens"])
			}
		}
	}
	if !finishSeen {
		t.Fatal("expected a finish event")
	}
}

func TestInstrumentedLLMClient_CreateMessage_PropagatesError(t *testing.T) {
	security.ResetForTest()
	defer security.ResetForTest()
	call, cap := newTestCall("llm")
	i := &LLMInterceptor{Call: call, Scanner: security.GetInstance(secpatterns.Config{})}

	wantErr := errors.New("upstream failure")
	wrapped := i.WrapLLMClient(&fakeLLMClient{err: wantErr})

	_, err := wrapped.CreateMessage(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the original error to propagate unmodified, got %v", err)
	}

	var errSeen bool
	for _, ev := range cap.events {
		if ev.EventType == "llm.create_message.error" {
			errSeen = true
		}
	}
	if !errSeen {
		t.Fatal("expected an error event to be logged")
	}
}

func TestInstrumentedLLMClient_ScansUserMessageForSecurity(t *testing.T) {
	security.ResetForTest()
	defer security.ResetForTest()
	call, cap := newTestCall("llm")
	i := &LLMInterceptor{Call: call, Scanner: security.GetInstance(secpatterns.Config{})}

	wrapped := i.WrapLLMClient(&fakeLLMClient{resp: Response{ID: "r"}})
	_, _ = wrapped.CreateMessage(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "please DROP TABLE accounts"}},
	})

	var sawAlert bool
	for _, ev := range cap.events {
		if ev.EventType == "security.content.dangerous" {
			sawAlert = true
		}
	}
	if !sawAlert {
		t.Fatal("expected a pre-call security.content.dangerous event for a dangerous user message")
	}
}

func TestLastUserMessage(t *testing.T) {
	msgs := []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "last"},
	}
	if got := lastUserMessage(msgs); got != "last" {
		t.Errorf("lastUserMessage = %q, want %q", got, "last")
	}
	if got := lastUserMessage(nil); got != "" {
		t.Errorf("lastUserMessage(nil) = %q, want empty", got)
	}
}
