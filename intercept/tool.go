package intercept

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/sentryflect/event"
	"github.com/nextlevelbuilder/sentryflect/secpatterns"
	"github.com/nextlevelbuilder/sentryflect/security"
)

// Tool is the minimal interface a framework tool object wraps (spec
// §4.7.2). A framework integration adapts its own tool type to this
// shape, the same way the teacher's internal/tools.ExecTool is itself a
// concrete Tool-shaped type.
type Tool interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, input map[string]any) (map[string]any, error)
}

// ToolInterceptor wraps Tool.Invoke with the span lifecycle, SQL-shaped
// input scanning (spec §4.8), and a safe-tool-patching mode that, per
// spec §6 "safe_tool_patching", intercepts only at the agent-executor
// layer rather than on individual tool objects.
type ToolInterceptor struct {
	Call            Call
	Patterns        *secpatterns.Registry
	SafeToolPatching bool

	mu      sync.Mutex
	wrapped map[Tool]bool
}

// WrapTool returns tool wrapped for instrumentation, or unmodified if
// SafeToolPatching is set (callers should instrument at the executor
// layer instead) or the tool was already wrapped.
func (i *ToolInterceptor) WrapTool(tool Tool) Tool {
	if i.SafeToolPatching {
		return tool
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.wrapped == nil {
		i.wrapped = map[Tool]bool{}
	}
	if i.wrapped[tool] {
		return tool
	}
	w := &instrumentedTool{inner: tool, interceptor: i}
	i.wrapped[tool] = true
	i.wrapped[w] = true
	return w
}

// Applies reports whether target is a non-nil Tool.
func (i *ToolInterceptor) Applies(target any) bool {
	t, ok := target.(Tool)
	return ok && t != nil
}

type instrumentedTool struct {
	inner       Tool
	interceptor *ToolInterceptor
}

func (t *instrumentedTool) Name() string        { return t.inner.Name() }
func (t *instrumentedTool) Description() string { return t.inner.Description() }

func (t *instrumentedTool) Invoke(ctx context.Context, input map[string]any) (map[string]any, error) {
	call := t.interceptor.Call
	call.Op = t.inner.Name()

	attrs := map[string]any{
		"tool.name":        t.inner.Name(),
		"tool.description": t.inner.Description(),
		"tool.inputs":      event.Safe(input),
	}

	ScanToolInputForSQL(t.interceptor.Patterns, call.Builder, input)

	span := call.Start(attrs)

	out, err := t.inner.Invoke(ctx, input)
	if err != nil {
		span.Fail(err)
		call.Builder.LogEvent(call.Category+"."+call.Op+".finish", map[string]any{
			"tool.success":    false,
			"tool.error":      err.Error(),
			"tool.error_type": "invoke_error",
		}, event.Options{Channel: event.ChannelTool, Level: event.LevelError})
		return out, err
	}

	span.Finish(map[string]any{
		"tool.success": true,
		"tool.outputs": event.Safe(out),
	})
	return out, nil
}

// ScanToolInputForSQL scans every string value in input for
// suspicious-SQL patterns and emits a security.alert if found (spec
// §4.7.2 "Also scan SQL-shaped tool inputs for command injection",
// §4.8 gating).
func ScanToolInputForSQL(patterns *secpatterns.Registry, b *event.Builder, input map[string]any) {
	for k, v := range input {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if matches := patterns.MatchSuspiciousSQL(s); len(matches) > 0 {
			b.LogEvent("security.alert", map[string]any{
				"security.alert_type": "suspicious_sql_tool_input",
				"security.field":      k,
				"security.excerpt":    matches[0].Excerpt,
			}, event.Options{Channel: event.ChannelSecurity, Level: event.LevelWarning})
		}
	}
}

// ScanResult is returned by pre-call content scanning helpers shared
// across adapters.
type ScanResult = security.Result
