package common

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailgate/internal/gate"
	"github.com/teemow/mailgate/internal/instrumentation"
	"github.com/teemow/mailgate/internal/server"
)

// InstrumentedToolHandler wraps a read-only tool handler with a tool span,
// invocation metrics and an audit record.
//
// Usage:
//
//	s.AddTool(myTool, common.InstrumentedToolHandler("my-tool", sc, handler))
func InstrumentedToolHandler(toolName string, sc *server.ServerContext, handler mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
	return instrument(toolName, "", sc, handler)
}

// InstrumentedActionHandler is like InstrumentedToolHandler for a tool that
// runs a gated action. The action type and confirmation mode are recorded
// on the span and the audit record.
func InstrumentedActionHandler(toolName string, action gate.ActionType, sc *server.ServerContext, handler mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
	return instrument(toolName, string(action), sc, handler)
}

func instrument(toolName, action string, sc *server.ServerContext, handler mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		attrs := instrumentation.NewSpanAttributeBuilder().
			WithAction(action).
			WithReadOnly(action == "")
		if action != "" {
			attrs.WithMode(sc.Registry().Mode().String())
		}
		ctx, span := instrumentation.StartToolSpan(ctx, toolName, attrs.Build()...)
		defer span.End()

		invocation := instrumentation.NewToolInvocation(toolName).
			WithAction(action).
			WithSpanContext(ctx)

		result, err := handler(ctx, request)

		status := instrumentation.StatusSuccess
		switch {
		case err != nil:
			status = instrumentation.StatusError
			invocation.CompleteWithError(err)
			instrumentation.SetSpanError(span, err)
		case result != nil && result.IsError:
			status = instrumentation.StatusError
			invocation.Complete(false, nil)
			instrumentation.AddSpanEvent(span, "tool_error_result")
		default:
			invocation.CompleteSuccess()
			instrumentation.SetSpanSuccess(span)
		}

		sc.Metrics().RecordToolInvocation(ctx, toolName, status, invocation.Duration)
		sc.Audit().LogToolInvocation(ctx, invocation)
		return result, err
	}
}
