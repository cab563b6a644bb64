package server

import (
	"context"
	"fmt"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	x402 "github.com/mark3labs/x402-mcp"
)

// Wrapped callback signatures handed to the session layer. The session layer
// creates the Invocation when it dispatches an inbound RPC and passes it
// alongside the kind-specific arguments.
type (
	WrappedToolFunc             func(ctx context.Context, inv *Invocation, args map[string]any) (*mcpproto.CallToolResult, error)
	WrappedPromptFunc           func(ctx context.Context, inv *Invocation, args map[string]any) (*mcpproto.GetPromptResult, error)
	WrappedResourceFunc         func(ctx context.Context, inv *Invocation, uri string) ([]mcpproto.ResourceContents, error)
	WrappedResourceTemplateFunc func(ctx context.Context, inv *Invocation, uri string, variables map[string]any) ([]mcpproto.ResourceContents, error)
)

// handlerFailed wraps a handler body error as a generic internal error.
// Settlement is never attempted after it.
func handlerFailed(err error) error {
	return x402.NewPaymentError(x402.CodeInternalError,
		fmt.Sprintf("Handler execution failed: %v", err), nil)
}

// wrap composes the orchestrator around one invocation: verify before the
// handler, settle after it, and strip the payment scratchpad from the
// invocation on every exit path so downstream code never observes it.
//
// body runs the handler and reports its error; it stores its result out of
// band so wrap stays kind-agnostic.
func (s *Server) wrap(ctx context.Context, reg *registration, inv *Invocation, body func(ctx context.Context) error) error {
	defer inv.clearPayment()

	ctx = withInvocation(ctx, inv)

	if reg.payment == nil {
		// Free handler: forward directly, no challenge, no settlement. Its
		// errors pass through untouched.
		return body(ctx)
	}

	if err := s.orchestrator.Verify(ctx, reg.name, reg.payment, inv); err != nil {
		return err
	}

	if err := body(ctx); err != nil {
		// Handler failure: surface the wrapped error, never settle.
		return handlerFailed(err)
	}

	if _, err := s.orchestrator.Settle(ctx, inv); err != nil {
		return err
	}
	return nil
}

func (s *Server) wrapTool(reg *registration, handler ToolHandlerFunc) WrappedToolFunc {
	return func(ctx context.Context, inv *Invocation, args map[string]any) (*mcpproto.CallToolResult, error) {
		var result *mcpproto.CallToolResult
		err := s.wrap(ctx, reg, inv, func(ctx context.Context) error {
			var herr error
			result, herr = handler(ctx, args)
			return herr
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

func (s *Server) wrapPrompt(reg *registration, handler PromptHandlerFunc) WrappedPromptFunc {
	return func(ctx context.Context, inv *Invocation, args map[string]any) (*mcpproto.GetPromptResult, error) {
		var result *mcpproto.GetPromptResult
		err := s.wrap(ctx, reg, inv, func(ctx context.Context) error {
			var herr error
			result, herr = handler(ctx, args)
			return herr
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

func (s *Server) wrapResource(reg *registration, handler ResourceHandlerFunc) WrappedResourceFunc {
	return func(ctx context.Context, inv *Invocation, uri string) ([]mcpproto.ResourceContents, error) {
		var result []mcpproto.ResourceContents
		err := s.wrap(ctx, reg, inv, func(ctx context.Context) error {
			var herr error
			result, herr = handler(ctx, uri)
			return herr
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

func (s *Server) wrapResourceTemplate(reg *registration, handler ResourceTemplateHandlerFunc) WrappedResourceTemplateFunc {
	return func(ctx context.Context, inv *Invocation, uri string, variables map[string]any) ([]mcpproto.ResourceContents, error) {
		var result []mcpproto.ResourceContents
		err := s.wrap(ctx, reg, inv, func(ctx context.Context) error {
			var herr error
			result, herr = handler(ctx, uri, variables)
			return herr
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}
