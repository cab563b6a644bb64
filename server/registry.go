package server

import (
	"context"
	"fmt"
	"sort"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	x402 "github.com/mark3labs/x402-mcp"
)

// HandlerKind categorizes a registered handler.
type HandlerKind string

const (
	KindTool             HandlerKind = "tool"
	KindPrompt           HandlerKind = "prompt"
	KindResource         HandlerKind = "resource"
	KindResourceTemplate HandlerKind = "resourceTemplate"
)

// kindOrder fixes the deterministic kind-then-registration ordering of
// BuildSession output.
var kindOrder = map[HandlerKind]int{
	KindTool:             0,
	KindPrompt:           1,
	KindResource:         2,
	KindResourceTemplate: 3,
}

// PaymentOptions prices one protected handler. Amount is in priced units
// (e.g. USDC), converted to atomic units at challenge time.
type PaymentOptions struct {
	Amount      float64
	Description string
}

// Handler signatures per kind. The context carries the Invocation
// (InvocationFromContext); args/uri/variables arrive from the session layer.
type (
	ToolHandlerFunc             func(ctx context.Context, args map[string]any) (*mcpproto.CallToolResult, error)
	PromptHandlerFunc           func(ctx context.Context, args map[string]any) (*mcpproto.GetPromptResult, error)
	ResourceHandlerFunc         func(ctx context.Context, uri string) ([]mcpproto.ResourceContents, error)
	ResourceTemplateHandlerFunc func(ctx context.Context, uri string, variables map[string]any) ([]mcpproto.ResourceContents, error)
)

// registration is one registered handler with its metadata.
type registration struct {
	name    string
	kind    HandlerKind
	payment *PaymentOptions
	tool    *mcpproto.Tool
	handler any
	factory func() any
	order   int
}

// RegisterOption configures one registration.
type RegisterOption func(*registration)

// WithPayment marks the handler as protected with the given priced-unit
// amount.
func WithPayment(amount float64, description string) RegisterOption {
	return func(r *registration) {
		r.payment = &PaymentOptions{Amount: amount, Description: description}
	}
}

// WithFactory supplies a per-session handler constructor. BuildSession calls
// it once per session so per-session mutable handler state does not leak
// across sessions. The returned value must match the kind's handler
// signature.
func WithFactory(factory func() any) RegisterOption {
	return func(r *registration) {
		r.factory = factory
	}
}

// Registry holds handler registrations for a server. It replaces
// annotation-driven discovery with an explicit builder: register each
// handler with its kind and optional pricing, then build per-session
// callback sets.
type Registry struct {
	registrations []*registration
	names         map[string]HandlerKind
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]HandlerKind)}
}

// RegisterTool registers a tool handler.
func (r *Registry) RegisterTool(tool mcpproto.Tool, handler ToolHandlerFunc, opts ...RegisterOption) error {
	if handler == nil {
		return nilHandlerError(tool.Name)
	}
	return r.register(tool.Name, KindTool, &tool, handler, opts)
}

// RegisterPrompt registers a prompt handler.
func (r *Registry) RegisterPrompt(name string, handler PromptHandlerFunc, opts ...RegisterOption) error {
	if handler == nil {
		return nilHandlerError(name)
	}
	return r.register(name, KindPrompt, nil, handler, opts)
}

// RegisterResource registers a resource handler for a fixed URI.
func (r *Registry) RegisterResource(name string, handler ResourceHandlerFunc, opts ...RegisterOption) error {
	if handler == nil {
		return nilHandlerError(name)
	}
	return r.register(name, KindResource, nil, handler, opts)
}

// RegisterResourceTemplate registers a templated resource handler.
func (r *Registry) RegisterResourceTemplate(name string, handler ResourceTemplateHandlerFunc, opts ...RegisterOption) error {
	if handler == nil {
		return nilHandlerError(name)
	}
	return r.register(name, KindResourceTemplate, nil, handler, opts)
}

func nilHandlerError(name string) error {
	return x402.NewPaymentError(x402.CodeInternalError,
		fmt.Sprintf("handler for %q is nil", name), x402.ErrConfigInvalid)
}

func (r *Registry) register(name string, kind HandlerKind, tool *mcpproto.Tool, handler any, opts []RegisterOption) error {
	if name == "" {
		return x402.NewPaymentError(x402.CodeInternalError,
			"handler name is required", x402.ErrConfigInvalid)
	}
	if existing, ok := r.names[name]; ok {
		return x402.NewPaymentError(x402.CodeInternalError,
			fmt.Sprintf("handler %q already registered as %s", name, existing), x402.ErrConfigInvalid)
	}

	reg := &registration{
		name:    name,
		kind:    kind,
		tool:    tool,
		handler: handler,
		order:   len(r.registrations),
	}
	for _, opt := range opts {
		opt(reg)
	}

	if reg.payment != nil && reg.payment.Amount <= 0 {
		return x402.NewPaymentError(x402.CodeInternalError,
			fmt.Sprintf("payment amount for %q must be positive, got %v", name, reg.payment.Amount),
			x402.ErrConfigInvalid)
	}

	r.names[name] = kind
	r.registrations = append(r.registrations, reg)
	return nil
}

// sorted returns registrations in kind-then-registration order.
func (r *Registry) sorted() []*registration {
	regs := make([]*registration, len(r.registrations))
	copy(regs, r.registrations)
	sort.SliceStable(regs, func(i, j int) bool {
		if kindOrder[regs[i].kind] != kindOrder[regs[j].kind] {
			return kindOrder[regs[i].kind] < kindOrder[regs[j].kind]
		}
		return regs[i].order < regs[j].order
	})
	return regs
}

// sessionHandler resolves the handler value for one session, invoking the
// per-session factory when configured.
func (reg *registration) sessionHandler() any {
	if reg.factory != nil {
		return reg.factory()
	}
	return reg.handler
}
