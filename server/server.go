package server

import (
	"fmt"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	x402 "github.com/mark3labs/x402-mcp"
)

// Server composes a handler registry with the payment orchestrator and
// builds per-session callback sets for the base protocol's session layer.
type Server struct {
	registry     *Registry
	config       *Config
	orchestrator *Orchestrator
}

// NewServer creates a server core over a populated registry. The
// configuration must name a facilitator when any registration is protected.
func NewServer(registry *Registry, config *Config) (*Server, error) {
	if registry == nil {
		return nil, x402.NewPaymentError(x402.CodeInternalError,
			"registry is required", x402.ErrConfigInvalid)
	}
	if config == nil {
		return nil, x402.NewPaymentError(x402.CodeInternalError,
			"config is required", x402.ErrConfigInvalid)
	}
	for _, reg := range registry.registrations {
		if reg.payment != nil {
			if err := config.validate(); err != nil {
				return nil, err
			}
			break
		}
	}

	return &Server{
		registry:     registry,
		config:       config,
		orchestrator: NewOrchestrator(config),
	}, nil
}

// ToolDescriptor is one session-bound tool callback with its metadata.
type ToolDescriptor struct {
	Tool     mcpproto.Tool
	Payment  *PaymentOptions
	Callback WrappedToolFunc
}

// PromptDescriptor is one session-bound prompt callback.
type PromptDescriptor struct {
	Name     string
	Payment  *PaymentOptions
	Callback WrappedPromptFunc
}

// ResourceDescriptor is one session-bound resource callback.
type ResourceDescriptor struct {
	Name     string
	Payment  *PaymentOptions
	Callback WrappedResourceFunc
}

// ResourceTemplateDescriptor is one session-bound templated resource
// callback.
type ResourceTemplateDescriptor struct {
	Name     string
	Payment  *PaymentOptions
	Callback WrappedResourceTemplateFunc
}

// SessionHandlers is the result of BuildSession: the registered handlers
// partitioned by kind, in deterministic kind-then-registration order, with
// every callback already composed with the payment orchestrator.
type SessionHandlers struct {
	Tools             []ToolDescriptor
	Prompts           []PromptDescriptor
	Resources         []ResourceDescriptor
	ResourceTemplates []ResourceTemplateDescriptor
}

// BuildSession instantiates the handler set for one session. Registrations
// with a factory get a fresh handler instance so per-session mutable state
// does not leak across sessions.
func (s *Server) BuildSession() (*SessionHandlers, error) {
	out := &SessionHandlers{}

	for _, reg := range s.registry.sorted() {
		handler := reg.sessionHandler()
		switch reg.kind {
		case KindTool:
			h, ok := handler.(ToolHandlerFunc)
			if !ok {
				return nil, badFactory(reg)
			}
			out.Tools = append(out.Tools, ToolDescriptor{
				Tool:     *reg.tool,
				Payment:  reg.payment,
				Callback: s.wrapTool(reg, h),
			})
		case KindPrompt:
			h, ok := handler.(PromptHandlerFunc)
			if !ok {
				return nil, badFactory(reg)
			}
			out.Prompts = append(out.Prompts, PromptDescriptor{
				Name:     reg.name,
				Payment:  reg.payment,
				Callback: s.wrapPrompt(reg, h),
			})
		case KindResource:
			h, ok := handler.(ResourceHandlerFunc)
			if !ok {
				return nil, badFactory(reg)
			}
			out.Resources = append(out.Resources, ResourceDescriptor{
				Name:     reg.name,
				Payment:  reg.payment,
				Callback: s.wrapResource(reg, h),
			})
		case KindResourceTemplate:
			h, ok := handler.(ResourceTemplateHandlerFunc)
			if !ok {
				return nil, badFactory(reg)
			}
			out.ResourceTemplates = append(out.ResourceTemplates, ResourceTemplateDescriptor{
				Name:     reg.name,
				Payment:  reg.payment,
				Callback: s.wrapResourceTemplate(reg, h),
			})
		}
	}

	return out, nil
}

func badFactory(reg *registration) error {
	return x402.NewPaymentError(x402.CodeInternalError,
		fmt.Sprintf("factory for %s %q returned a value that is not a %s handler",
			reg.kind, reg.name, reg.kind), x402.ErrConfigInvalid)
}
