// Package toolinvoker defines the ToolInvoker interface consumed by the
// Step Executor and a dispatcher that tries a local handler
// registry before falling back to a remote MCP-protocol tool.
package toolinvoker

import (
	"context"
	"fmt"

	"taskengine/internal/utils"
	"taskengine/pkg/engerrors"
)

// Result is the outcome of one tool call: a structured payload, or an
// error envelope carrying diagnostic text.
type Result struct {
	IsError bool
	Payload interface{}
	Text    string
}

// ToolInvoker is the abstract seam the Step Executor calls through. Local
// handlers and remote MCP dispatch are both hidden behind it — no
// component outside this package knows which kind served a given call.
type ToolInvoker interface {
	Call(ctx context.Context, name string, args map[string]interface{}) (Result, error)
}

// LocalHandler is a synchronous, in-process tool implementation registered
// by name.
type LocalHandler func(ctx context.Context, args map[string]interface{}) (Result, error)

// Registry is a ToolInvoker backed by an in-process map of named handlers,
// falling back to a RemoteInvoker when a name is not locally registered.
// Absence of both is a non-retryable error.
type Registry struct {
	handlers map[string]LocalHandler
	remote   ToolInvoker
	logger   utils.ExtendedLogger
}

// NewRegistry builds a Registry with no local handlers and the given
// remote fallback (nil disables remote fallback entirely).
func NewRegistry(remote ToolInvoker, logger utils.ExtendedLogger) *Registry {
	return &Registry{
		handlers: map[string]LocalHandler{},
		remote:   remote,
		logger:   logger,
	}
}

// Register installs a local handler for action name. Re-registering a
// name replaces the previous handler.
func (r *Registry) Register(name string, handler LocalHandler) {
	r.handlers[name] = handler
}

// Call resolves name against local handlers first, then the remote
// invoker. An action known to neither is a *engerrors.ToolError with
// Retryable=false — an unknown action can never succeed on retry, so the
// classifier must not fall through to its Retryable default.
func (r *Registry) Call(ctx context.Context, name string, args map[string]interface{}) (Result, error) {
	if handler, ok := r.handlers[name]; ok {
		return handler(ctx, args)
	}
	if r.remote != nil {
		r.logger.Debugf("action %q not registered locally, trying remote invoker", name)
		return r.remote.Call(ctx, name, args)
	}
	return Result{}, &engerrors.ToolError{
		Retryable: false,
		Message:   fmt.Sprintf("action %q is not a known local tool and no remote invoker is registered", name),
	}
}
