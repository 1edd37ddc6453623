package live

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/bt-bridge/gemini-live/shared"
	"github.com/bytedance/sonic"
	"github.com/invopop/jsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var ErrUnknownFunction = errors.New("unknown function")

// ArgumentError reports arguments that do not bind to a function's parameters.
type ArgumentError struct {
	Function string
	Err      error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Function, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// strictJSON rejects argument keys the parameter struct does not declare.
var strictJSON = sonic.Config{DisallowUnknownFields: true}.Froze()

// Function is a host function the model may call by name.
type Function interface {
	Declaration() FunctionDeclaration
	Call(ctx context.Context, args map[string]any) (string, error)
}

type typedFunction[T any] struct {
	decl     FunctionDeclaration
	required []string
	fn       func(context.Context, T) (string, error)
}

// NewFunction binds fn under name. The parameter schema is reflected from T,
// whose json tags name the arguments; fields without omitempty are required.
func NewFunction[T any](name, description string, fn func(ctx context.Context, args T) (string, error)) Function {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	schema := reflector.ReflectFromType(reflect.TypeFor[T]())
	schema.Version = ""
	schema.ID = ""
	return &typedFunction[T]{
		decl: FunctionDeclaration{
			Name:        name,
			Description: description,
			Parameters:  schema,
		},
		required: schema.Required,
		fn:       fn,
	}
}

func (f *typedFunction[T]) Declaration() FunctionDeclaration {
	return f.decl
}

func (f *typedFunction[T]) Call(ctx context.Context, args map[string]any) (string, error) {
	for _, key := range f.required {
		if _, ok := args[key]; !ok {
			return "", &ArgumentError{Function: f.decl.Name, Err: fmt.Errorf("missing argument %q", key)}
		}
	}
	raw := []byte("{}")
	if len(args) > 0 {
		var err error
		if raw, err = sonic.Marshal(args); err != nil {
			return "", &ArgumentError{Function: f.decl.Name, Err: err}
		}
	}
	var params T
	if err := strictJSON.Unmarshal(raw, &params); err != nil {
		return "", &ArgumentError{Function: f.decl.Name, Err: err}
	}
	return f.fn(ctx, params)
}

// Registry maps function names to host functions and turns every failure into
// a result string, so a bad call never aborts a turn.
type Registry struct {
	logger shared.LoggerAdapter

	mu    sync.RWMutex
	funcs map[string]Function
	order []string
}

func NewRegistry(logger shared.LoggerAdapter) (*Registry, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	return &Registry{
		logger: logger.With(zap.String("component", "registry")),
		funcs:  make(map[string]Function),
	}, nil
}

func (r *Registry) Register(fns ...Function) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, fn := range fns {
		name := fn.Declaration().Name
		if name == "" {
			return errors.New("function name is required")
		}
		if _, ok := r.funcs[name]; ok {
			return fmt.Errorf("%w: %s", shared.ErrFunctionExists, name)
		}
		r.funcs[name] = fn
		r.order = append(r.order, name)
	}
	return nil
}

// Declarations lists the registered functions in registration order.
func (r *Registry) Declarations() []FunctionDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	decls := make([]FunctionDeclaration, 0, len(r.order))
	for _, name := range r.order {
		decls = append(decls, r.funcs[name].Declaration())
	}
	return decls
}

// Dispatch runs call and always produces a response carrying call's ID.
func (r *Registry) Dispatch(ctx context.Context, call ToolCall) ToolResponse {
	ctx, span := tracer.Start(ctx, "execute tool")
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	)

	result, err := r.call(ctx, call)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("tool call failed",
			zap.String("function", call.Name),
			zap.String("callId", call.ID),
			zap.Error(err),
		)
		result = fmt.Sprintf("error calling %s: %v", call.Name, err)
	} else {
		r.logger.Debug("tool call finished",
			zap.String("function", call.Name),
			zap.String("callId", call.ID),
			zap.String("result", result),
		)
	}
	return ToolResponse{ID: call.ID, Name: call.Name, Result: result}
}

// DispatchBatch answers every call of a batch, in order.
func (r *Registry) DispatchBatch(ctx context.Context, calls []ToolCall) []ToolResponse {
	responses := make([]ToolResponse, 0, len(calls))
	for _, call := range calls {
		responses = append(responses, r.Dispatch(ctx, call))
	}
	return responses
}

func (r *Registry) call(ctx context.Context, call ToolCall) (result string, err error) {
	r.mu.RLock()
	fn, ok := r.funcs[call.Name]
	r.mu.RUnlock()
	if !ok {
		return "", ErrUnknownFunction
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("function panicked: %v", rec)
		}
	}()
	return fn.Call(ctx, call.Args)
}
