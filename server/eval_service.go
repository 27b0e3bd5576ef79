package server

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chazu/synapse/compiler"
	"github.com/chazu/synapse/script"
	"github.com/chazu/synapse/store"
	"github.com/chazu/synapse/vm"
)

// Procedures served by the eval service.
const (
	EvalServiceName = "synapse.v1.EvalService"
	EvalProcedure   = "/" + EvalServiceName + "/Eval"
	CheckProcedure  = "/" + EvalServiceName + "/Check"
)

// EvalService compiles and runs submitted source. Requests carry the source
// as a google.protobuf.StringValue; replies are a google.protobuf.Struct.
type EvalService struct {
	pool  *WorkerPool
	cache *store.Cache
	cfg   vm.Config
}

// NewEvalService creates an EvalService. cache may be nil.
func NewEvalService(pool *WorkerPool, cache *store.Cache, cfg vm.Config) *EvalService {
	return &EvalService{pool: pool, cache: cache, cfg: cfg}
}

// Eval compiles and executes a program on a pool worker. Compile and
// runtime failures are reported in the reply with success = false; only
// malformed requests and pool failures are RPC errors.
func (s *EvalService) Eval(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	source := req.Msg.GetValue()
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	result, err := s.pool.Do(ctx, func(ctx context.Context) (any, error) {
		prog, err := script.Load(source, s.cache)
		if err != nil {
			return failureReply(err, nil), nil
		}
		outcome, err := script.Run(ctx, prog, s.cfg, nil)
		if err != nil {
			return failureReply(err, outcome), nil
		}
		return map[string]any{
			"success": true,
			"value":   outcome.Value,
			"kind":    outcome.Kind,
			"output":  outcome.Output,
			"steps":   outcome.Steps,
		}, nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, connect.NewError(connect.CodeDeadlineExceeded, err)
		}
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	return replyStruct(result.(map[string]any))
}

// Check compiles source without running it and reports the first error,
// if any, together with the analyzer's warnings.
func (s *EvalService) Check(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	source := req.Msg.GetValue()
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	reply := map[string]any{"valid": true}
	file, err := compiler.Parse(source)
	if err == nil {
		_, err = compiler.CompileFile(file)
	}
	if err != nil {
		reply = failureReply(err, nil)
		reply["valid"] = false
		delete(reply, "success")
	} else {
		var warnings []any
		for _, w := range compiler.Analyze(file) {
			warnings = append(warnings, w.String())
		}
		reply["warnings"] = warnings
	}
	return replyStruct(reply)
}

// failureReply describes err. A runtime failure keeps the output printed
// before it and its line.
func failureReply(err error, outcome *script.Outcome) map[string]any {
	stage, kind := script.Classify(err)
	reply := map[string]any{
		"success": false,
		"error":   err.Error(),
		"stage":   string(stage),
		"kind":    kind,
	}
	if line := errorLine(err); line > 0 {
		reply["line"] = line
	}
	if outcome != nil {
		reply["output"] = outcome.Output
		reply["steps"] = outcome.Steps
	}
	return reply
}

func errorLine(err error) int {
	var le *compiler.LexError
	var ce *compiler.CompileError
	var re *vm.RuntimeError
	switch {
	case errors.As(err, &le):
		return le.Span.Start.Line
	case errors.As(err, &ce):
		return ce.Span.Start.Line
	case errors.As(err, &re):
		return re.Line
	}
	return 0
}

func replyStruct(fields map[string]any) (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}
