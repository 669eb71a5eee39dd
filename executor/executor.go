// Package executor implements the tool executor: the non-conversational group
// participant that runs the callable actions requested in the previous message
// and holds the one-shot pending override staged by transfer actions.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/internal/util"
	"github.com/hupe1980/groupmesh/logging"
	"github.com/hupe1980/groupmesh/metrics"
	"github.com/hupe1980/groupmesh/target"
	"github.com/hupe1980/groupmesh/tool"
)

// Name is the reserved participant name of the tool executor.
const Name = "_Group_Tool_Executor"

// ErrDuplicateTool is returned when two different actions share a name.
var ErrDuplicateTool = errors.New("duplicate action name")

// Options configures a ToolExecutor.
type Options struct {
	// Parallelism bounds concurrently executing calls of one message.
	// Values below 1 mean sequential execution.
	Parallelism int
	Logger      logging.Logger
	Metrics     metrics.Recorder
}

// ToolExecutor runs actions on behalf of group participants.
type ToolExecutor struct {
	store   *core.ContextStore
	opts    Options
	logger  logging.Logger
	metrics metrics.Recorder

	mu      sync.RWMutex
	tools   map[string]tool.Tool
	pending target.Target
}

// New creates an executor bound to the shared context store.
func New(store *core.ContextStore, optFns ...func(o *Options)) *ToolExecutor {
	opts := Options{Parallelism: 1}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if store == nil {
		store = core.NewContextStore(nil)
	}

	return &ToolExecutor{
		store:   store,
		opts:    opts,
		logger:  logging.OrNoOp(opts.Logger),
		metrics: metrics.OrNoOp(opts.Metrics),
		tools:   make(map[string]tool.Tool),
	}
}

// Name implements core.Participant.
func (e *ToolExecutor) Name() string { return Name }

// Description implements core.Participant.
func (e *ToolExecutor) Description() string { return "Tool Execution" }

// Store returns the shared context store.
func (e *ToolExecutor) Store() *core.ContextStore { return e.store }

// Register adds actions to the registry. Registering the same tool twice, or
// two transfer actions bound to the same target or participant, is a no-op.
// Any other name collision fails.
func (e *ToolExecutor) Register(tools ...tool.Tool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, t := range tools {
		existing, ok := e.tools[t.Name()]
		if ok {
			if sameAction(existing, t) {
				continue
			}
			return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
		}
		e.tools[t.Name()] = t
	}
	return nil
}

func sameAction(a, b tool.Tool) bool {
	if a == b {
		return true
	}
	ta, okA := tool.IsTransfer(a)
	tb, okB := tool.IsTransfer(b)
	if !okA || !okB {
		return false
	}
	if target.Equal(ta, tb) {
		return true
	}
	na, okA := target.ParticipantName(ta)
	nb, okB := target.ParticipantName(tb)
	return okA && okB && na == nb
}

// Tool returns a registered action by name.
func (e *ToolExecutor) Tool(name string) (tool.Tool, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tools[name]
	return t, ok
}

// HasTool reports whether name is registered.
func (e *ToolExecutor) HasTool(name string) bool {
	_, ok := e.Tool(name)
	return ok
}

// SetPendingOverride stages t as the next transition. A previously staged
// target is replaced.
func (e *ToolExecutor) SetPendingOverride(t target.Target) {
	e.mu.Lock()
	e.pending = t
	e.mu.Unlock()

	e.logger.Info("executor.override.staged", "target", t.DisplayName())
}

// HasPendingOverride reports whether an override is staged.
func (e *ToolExecutor) HasPendingOverride() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pending != nil
}

// TakePendingOverride returns the staged override and clears it.
func (e *ToolExecutor) TakePendingOverride() (target.Target, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending == nil {
		return nil, core.ErrNoPendingOverride
	}
	t := e.pending
	e.pending = nil
	return t, nil
}

// ClearPendingOverride drops any staged override.
func (e *ToolExecutor) ClearPendingOverride() {
	e.mu.Lock()
	e.pending = nil
	e.mu.Unlock()
}

type callResult struct {
	response core.FunctionResponse
	transfer target.Target
}

// Generate executes every function call of the last message and returns one
// tool-role message with the responses in call order. Action failures become
// error responses; only context cancellation is returned as an error. When
// several calls staged a transfer, the highest call index wins.
func (e *ToolExecutor) Generate(ctx context.Context, messages []core.Message) (core.Message, error) {
	if len(messages) == 0 {
		return core.Message{}, fmt.Errorf("tool executor: no message to execute")
	}

	last := messages[len(messages)-1]
	calls := last.FunctionCalls()
	if len(calls) == 0 {
		return core.Message{}, fmt.Errorf("tool executor: last message has no function calls")
	}

	results := make([]callResult, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Parallelism)

	batchStart := time.Now()
	for i, fc := range calls {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.execute(gctx, last.Name, fc)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return core.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return core.Message{}, err
	}

	responses := make([]core.FunctionResponse, len(results))
	var winner target.Target
	for i, r := range results {
		responses[i] = r.response
		if r.transfer != nil {
			winner = r.transfer
		}
	}
	if winner != nil {
		e.SetPendingOverride(winner)
	}

	e.logger.Debug(
		"executor.batch.complete",
		"caller", last.Name,
		"count", len(calls),
		"parallelism", e.opts.Parallelism,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return core.NewFunctionResponseMessage(Name, responses...), nil
}

func (e *ToolExecutor) execute(ctx context.Context, caller string, fc core.FunctionCall) callResult {
	tc := tool.NewContext(ctx, e.store, fc.ID, caller, e.logger)

	start := time.Now()
	var (
		result any
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = panicError(r)
				e.logger.Error("executor.action.panic", "action", fc.Name, "recover", r)
			}
		}()
		result, err = e.call(tc, fc)
	}()
	dur := time.Since(start)

	e.logger.Info(
		"executor.action.executed",
		"caller", caller,
		"action", fc.Name,
		"function_call_id", fc.ID,
		"duration_ms", dur.Milliseconds(),
		"error", err != nil,
	)
	e.metrics.ToolCall(fc.Name, err != nil, dur)

	resp := core.FunctionResponse{ID: fc.ID, Name: fc.Name}
	if err != nil {
		resp.Error = err.Error()
		return callResult{response: resp}
	}
	resp.Response = result

	return callResult{response: resp, transfer: tc.Transfer()}
}

func (e *ToolExecutor) call(tc *tool.Context, fc core.FunctionCall) (any, error) {
	impl, ok := e.Tool(fc.Name)
	if !ok {
		return nil, tool.NewToolError(fc.Name, fmt.Sprintf("action %s not found", fc.Name), tool.CodeValidation)
	}

	args, err := util.ParseArguments(fc.Arguments)
	if err != nil {
		return nil, tool.NewToolError(fc.Name, err.Error(), tool.CodeValidation)
	}

	return impl.Call(tc, args)
}

func panicError(r any) error { return &panicErr{val: r, stack: debug.Stack()} }

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }
