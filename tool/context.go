package tool

import (
	"context"
	"sync"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/logging"
	"github.com/hupe1980/groupmesh/target"
)

// Context is handed to every tool invocation. It exposes the shared context
// store and lets the tool stage a transfer the executor turns into the
// pending override once the call batch completes.
type Context struct {
	ctx            context.Context
	store          *core.ContextStore
	functionCallID string
	caller         string
	logger         logging.Logger

	mu       sync.Mutex
	transfer target.Target
}

// NewContext constructs a tool context for one function call. caller is the
// participant whose message requested the call.
func NewContext(ctx context.Context, store *core.ContextStore, functionCallID, caller string, logger logging.Logger) *Context {
	if store == nil {
		store = core.NewContextStore(nil)
	}
	return &Context{
		ctx:            ctx,
		store:          store,
		functionCallID: functionCallID,
		caller:         caller,
		logger:         logging.OrNoOp(logger),
	}
}

// Context returns the context.Context of the invocation.
func (tc *Context) Context() context.Context { return tc.ctx }

// Store returns the shared context store.
func (tc *Context) Store() *core.ContextStore { return tc.store }

// FunctionCallID returns the id of the call being executed.
func (tc *Context) FunctionCallID() string { return tc.functionCallID }

// Caller returns the name of the participant that requested the call.
func (tc *Context) Caller() string { return tc.caller }

// Logger returns the logger associated with the tool invocation.
func (tc *Context) Logger() logging.Logger { return tc.logger }

// TransferTo stages t as the next speaker. The last staged target wins.
func (tc *Context) TransferTo(t target.Target) {
	tc.mu.Lock()
	tc.transfer = t
	tc.mu.Unlock()

	tc.logger.Info("tool.transfer.request", "from", tc.caller, "to", t.DisplayName(), "function_call_id", tc.functionCallID)
}

// Transfer returns the staged target or nil.
func (tc *Context) Transfer() target.Target {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.transfer
}
