// Package groupmesh is a high-level façade over group sessions and their
// persistence. Most applications:
//  1. create a Mesh via New() (optionally overriding the in-memory store)
//  2. build agents and declare their handoffs (in code or via config)
//  3. call Run with a session id; the outcome is saved and returned
//
// The façade delegates orchestration to group.Session while keeping setup
// concise. Defaults are safe for local development and testing; production
// deployments typically supply a durable store (session/redis) and a
// structured logger.
package groupmesh

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/groupmesh/agent"
	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/group"
	"github.com/hupe1980/groupmesh/logging"
	"github.com/hupe1980/groupmesh/metrics"
	"github.com/hupe1980/groupmesh/session"
)

// Options configures the Mesh.
type Options struct {
	// MaxConcurrentRuns bounds sessions running at the same time. Zero
	// means unlimited.
	MaxConcurrentRuns int
	// SessionStore defaults to an in-memory store.
	SessionStore session.Store
	// Logger, Metrics and TracerProvider are handed to every session unless
	// a run option overrides them.
	Logger         logging.Logger
	Metrics        metrics.Recorder
	TracerProvider trace.TracerProvider
}

// Mesh runs group sessions and persists their transcripts.
type Mesh struct {
	opts   Options
	sem    *semaphore.Weighted
	logger logging.Logger
}

// New creates a Mesh with optional overrides.
func New(optFns ...func(o *Options)) *Mesh {
	opts := Options{
		SessionStore: session.NewInMemoryStore(),
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	m := &Mesh{opts: opts, logger: logging.OrNoOp(opts.Logger)}
	if opts.MaxConcurrentRuns > 0 {
		m.sem = semaphore.NewWeighted(int64(opts.MaxConcurrentRuns))
	}
	return m
}

// Store returns the session store.
func (m *Mesh) Store() session.Store { return m.opts.SessionStore }

// Run executes a group session and saves its outcome under sessionID (a
// fresh id when empty). A session aborted by an error is saved with the
// partial transcript and the error is returned alongside the record.
func (m *Mesh) Run(
	ctx context.Context,
	sessionID string,
	initial agent.Agent,
	agents []agent.Agent,
	messages []core.Message,
	optFns ...func(o *group.Options),
) (*session.Record, error) {
	if m.sem != nil {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer m.sem.Release(1)
	}

	if sessionID == "" {
		sessionID = core.NewID()
	}

	logger := m.opts.Logger
	if ml, ok := logger.(*logging.MeshLogger); ok {
		logger = ml.WithSession(sessionID)
	}

	opts := append([]func(o *group.Options){func(o *group.Options) {
		o.SessionID = sessionID
		o.Logger = logger
		o.Metrics = m.opts.Metrics
		o.TracerProvider = m.opts.TracerProvider
	}}, optFns...)

	res, runErr := group.Run(ctx, initial, agents, messages, opts...)
	if res == nil {
		return nil, runErr
	}

	rec := session.NewRecord(sessionID, res)
	// A cancelled run still persists its partial transcript.
	if err := m.opts.SessionStore.Save(context.WithoutCancel(ctx), rec); err != nil {
		return rec, fmt.Errorf("save session %s: %w", sessionID, err)
	}

	m.logger.Info("mesh.session.saved", "session", sessionID, "rounds", res.Rounds, "reason", res.Reason)
	return rec, runErr
}

// Get loads a saved session.
func (m *Mesh) Get(ctx context.Context, sessionID string) (*session.Record, error) {
	return m.opts.SessionStore.Get(ctx, sessionID)
}

// Sessions lists the saved session ids.
func (m *Mesh) Sessions(ctx context.Context) ([]string, error) {
	return m.opts.SessionStore.List(ctx)
}
