// Package logging provides a minimal logging interface and adapters for groupmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the group session, the tool executor and agents use for observability. This
// package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - MeshLogger with component / session attributes and event helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "text", Output: os.Stderr})
//	sess, err := group.NewSession(triage, agents, func(o *group.Options) { o.Logger = logger })
package logging
