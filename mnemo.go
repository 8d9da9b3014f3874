// Package mnemo is the public entry point for the session-scoped memory
// layer: a thin re-export of internal/session.Session, following the
// teacher's convention of keeping orchestration logic under internal/ and
// exposing a small root package as the stable surface (compare
// internal/rag/service.Service being wrapped by a slim top-level API in
// the teacher's own cmd/ callers).
package mnemo

import (
	"mnemo/internal/config"
	"mnemo/internal/ports"
	"mnemo/internal/recall"
	"mnemo/internal/session"
	"mnemo/internal/storage"
)

// Re-exported types so callers never need to import mnemo/internal/*.
type (
	Session           = session.Session
	IngestResult      = session.IngestResult
	Role              = storage.Role
	ContextItem       = storage.ContextItem
	ReflectionTrace   = storage.ReflectionTrace
	SessionStats      = storage.SessionStats
	RecallOptions     = recall.Options
	Embedder          = ports.Embedder
	Reflector         = ports.Reflector
	Metrics           = ports.Metrics
	Clock             = ports.Clock
	TraceCallback     = ports.TraceCallback
	Config            = config.Config
)

const (
	RoleUser      = storage.RoleUser
	RoleAssistant = storage.RoleAssistant
	RoleTool      = storage.RoleTool
)

// DefaultConfig returns the library's documented defaults (spec §4.7
// wiring default: callers override fields before passing to New).
func DefaultConfig() Config {
	return config.Default()
}

// New constructs a Session bound to exactly one session id. Initialize
// must be called before Ingest/Recall (spec §4.7 constraint: one session
// per facade instance).
func New(sessionID string, backend storage.Backend, embedder Embedder, reflector Reflector, counter interface{ Count(string) int }, cfg Config, clock Clock, metrics Metrics) (*Session, error) {
	return session.New(sessionID, backend, embedder, reflector, counter, cfg, clock, metrics)
}
