// Package mnemoerr defines the sentinel error taxonomy shared across mnemo's
// packages. Kinds are distinguished with errors.Is against these sentinels;
// callers should never type-assert on a concrete error type.
package mnemoerr

import "errors"

var (
	// ErrValidation marks a caller error: bad role, empty content, malformed
	// markers, or an out-of-range configuration value.
	ErrValidation = errors.New("mnemo: validation error")

	// ErrStorage marks a storage backend I/O failure.
	ErrStorage = errors.New("mnemo: storage error")

	// ErrProvider marks an embedder or reflector failure.
	ErrProvider = errors.New("mnemo: provider error")

	// ErrBudgetExceeded marks a single recall item that exceeds the full
	// token budget when no other source can supply content.
	ErrBudgetExceeded = errors.New("mnemo: token budget exceeded")

	// ErrSessionNotFound marks a lookup miss on a session id.
	ErrSessionNotFound = errors.New("mnemo: session not found")

	// ErrEpisodeNotFound marks a lookup miss on an episode id.
	ErrEpisodeNotFound = errors.New("mnemo: episode not found")

	// ErrFactNotFound marks a lookup miss on a fact id.
	ErrFactNotFound = errors.New("mnemo: fact not found")
)
