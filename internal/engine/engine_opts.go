package engine

import "time"

type EngineOpt func(*Engine)

// WithLoadTimeout bounds how long a hydration may take before joiners are
// told it failed.
func WithLoadTimeout(d time.Duration) EngineOpt {
	return func(e *Engine) {
		e.loadTimeout = d
	}
}

// WithFlushTimeout bounds the save issued when a dirty scenario is evicted.
func WithFlushTimeout(d time.Duration) EngineOpt {
	return func(e *Engine) {
		e.flushTimeout = d
	}
}

// WithFlushOnEvict toggles saving dirty state when the last viewer leaves.
// With it off, live edits are scratch data unless saved explicitly.
func WithFlushOnEvict(enabled bool) EngineOpt {
	return func(e *Engine) {
		e.flushOnEvict = enabled
	}
}
