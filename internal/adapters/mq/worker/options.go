package worker

import (
	"github.com/okian/potally/internal/domain/match"
	"github.com/okian/potally/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithPolicy sets the initial counting policy.
func WithPolicy(p match.Policy) Option {
	return func(w *InMemoryWorker) {
		w.policy.Store(&p)
	}
}
