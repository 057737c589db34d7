// Package repository holds the durable per-user counter store and its backends.
package repository

import (
	"time"

	"github.com/okian/potally/pkg/logger"
)

// Option applies a configuration option to the CounterStore.
type Option func(*CounterStore)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *CounterStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsUpdateInterval sets the interval for background metrics updates.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(s *CounterStore) {
		if interval > 0 {
			s.metricsUpdateInterval = interval
		}
	}
}
