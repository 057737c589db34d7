// Package resync rebuilds counter state from a full replay of channel history.
package resync

import "github.com/okian/potally/pkg/logger"

// Option applies a configuration option to the Resynchronizer.
type Option func(*Resynchronizer)

// WithPageSize sets how many messages are requested per history page.
func WithPageSize(n int) Option {
	return func(r *Resynchronizer) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Resynchronizer) {
		if l != nil {
			r.logger = l
		}
	}
}
