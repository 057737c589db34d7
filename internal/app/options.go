package service

import (
	"fmt"
	"strings"

	"github.com/okian/potally/internal/adapters/repository"
	"github.com/okian/potally/pkg/logger"
)

// BufferPolicy decides what happens to messages buffered while a resync runs.
type BufferPolicy string

const (
	// BufferDiscard drops every message enqueued before the resync commit.
	BufferDiscard BufferPolicy = "discard"
	// BufferReplay processes them after the commit; ids the rebuild already
	// counted are skipped.
	BufferReplay BufferPolicy = "replay"
)

// ParseBufferPolicy validates a policy name. Empty means BufferDiscard.
func ParseBufferPolicy(s string) (BufferPolicy, error) {
	switch p := BufferPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return BufferDiscard, nil
	case BufferDiscard, BufferReplay:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBufferPolicy, s)
	}
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithBackend sets the durable backend for the counter store.
// The service takes ownership and closes it on Stop.
func WithBackend(b repository.Backend) Option {
	return func(s *Service) {
		if b != nil {
			s.backend = b
		}
	}
}

// WithToken sets the tracked token.
func WithToken(token string) Option {
	return func(s *Service) {
		if token != "" {
			s.token = token
		}
	}
}

// WithCommandPrefix sets the prefix that marks command messages.
func WithCommandPrefix(prefix string) Option {
	return func(s *Service) {
		if prefix != "" {
			s.commandPrefix = prefix
		}
	}
}

// WithQueueSize sets the maximum size of the ingestion queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the message id window.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithHistoryPageSize sets the page size used by resync.
func WithHistoryPageSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// WithBufferPolicy sets the resync buffer policy.
func WithBufferPolicy(p BufferPolicy) Option {
	return func(s *Service) {
		if p != "" {
			s.bufferPolicy = p
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
