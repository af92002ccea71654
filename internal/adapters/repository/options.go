package repository

import (
	"github.com/okian/villes/pkg/logger"
)

// Option applies a configuration option to the JSONFileStore.
type Option func(*JSONFileStore)

// WithIndent sets the indentation of the written JSON array. An empty
// indent writes compact JSON.
func WithIndent(indent string) Option {
	return func(s *JSONFileStore) {
		s.indent = indent
	}
}

// WithLogger sets the logger used to report skipped entries.
func WithLogger(l logger.Logger) Option {
	return func(s *JSONFileStore) {
		if l != nil {
			s.logger = l
		}
	}
}
