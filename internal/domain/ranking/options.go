package ranking

import "github.com/okian/villes/internal/domain/features"

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithSchema selects the feature schema.
func WithSchema(s features.Schema) Option {
	return func(e *Engine) {
		if s.Dim > 0 {
			e.schema = s
		}
	}
}

// WithThreshold sets the number of labels required before training.
func WithThreshold(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.threshold = n
		}
	}
}

// WithLearningRate sets the perceptron update step.
func WithLearningRate(eta float64) Option {
	return func(e *Engine) {
		if eta > 0 {
			e.eta = eta
		}
	}
}

// WithMaxIter bounds the number of training epochs.
func WithMaxIter(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxIter = n
		}
	}
}
