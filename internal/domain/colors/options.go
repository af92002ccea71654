package colors

// Option configures a KMeans extractor.
type Option func(*KMeans)

// WithK sets the number of dominant colours.
func WithK(k int) Option {
	return func(km *KMeans) {
		if k > 0 {
			km.k = k
		}
	}
}

// WithSampleSide sets the side of the square sample the image is resized to.
func WithSampleSide(side int) Option {
	return func(km *KMeans) {
		if side > 0 {
			km.sampleSide = side
		}
	}
}

// WithMaxIter bounds the number of Lloyd iterations.
func WithMaxIter(n int) Option {
	return func(km *KMeans) {
		if n > 0 {
			km.maxIter = n
		}
	}
}
