package iblt

import "go.uber.org/zap"

// Option configures an IBLT, MultiIBLT or StrataEstimator.
type Option func(*options)

type options struct {
	seed    uint64
	family  HashFamily
	logger  *zap.Logger
	modulus int
}

func defaultOptions() options {
	return options{
		family: HashXXH3,
		logger: zap.NewNop(),
	}
}

func newOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithSeed sets the base seed every hasher of the structure is derived from.
// Parties that combine structures must use the same seed.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithHashFamily selects the hash family. The default is HashXXH3.
func WithHashFamily(f HashFamily) Option {
	return func(o *options) {
		o.family = f
	}
}

// WithLogger specifies the logger used for peeling and estimation diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithModulus overrides the field modulus of a MultiIBLT. It must be at least
// 2^parties-1 and at most 65535; MinModulus picks the smallest prime. Other
// structures ignore it.
func WithModulus(n int) Option {
	return func(o *options) {
		o.modulus = n
	}
}
