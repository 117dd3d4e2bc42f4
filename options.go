package maildedup

import (
	"log/slog"
	"time"

	"github.com/hupe1980/maildedup/persistence"
)

// FlushPolicy controls when committed state is written to the snapshot.
type FlushPolicy int

const (
	// FlushSync writes a snapshot after every successful commit, before
	// Process returns. Strongest durability, highest request latency.
	FlushSync FlushPolicy = iota

	// FlushBackground marks state dirty on commit and lets a background
	// goroutine write snapshots, bounded by the configured max delay.
	FlushBackground
)

type options struct {
	topK               int
	threshold          float64
	distanceNormalizer float64
	scopeBySender      bool
	persistence        *persistence.Manager
	flushPolicy        FlushPolicy
	flushMaxDelay      time.Duration
	metricsCollector   MetricsCollector
	logger             *Logger
}

// Option configures Engine constructor behavior.
type Option func(*options)

// WithTopK configures how many nearest neighbors the duplicate check
// considers. Default is 5.
func WithTopK(k int) Option {
	return func(o *options) {
		o.topK = k
	}
}

// WithThreshold configures the duplicate similarity threshold in [0,1].
// A candidate with similarity >= threshold is a duplicate. Default is 0.95.
func WithThreshold(threshold float64) Option {
	return func(o *options) {
		o.threshold = threshold
	}
}

// WithDistanceNormalizer configures the divisor converting squared L2
// distance to similarity:
//
//	similarity = 1 - min(distance/normalizer, 1)
//
// The default of 100 suits embeddings whose typical inter-document
// distances fall well below 100; calibrate it against the chosen
// embedding space.
func WithDistanceNormalizer(normalizer float64) Option {
	return func(o *options) {
		o.distanceNormalizer = normalizer
	}
}

// WithScopeBySender restricts duplicate checks to entries from the same
// sender address. Two senders submitting identical text then both commit.
func WithScopeBySender(enabled bool) Option {
	return func(o *options) {
		o.scopeBySender = enabled
	}
}

// WithPersistence configures snapshot persistence. Without it the engine
// is purely in-memory and New always cold-starts.
func WithPersistence(pm *persistence.Manager) Option {
	return func(o *options) {
		o.persistence = pm
	}
}

// WithFlushPolicy configures when snapshots are written. maxDelay bounds
// how long a committed entry may stay unflushed under FlushBackground;
// it is ignored for FlushSync.
func WithFlushPolicy(policy FlushPolicy, maxDelay time.Duration) Option {
	return func(o *options) {
		o.flushPolicy = policy
		o.flushMaxDelay = maxDelay
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		topK:               5,
		threshold:          0.95,
		distanceNormalizer: 100,
		flushPolicy:        FlushSync,
		flushMaxDelay:      5 * time.Second,
		metricsCollector:   NoopMetricsCollector{},
		logger:             NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

func (o *options) validate() error {
	if o.topK <= 0 {
		return &ConfigError{Field: "topK", Reason: "must be positive"}
	}
	if o.threshold < 0 || o.threshold > 1 {
		return &ConfigError{Field: "threshold", Reason: "must be in [0,1]"}
	}
	if o.distanceNormalizer <= 0 {
		return &ConfigError{Field: "distanceNormalizer", Reason: "must be positive"}
	}
	if o.flushPolicy == FlushBackground && o.flushMaxDelay <= 0 {
		return &ConfigError{Field: "flushMaxDelay", Reason: "must be positive for background flushing"}
	}
	return nil
}
