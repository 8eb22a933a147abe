package recurrence

import (
	"io"
	"log/slog"
	"time"
)

// EngineConfig holds configuration options for the recurrence engine
type EngineConfig struct {
	// MaxGeneratedPerCall bounds the occurrences generated by one ExpandUntil call
	MaxGeneratedPerCall int
	// SubsetMaxOccurrences bounds the expansion of bounded rules when comparing them
	SubsetMaxOccurrences int

	// Result cache for HasOccurrenceInRange
	CacheEnabled bool
	CacheConfig  CacheConfig
}

// DefaultEngineConfig caps each expansion call at two years of daily events
var DefaultEngineConfig = EngineConfig{
	MaxGeneratedPerCall:  730,
	SubsetMaxOccurrences: 2 * 730,

	CacheEnabled: true,
	CacheConfig:  DefaultCacheConfig,
}

// DisabledCacheConfig turns off result caching entirely
var DisabledCacheConfig = EngineConfig{
	MaxGeneratedPerCall:  730,
	SubsetMaxOccurrences: 2 * 730,
	CacheEnabled:         false,
}

// Engine expands recurrence rules. It holds no per-event state; expansion
// state lives in an OccurrenceCache owned by the caller.
type Engine struct {
	config EngineConfig
	cache  *ResultCache
	logger *slog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger for the engine
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithConfig replaces the default engine configuration
func WithConfig(config EngineConfig) Option {
	return func(e *Engine) {
		e.config = config
	}
}

// NewEngine creates a new recurrence engine instance
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		config: DefaultEngineConfig,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.config.MaxGeneratedPerCall <= 0 {
		e.config.MaxGeneratedPerCall = DefaultEngineConfig.MaxGeneratedPerCall
	}
	if e.config.SubsetMaxOccurrences <= 0 {
		e.config.SubsetMaxOccurrences = DefaultEngineConfig.SubsetMaxOccurrences
	}
	if e.config.CacheEnabled {
		e.cache = NewResultCache(e.config.CacheConfig)
	}
	return e
}

// Close stops the result cache cleanup goroutine, if any
func (e *Engine) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}

// far bound used when a bounded rule is expanded completely
var expansionHorizon = time.Date(2038, time.January, 1, 0, 0, 0, 0, time.UTC)
