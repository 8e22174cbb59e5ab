package engine

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lazypower/memgraph/internal/apperr"
	"github.com/lazypower/memgraph/internal/metrics"
	"github.com/lazypower/memgraph/internal/store"
)

// Weights balance the three recall score components.
type Weights struct {
	Recency    float64 `json:"recency" koanf:"recency" validate:"gte=0,lte=1"`
	Importance float64 `json:"importance" koanf:"importance" validate:"gte=0,lte=1"`
	Relevance  float64 `json:"relevance" koanf:"relevance" validate:"gte=0,lte=1"`
}

var validate = validator.New()

// Validate reports a VALIDATION error when a weight falls outside [0,1].
func (w Weights) Validate() error {
	if err := validate.Struct(w); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperr.Validation("recall", "weights.%s must be within [0,1]", strings.ToLower(verrs[0].Field()))
		}
		return apperr.Validation("recall", "%v", err)
	}
	return nil
}

// DefaultWeights favors relevance and importance equally over recency.
func DefaultWeights() Weights {
	return Weights{Recency: 0.2, Importance: 0.4, Relevance: 0.4}
}

// Engine runs recall and consolidation against one owner-scoped store.
type Engine struct {
	Store *store.Store

	matcher Matcher
	weights Weights
	log     *zap.Logger
	metrics *metrics.Manager
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMatcher swaps the candidate matcher.
func WithMatcher(m Matcher) Option {
	return func(e *Engine) { e.matcher = m }
}

// WithWeights sets the default recall weights.
func WithWeights(w Weights) Option {
	return func(e *Engine) { e.weights = w }
}

// WithLogger sets the logger for best-effort failures.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics records recall and consolidation metrics.
func WithMetrics(m *metrics.Manager) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine over s.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		Store:   s,
		matcher: SubstringMatcher{},
		weights: DefaultWeights(),
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}
