package criteria

import (
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/rafaeljc/engage/internal/state"
)

// Evaluator evaluates compiled criteria against a Context.
//
// It is stateless apart from its injected dependencies; all mutable data lives
// in the Context. Evaluation is not safe for concurrent use on the same Context
// because resolving random buckets writes to Context.State.
type Evaluator struct {
	logger *slog.Logger
	now    state.Clock
	random func() float64
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock overrides the time source used for current_time and $before/$after.
func WithClock(clock state.Clock) Option {
	return func(e *Evaluator) {
		if clock != nil {
			e.now = clock
		}
	}
}

// WithRandom overrides the uniform [0,1) source behind random buckets.
func WithRandom(random func() float64) Option {
	return func(e *Evaluator) {
		if random != nil {
			e.random = random
		}
	}
}

// NewEvaluator creates an Evaluator. If logger is nil, it defaults to slog.Default().
func NewEvaluator(logger *slog.Logger, opts ...Option) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{
		logger: logger,
		now:    state.SystemClock,
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate reports whether ctx satisfies the criteria tree.
// A nil node matches nothing.
func (e *Evaluator) Evaluate(node *Node, ctx *Context) bool {
	if node == nil || ctx == nil {
		return false
	}
	if ctx.State == nil {
		ctx.State = state.New()
	}
	return e.eval(node, ctx)
}

// eval walks the tree. The loops below stop at the first deciding child:
// later children are not resolved at all, so they cannot cache random buckets.
func (e *Evaluator) eval(n *Node, ctx *Context) bool {
	switch n.kind {
	case nodeAll:
		for _, child := range n.children {
			if !e.eval(child, ctx) {
				return false
			}
		}
		return true

	case nodeAny:
		for _, child := range n.children {
			if e.eval(child, ctx) {
				return true
			}
		}
		return false

	case nodeNot:
		return !e.eval(n.children[0], ctx)

	case nodeLeaf:
		value := e.resolve(n.path, ctx)
		for _, c := range n.conditions {
			if !e.test(value, c.Operator, c.Parameter, n.path) {
				return false
			}
		}
		return true

	default:
		e.logger.Warn("skipping invalid criteria node", slog.String("reason", n.reason))
		return false
	}
}

// drawBucket returns a uniform sample in [0, 100) with one decimal.
// Flooring (rather than rounding) keeps 100.0 out of the range.
func (e *Evaluator) drawBucket() float64 {
	return math.Floor(e.random()*1000) / 10
}
