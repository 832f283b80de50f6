// Package criteria implements the targeting criteria language used by
// engagement manifests: a boolean tree of $and/$or/$not combinators over
// key-path leaves, evaluated against a session's state.
//
// Criteria are compiled once (see Compile) and evaluated many times. Evaluation
// never fails: malformed input, missing data and unknown operators all resolve
// to "not targeted".
package criteria

import (
	"time"

	"github.com/rafaeljc/engage/internal/state"
)

// Operator names as they appear in manifests. They are part of the wire format.
const (
	OpEq               = "$eq"
	OpNe               = "$ne"
	OpGt               = "$gt"
	OpGte              = "$gte"
	OpLt               = "$lt"
	OpLte              = "$lte"
	OpBefore           = "$before"
	OpAfter            = "$after"
	OpContains         = "$contains"
	OpStartsWith       = "$starts_with"
	OpEndsWith         = "$ends_with"
	OpExists           = "$exists"
	OpArrayContains    = "$array_contains"
	OpArrayNotContains = "$array_not_contains"
)

// Combinator keys.
const (
	KeyAnd = "$and"
	KeyOr  = "$or"
	KeyNot = "$not"
)

// Tags of typed parameters and bag values: {"_type": "datetime", "sec": ...}
// and {"_type": "version", "version": "..."}.
const (
	tagKey      = "_type"
	tagDateTime = "datetime"
	tagVersion  = "version"
)

// Context is everything a criteria tree can address.
type Context struct {
	// State holds code points, interaction counts, random buckets, device and person.
	State *state.State

	// Application, TimeAtInstall and IsUpdate are configuration bags supplied
	// by the host application. They are never mutated by evaluation.
	Application   map[string]any
	TimeAtInstall map[string]any
	IsUpdate      map[string]any

	// Override, when set, answers any path whose first segment is one of its keys
	// before the regular roots are consulted.
	Override map[string]any
}

// Version is a dotted version string resolved from a version-tagged bag value.
type Version string

// Parameter is the literal operand of a condition.
// Only the types declared below implement it.
type Parameter interface {
	parameter()
}

// StringParam is a string literal.
type StringParam string

// NumberParam is a numeric literal. All JSON numbers are float64.
type NumberParam float64

// BoolParam is a boolean literal.
type BoolParam bool

// DateTimeParam is {"_type":"datetime","sec":<epoch seconds>}.
type DateTimeParam struct {
	Seconds float64
}

// VersionParam is {"_type":"version","version":"<dotted>"}.
type VersionParam struct {
	Text string
}

// InvalidParam is anything else: null, arrays, untagged or unknown-tag objects.
// Every comparison against it is false.
type InvalidParam struct {
	Reason string
}

func (StringParam) parameter()   {}
func (NumberParam) parameter()   {}
func (BoolParam) parameter()     {}
func (DateTimeParam) parameter() {}
func (VersionParam) parameter()  {}
func (InvalidParam) parameter()  {}

// Time converts the epoch seconds into an instant.
func (p DateTimeParam) Time() time.Time {
	return epochToTime(p.Seconds)
}

func epochToTime(sec float64) time.Time {
	return time.UnixMilli(int64(sec * 1000))
}

// Condition is one operator/parameter pair of a leaf.
type Condition struct {
	Operator  string
	Parameter Parameter
}
