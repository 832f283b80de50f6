// Package validation holds the small checks shared by constructors and API
// boundaries.
package validation

import "fmt"

// AssertNotNil panics if a mandatory dependency is missing. It is meant for
// constructors, where a nil dependency is a wiring bug and not a runtime
// condition.
//
//	validation.AssertNotNil(pool, "database pool")
func AssertNotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}

// AssertNotNilInterface is AssertNotNil for interface-typed dependencies.
func AssertNotNilInterface(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}
