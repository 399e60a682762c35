package llm

// Outcome is the result of a fallible model step: either a validated value
// (OK) or the reason the caller must take its fallback branch.
type Outcome[T any] struct {
	Value  T
	OK     bool
	Reason string
}

func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v, OK: true}
}

func Fallback[T any](reason string) Outcome[T] {
	return Outcome[T]{Reason: reason}
}
