package llm

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrEmbedding = errors.New("embedding call failed")
	ErrLLM       = errors.New("llm call failed")

	// ErrNoJSON means no JSON object could be located in model output.
	ErrNoJSON = errors.New("no JSON object in model output")
	// ErrInvalidJSON means a candidate object was found but did not parse.
	ErrInvalidJSON = errors.New("invalid JSON in model output")
)

// ClientError describes a failed model HTTP call. Kind is ErrLLM or
// ErrEmbedding so callers can match with errors.Is.
type ClientError struct {
	Kind       error
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *ClientError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, preview(e.Body, 200))
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op + ": failed"
}

func (e *ClientError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Retryable reports whether repeating the same request may succeed.
func (e *ClientError) Retryable() bool {
	if e.StatusCode == 0 {
		// transport failure, unless the body was the problem
		return !errors.Is(e.Err, errDecode)
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

var errDecode = errors.New("malformed response")

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
