package llama

import "fmt"

// Kind classifies why an invocation failed.
type Kind string

const (
	KindProcessFailure Kind = "process_failure"
	KindTimeout        Kind = "timeout"
	KindParseFailure   Kind = "parse_failure"
)

// InvocationError reports a failed run of the inference executable.
type InvocationError struct {
	Kind Kind
	Err  error
}

func (e *InvocationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invocation failed: %s", e.Kind)
	}
	return fmt.Sprintf("invocation failed (%s): %v", e.Kind, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

func invocationErr(kind Kind, err error) *InvocationError {
	return &InvocationError{Kind: kind, Err: err}
}
