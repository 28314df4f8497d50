package extract

import (
	"errors"
	"fmt"
)

// ErrModelCall is matched by every *ModelCallError.
var ErrModelCall = errors.New("model call failed")

// ModelCallError wraps a network, auth, quota or timeout failure from the
// remote model.
type ModelCallError struct {
	Model    string
	Attempts int
	Err      error
}

func (e *ModelCallError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("model %s: call failed after %d attempts: %v", e.Model, e.Attempts, e.Err)
	}
	return fmt.Sprintf("model %s: call failed: %v", e.Model, e.Err)
}

func (e *ModelCallError) Unwrap() []error { return causes(ErrModelCall, e.Err) }

// ErrResponseParse is matched by every *ResponseParseError.
var ErrResponseParse = errors.New("model response is not JSON")

// ResponseParseError means the model answered but no JSON object could be
// recovered. Raw holds the full response for diagnostics.
type ResponseParseError struct {
	Raw string
	Err error
}

func (e *ResponseParseError) Error() string {
	return fmt.Sprintf("could not parse model response as JSON: %v", e.Err)
}

func (e *ResponseParseError) Unwrap() []error { return causes(ErrResponseParse, e.Err) }

func causes(kind, err error) []error {
	if err == nil {
		return []error{kind}
	}
	return []error{kind, err}
}
