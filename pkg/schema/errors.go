package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeCompile           = "COMPILE_ERROR"
	ErrCodeNotCompiled       = "NOT_COMPILED"
	ErrCodeUnknownNode       = "UNKNOWN_NODE"
	ErrCodeUndefinedEdge     = "UNDEFINED_EDGE"
	ErrCodeStepLimitExceeded = "STEP_LIMIT_EXCEEDED"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeNodeExecution     = "NODE_EXECUTION"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExpression        = "EXPRESSION_ERROR"
	ErrCodeRouteUnavailable  = "ROUTE_UNAVAILABLE"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeJournal           = "JOURNAL_ERROR"
)

// AloeError is the structured error type for all aloegraph operations.
type AloeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Node    string         `json:"node,omitempty"`
	Cause   error          `json:"-"`
}

func (e *AloeError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.Node, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AloeError) Unwrap() error {
	return e.Cause
}

// NewError creates a new AloeError.
func NewError(code, message string) *AloeError {
	return &AloeError{Code: code, Message: message}
}

// NewErrorf creates a new AloeError with a formatted message.
func NewErrorf(code, format string, args ...any) *AloeError {
	return &AloeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node name to the error.
func (e *AloeError) WithNode(node string) *AloeError {
	e.Node = node
	return e
}

// WithCause attaches an underlying cause.
func (e *AloeError) WithCause(err error) *AloeError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *AloeError) WithDetails(details map[string]any) *AloeError {
	e.Details = details
	return e
}
