// Package apperr defines the typed failures surfaced by the query pipeline.
//
// Each layer returns one of these types (possibly wrapped); the HTTP layer
// maps them to status codes with errors.As.
package apperr

import (
	"fmt"
	"strings"
)

// ConfigurationError reports an invalid endpoint description. It is raised at
// load time, or at request time when an invariant was not caught earlier.
type ConfigurationError struct {
	Endpoint string
	Message  string
}

func (e *ConfigurationError) Error() string {
	if e.Endpoint == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error in endpoint %q: %s", e.Endpoint, e.Message)
}

// Configf builds a ConfigurationError for an endpoint.
func Configf(endpoint, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Endpoint: endpoint, Message: fmt.Sprintf(format, args...)}
}

// ConfigurationErrors aggregates every problem found while loading descriptions.
type ConfigurationErrors []*ConfigurationError

func (e ConfigurationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ValidationError is a caller error: missing or malformed request parameters.
type ValidationError struct {
	Endpoint string
	// Missing lists every required parameter absent from the request.
	Missing []string
	// Param names the offending parameter for type/format failures.
	Param   string
	Message string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return "Required parameters not specified: " + strings.Join(e.Missing, ", ")
	}
	return e.Message
}

// ExecutionError wraps a store failure or a request-time SQL mismatch.
// Execution errors are never cached.
type ExecutionError struct {
	Endpoint string
	Message  string
	Err      error
}

func (e *ExecutionError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "query execution failed"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// AssemblyInvariantError means the assembler hit a state that valid
// descriptions cannot produce: a missing column or an unloaded select key.
type AssemblyInvariantError struct {
	Endpoint string
	Message  string
	Err      error
}

func (e *AssemblyInvariantError) Error() string {
	prefix := "assembly invariant violated"
	if e.Endpoint != "" {
		prefix = fmt.Sprintf("assembly invariant violated in endpoint %q", e.Endpoint)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return prefix + ": " + e.Message
}

func (e *AssemblyInvariantError) Unwrap() error {
	return e.Err
}

// NotFoundError is returned for an unknown endpoint name.
type NotFoundError struct {
	Endpoint string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("endpoint %q not found", e.Endpoint)
}
