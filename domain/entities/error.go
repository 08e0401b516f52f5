package entities

import "fmt"

// ErrorDetail provides structured error information.
// Used by the CLI to report failures in a stable, machine-readable form.
// Error Types: "load", "allocation", "protocol", "guest_fault", "guest", "decode", "config", "internal"
type ErrorDetail struct {
	// Message is a human-readable error description.
	Message string `json:"message"`

	// Type categorizes the error.
	Type string `json:"type"`

	// Code is a machine-readable error code.
	Code string `json:"code"`

	// ExitCode is the process exit status the CLI uses for this error.
	ExitCode int `json:"exit_code"`

	// IsTimeout indicates if this was a watchdog timeout.
	IsTimeout bool `json:"is_timeout,omitempty"`
}

// Error implements the error interface.
func (e *ErrorDetail) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Type != "" && e.Type != "internal" {
		msg = fmt.Sprintf("%s: %s", e.Type, msg)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Code)
	}
	return msg
}

// NewErrorDetail creates a new ErrorDetail with the given type and message.
func NewErrorDetail(errorType, message string) *ErrorDetail {
	return &ErrorDetail{
		Type:    errorType,
		Message: message,
	}
}

// WithCode returns the ErrorDetail with the given code attached.
func (e *ErrorDetail) WithCode(code string) *ErrorDetail {
	e.Code = code
	return e
}
