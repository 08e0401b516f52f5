package entities

import "time"

// LogRecord is the JSON wire format for a log record shipped from a guest to
// the host through the log_message import.
type LogRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Attrs     []LogAttr `json:"attrs,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Call      uint64    `json:"call,omitempty"` // Sequence number of the UDF call that logged, 0 outside a call
}

// LogAttr represents a single slog attribute for wire transfer.
type LogAttr struct {
	Key   string `json:"key"`
	Type  string `json:"type"`  // "string", "int64", "uint64", "bool", "float64", "time", "duration", "error", "json", "group", "any"
	Value string `json:"value"` // String representation of the value
}

// GuestErrorMessage is the optional structured form of a message reported
// through the guest error channel. Guests may also report plain text.
type GuestErrorMessage struct {
	Kind    string `json:"kind"` // "decode" for undecodable input, anything else is a UDF failure
	Message string `json:"message"`
}
