package util

import (
	"fmt"
	"strings"
)

// Sentinel errors for the command-handling taxonomy (spec.md §7).
var (
	// ErrNotReady is returned when a command arrives before the agent has
	// finished its initial topology/registry load.
	ErrNotReady = fmt.Errorf("tsa: not ready")

	// ErrParse is returned when a command's arguments cannot be parsed
	// into the shape the handler expects.
	ErrParse = fmt.Errorf("tsa: parse error")

	// ErrDownstream is returned when an SDN controller or DPI controller
	// call fails. It never aborts the server loop — it is reported back
	// to the caller as a failed command.
	ErrDownstream = fmt.Errorf("tsa: downstream failure")

	// ErrUnknownCommand is returned for a command name not present in
	// the dispatch table.
	ErrUnknownCommand = fmt.Errorf("tsa: unknown command")

	// ErrNotFound is returned when a referenced policy chain, middlebox,
	// or PCID does not exist.
	ErrNotFound = fmt.Errorf("tsa: not found")

	// ErrAlreadyExists is returned when a policy chain with an identical
	// canonical key is already installed.
	ErrAlreadyExists = fmt.Errorf("tsa: already exists")
)

// ParseError wraps ErrParse with the offending raw argument string.
type ParseError struct {
	Command string
	Raw     string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing arguments for %q (%q): %s", e.Command, e.Raw, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// NewParseError builds a ParseError.
func NewParseError(command, raw, reason string) *ParseError {
	return &ParseError{Command: command, Raw: raw, Reason: reason}
}

// DownstreamError wraps ErrDownstream with the peer and call that failed.
type DownstreamError struct {
	Peer string // "sdn-controller" or "dpi-controller"
	Call string
	Err  error
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("%s call %q failed: %v", e.Peer, e.Call, e.Err)
}

func (e *DownstreamError) Unwrap() error { return ErrDownstream }

// NewDownstreamError builds a DownstreamError.
func NewDownstreamError(peer, call string, err error) *DownstreamError {
	return &DownstreamError{Peer: peer, Call: call, Err: err}
}

// ValidationBuilder accumulates validation failures across a multi-field
// argument check, the way a single returned error would otherwise have to
// be assembled by hand.
type ValidationBuilder struct {
	errors []string
}

// Add records message if condition is false.
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddErrorf records a formatted message unconditionally.
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors reports whether any message was recorded.
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns a ParseError-compatible error, or nil if nothing failed.
func (v *ValidationBuilder) Build(command, raw string) error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ParseError{Command: command, Raw: raw, Reason: strings.Join(v.errors, "; ")}
}
