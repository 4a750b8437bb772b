// Package audit logs every command the TSA command server handles,
// grounded on the teacher's pkg/audit (Event/Filter/FileLogger shape)
// but re-targeted from device configuration-change events to TSA
// command events: who (peer address), what (command + raw arguments),
// and the outcome (success/failed + the chain key and VLAN it touched,
// when applicable).
package audit

import (
	"fmt"
	"time"
)

// Event represents one command handled by the TSA command server.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Peer      string    `json:"peer"`
	Command   string    `json:"command"`
	Arguments string    `json:"arguments,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	ChainKey  string    `json:"chain_key,omitempty"`
	VLAN      int       `json:"vlan,omitempty"`
	PCID      int       `json:"pcid,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Filter defines criteria for querying audit events.
type Filter struct {
	Peer        string
	Command     string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates a new audit event for a just-dispatched command.
func NewEvent(peer, command, arguments string) *Event {
	return &Event{
		ID:        generateID(),
		Timestamp: time.Now(),
		Peer:      peer,
		Command:   command,
		Arguments: arguments,
	}
}

// WithChain records the canonical chain key, VLAN id, and PCID an
// addpolicychain/removepolicychain command resolved to.
func (e *Event) WithChain(key string, vlan, pcid int) *Event {
	e.ChainKey = key
	e.VLAN = vlan
	e.PCID = pcid
	return e
}

// WithSuccess marks the event as successful.
func (e *Event) WithSuccess() *Event {
	e.Success = true
	return e
}

// WithError marks the event as failed.
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets how long the command took to handle.
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

func generateID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
