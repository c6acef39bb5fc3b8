package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// Name identifies a task on the work queue.
type Name string

const (
	// NameProcessDebtorRegister asks the worker to rebuild a community's debtor register.
	NameProcessDebtorRegister Name = "process_debtor_register"

	// NameSendEmail asks the worker to mail the register to the community.
	NameSendEmail Name = "send_email"

	// NameQueryDatabase runs a read query against the remote dataset.
	NameQueryDatabase Name = "query_database"
)

// Envelope is the message published to the work queue for one call.
//
// CorrelationID is unique among outstanding calls of the publishing client
// and is echoed back by the worker on the reply.
type Envelope struct {
	TaskName      Name            `json:"task_name"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id"`
	DeadlineMS    int64           `json:"deadline_ms"`
}

// NewEnvelope marshals payload and builds an envelope for one call.
func NewEnvelope(name Name, payload any, correlationID string, deadline time.Duration) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Envelope{
		TaskName:      name,
		Payload:       raw,
		CorrelationID: correlationID,
		DeadlineMS:    deadline.Milliseconds(),
	}, nil
}

// Deadline returns the envelope deadline as a duration.
func (e Envelope) Deadline() time.Duration {
	return time.Duration(e.DeadlineMS) * time.Millisecond
}

// Result is the worker's reply to one envelope.
//
// Data is kept raw so each task variant can decode it into its own schema.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *string         `json:"error,omitempty"`
}

// ErrorText returns the worker-provided error message, or "" when none was sent.
func (r Result) ErrorText() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// HasData reports whether the reply carries a non-null data object.
func (r Result) HasData() bool {
	return len(r.Data) > 0 && string(r.Data) != "null"
}

// DecodeData unmarshals the reply data into v.
func (r Result) DecodeData(v any) error {
	if !r.HasData() {
		return fmt.Errorf("reply has no data")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode reply data: %w", err)
	}
	return nil
}

// DecodeResult parses a raw reply body.
func DecodeResult(body []byte) (Result, error) {
	var r Result
	if err := json.Unmarshal(body, &r); err != nil {
		return Result{}, fmt.Errorf("decode reply: %w", err)
	}
	return r, nil
}

// Succeeded builds a success reply carrying data. Used by in-process workers and tests.
func Succeeded(data any) (Result, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Result{}, fmt.Errorf("marshal reply data: %w", err)
	}
	return Result{Success: true, Data: raw}, nil
}

// Failed builds a failure reply with the given message.
func Failed(msg string) Result {
	return Result{Success: false, Error: &msg}
}
