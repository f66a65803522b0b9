package types

import (
	"fmt"
	"time"
)

// Operation is the kind of device action carried by a scheduled message.
type Operation int

const (
	OperationStartCharge Operation = iota
	OperationStopCharge
	OperationStartDischarge
	OperationStopDischarge
	OperationSetDischargeAfterSolar
)

var operationNames = map[Operation]string{
	OperationStartCharge:            "startCharge",
	OperationStopCharge:             "stopCharge",
	OperationStartDischarge:         "startDischarge",
	OperationStopDischarge:          "stopDischarge",
	OperationSetDischargeAfterSolar: "setDischargeAfterSolar",
}

func (o Operation) String() string {
	if n, ok := operationNames[o]; ok {
		return n
	}
	return fmt.Sprintf("operation(%d)", int(o))
}

// MarshalText implements encoding.TextMarshaler.
func (o Operation) MarshalText() ([]byte, error) {
	n, ok := operationNames[o]
	if !ok {
		return nil, fmt.Errorf("unknown operation: %d", int(o))
	}
	return []byte(n), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Operation) UnmarshalText(b []byte) error {
	for op, n := range operationNames {
		if n == string(b) {
			*o = op
			return nil
		}
	}
	return fmt.Errorf("unknown operation: %q", string(b))
}

// IsDischarge returns true for discharge start and stop operations.
func (o Operation) IsDischarge() bool {
	return o == OperationStartDischarge || o == OperationStopDischarge
}

// Message is a single scheduled device operation.
type Message struct {
	Operation Operation `json:"operation"`
	// Power in W, only used by OperationStartCharge.
	Power float64 `json:"power,omitempty"`
	// TargetSoC as a fraction, only used by OperationStartCharge.
	TargetSoC float64 `json:"targetSoc,omitempty"`
	// Rank is the discharge priority, lower survives longer.
	Rank *int `json:"rank,omitempty"`
}

// Ranked returns a copy of m carrying rank.
func (m Message) Ranked(rank int) Message {
	m.Rank = &rank
	return m
}

// ScheduledMessage is a message waiting in the queue.
type ScheduledMessage struct {
	SequenceID  string    `json:"sequenceID"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Message
}

// Status is the operational state recorded by the executor.
type Status string

const (
	StatusStopped     Status = "stopped"
	StatusCharging    Status = "charging"
	StatusDischarging Status = "discharging"
)

// LoadSample is one reading of the cumulative daily load counter.
type LoadSample struct {
	WH        float64   `json:"wh"`
	Timestamp time.Time `json:"timestamp"`
}
