package notify

import (
	"context"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/types"
)

// Kind groups events by topic.
type Kind string

const (
	KindStatus    Kind = "status"
	KindPlan      Kind = "plan"
	KindAdmission Kind = "admission"
	KindRevision  Kind = "revision"
)

// Event is a decision or state change worth publishing.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	Status    types.Status `json:"status,omitempty"`
	Operation string       `json:"operation,omitempty"`
	Rank      *int         `json:"rank,omitempty"`
	Admitted  *bool        `json:"admitted,omitempty"`
	TargetSoC float64      `json:"targetSoc,omitempty"`
	Count     int          `json:"count,omitempty"`
	Message   string       `json:"message,omitempty"`
}

// Notifier publishes events. Publishing is best effort and never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Nop drops every event.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(ctx context.Context, e Event) {}
