// internal/circulation/domain.go
package circulation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrRecordNotFound = errors.New("circulation record not found")

// Kind tags a circulation record as a rental or a hold.
type Kind string

const (
	KindRental Kind = "rental"
	KindHold   Kind = "hold"
)

// Record is a circulation record: a time-boxed rental or a hold pending
// pickup. Shared fields first, then the kind-specific ones.
type Record struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"kind"`
	Member    string    `json:"member"`
	Book      string    `json:"book"`
	CreatedAt time.Time `json:"created_at"`

	// Rental fields.
	DueDate    time.Time  `json:"due_date,omitempty"`
	ReturnDate *time.Time `json:"return_date,omitempty"`
	Extensions int        `json:"extensions,omitempty"`
	Returned   bool       `json:"returned,omitempty"`

	// Hold fields.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Active    bool      `json:"active,omitempty"`
}

// Loan periods.
const (
	RentalPeriod = 14 * 24 * time.Hour
	HoldPeriod   = 7 * 24 * time.Hour
)

// Status is the terminal state of a checkout or hold request.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusFailed    Status = "failed"
)

// RejectReason explains a rejected or failed request.
type RejectReason string

const (
	ReasonParticipantNotFound RejectReason = "participant_not_found"
	ReasonItemNotFound        RejectReason = "item_not_found"
	ReasonNoCopiesAvailable   RejectReason = "no_copies_available"
	ReasonInternalError       RejectReason = "internal_error"
)

// Outcome is the result of a checkout or hold request. Expected negative
// results (not found, exhausted) are rejections, not errors.
type Outcome struct {
	Status  Status       `json:"status"`
	Reason  RejectReason `json:"reason,omitempty"`
	Record  *Record      `json:"record,omitempty"`
	Receipt string       `json:"receipt,omitempty"`
}

func completed(record *Record, receipt string) Outcome {
	return Outcome{Status: StatusCompleted, Record: record, Receipt: receipt}
}

func rejected(reason RejectReason, receipt string) Outcome {
	return Outcome{Status: StatusRejected, Reason: reason, Receipt: receipt}
}

func failed(reason RejectReason) Outcome {
	return Outcome{Status: StatusFailed, Reason: reason}
}

// RentalCreatedEvent is journaled when a rental is issued.
type RentalCreatedEvent struct {
	RecordID uuid.UUID `json:"record_id"`
	Member   string    `json:"member"`
	Book     string    `json:"book"`
	DueDate  time.Time `json:"due_date"`
}

// HoldCreatedEvent is journaled when a hold is placed.
type HoldCreatedEvent struct {
	RecordID  uuid.UUID `json:"record_id"`
	Member    string    `json:"member"`
	Book      string    `json:"book"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RecordClosedEvent is journaled when a rental is returned or a hold is
// cancelled.
type RecordClosedEvent struct {
	RecordID uuid.UUID `json:"record_id"`
	Kind     Kind      `json:"kind"`
	Book     string    `json:"book"`
}
