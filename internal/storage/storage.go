package storage

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"paysync/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate")
	// ErrInvalidTransition is returned when a status update is not allowed from
	// the row's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// DeadLetterSink receives events the reconciler could not apply.
type DeadLetterSink interface {
	PutDroppedBatch(events []model.DroppedEvent) error
}

// CompletePayment describes a PENDING -> COMPLETED update keyed by ledger id.
// ConfirmedAt is only written the first time; a nil Fee keeps the stored fee.
type CompletePayment struct {
	OnChainID   string
	Fee         *decimal.Decimal
	ConfirmedAt time.Time
}
