package transfersaga

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransferStatus represents the lifecycle state of a transfer run.
type TransferStatus string

const (
	StatusInitiated    TransferStatus = "INITIATED"
	StatusValidating   TransferStatus = "VALIDATING"
	StatusValidated    TransferStatus = "VALIDATED"
	StatusProcessing   TransferStatus = "PROCESSING"
	StatusCompleted    TransferStatus = "COMPLETED"
	StatusFailed       TransferStatus = "FAILED"
	StatusCompensating TransferStatus = "COMPENSATING"
	StatusCompensated  TransferStatus = "COMPENSATED"
	StatusCancelled    TransferStatus = "CANCELLED"
)

// Terminal reports whether the status ends a run. A run reaches a terminal
// status exactly once.
func (s TransferStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCompensated, StatusCancelled:
		return true
	default:
		return false
	}
}

// legalTransitions lists, for each status, the statuses a run may move to.
// An empty list means the status is terminal.
var legalTransitions = map[TransferStatus][]TransferStatus{
	StatusInitiated:    {StatusValidating, StatusFailed, StatusCancelled},
	StatusValidating:   {StatusValidated, StatusFailed, StatusCancelled},
	StatusValidated:    {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing:   {StatusCompleted, StatusFailed, StatusCompensating, StatusCancelled},
	StatusCompensating: {StatusCompensated, StatusCancelled},
	StatusCompleted:    {},
	StatusFailed:       {},
	StatusCompensated:  {},
	StatusCancelled:    {},
}

// canTransition reports whether moving from one status to another is legal.
func canTransition(from, to TransferStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransferRequest describes a transfer to be orchestrated.
type TransferRequest struct {
	SourceAccount      string          `json:"source_account"`
	DestinationAccount string          `json:"destination_account"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`

	// TransferID is optional; a run-scoped ID is derived when empty.
	TransferID string `json:"transfer_id,omitempty"`
}

// Validate checks the request invariants before a run is started.
func (r TransferRequest) Validate() error {
	if r.SourceAccount == "" {
		return fmt.Errorf("source account is required")
	}
	if r.DestinationAccount == "" {
		return fmt.Errorf("destination account is required")
	}
	if r.SourceAccount == r.DestinationAccount {
		return fmt.Errorf("source and destination accounts must differ")
	}
	if r.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", r.Amount)
	}
	return nil
}

// TransferRecord is the status projection of a run. The in-memory copy held
// by the run is authoritative while the run is live; the persisted copy
// becomes authoritative once the run halts.
type TransferRecord struct {
	TransferID         string          `json:"transfer_id"`
	SourceAccount      string          `json:"source_account"`
	DestinationAccount string          `json:"destination_account"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	Status             TransferStatus  `json:"status"`
	FailureReason      string          `json:"failure_reason,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// newTransferRecord builds the initial record for a validated request.
func newTransferRecord(req TransferRequest, transferID string, now time.Time) TransferRecord {
	return TransferRecord{
		TransferID:         transferID,
		SourceAccount:      req.SourceAccount,
		DestinationAccount: req.DestinationAccount,
		Amount:             req.Amount,
		Currency:           req.Currency,
		Status:             StatusInitiated,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
