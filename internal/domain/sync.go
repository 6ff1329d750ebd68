package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// PendingOperation is one row of the device's durable outbound queue. It is
// written in the same local transaction as the domain mutation it describes
// and survives until the center acknowledges it.
type PendingOperation struct {
	ID           string          `json:"id"`
	EntityType   string          `json:"entity_type"`
	EntityID     string          `json:"entity_id"`
	Operation    string          `json:"operation"`
	Payload      json.RawMessage `json:"data"`
	CreatedAt    time.Time       `json:"created_at"`
	Acknowledged bool            `json:"-"`
}

type PushRequest struct {
	DeviceID   string             `json:"device_id"`
	Operations []PendingOperation `json:"operations"`
}

type OperationStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s OperationStatus) Acknowledgeable() bool {
	return s.Status == StatusSynced || s.Status == StatusAlreadyExists
}

type PushResponse struct {
	Sales            []OperationStatus `json:"sales"`
	Refunds          []OperationStatus `json:"refunds"`
	StockAdjustments []OperationStatus `json:"stock_adjustments"`
	Shifts           []OperationStatus `json:"shifts"`
}

// All returns every per-operation status regardless of entity type.
func (r PushResponse) All() []OperationStatus {
	out := make([]OperationStatus, 0, len(r.Sales)+len(r.Refunds)+len(r.StockAdjustments)+len(r.Shifts))
	out = append(out, r.Sales...)
	out = append(out, r.Refunds...)
	out = append(out, r.StockAdjustments...)
	out = append(out, r.Shifts...)
	return out
}

type PullRequest struct {
	DeviceID   string     `json:"device_id"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

// PullResponse carries reference data modified after the request checkpoint.
// The device advances its checkpoint to SyncTimestamp, never to its own
// wall clock, so rows created between request and response are not skipped.
type PullResponse struct {
	Products      []Product  `json:"products"`
	Categories    []Category `json:"categories"`
	Users         []User     `json:"users"`
	Store         *Store     `json:"store,omitempty"`
	SyncTimestamp time.Time  `json:"sync_timestamp"`
}

// ShiftClosePayload is the update payload for a shift close. Opening data
// travels on the create operation; the close carries only what changed.
type ShiftClosePayload struct {
	ID               string    `json:"id"`
	ClosingCashCents int64     `json:"closing_cash_cents"`
	TotalSalesCents  int64     `json:"total_sales_cents"`
	ClosedAt         time.Time `json:"closed_at"`
}

// Payload is the decoded form of a PendingOperation's data. Exactly one
// field is non-nil, matching the operation's entity type.
type Payload struct {
	Sale            *Sale
	Refund          *Refund
	StockAdjustment *StockAdjustment
	ShiftOpen       *Shift
	ShiftClose      *ShiftClosePayload
}

// DecodePayload interprets an operation's raw payload according to its
// entity type and operation, so apply logic switches on typed variants
// instead of re-reading loose JSON.
func DecodePayload(op PendingOperation) (Payload, error) {
	switch op.EntityType {
	case EntitySale:
		if op.Operation != OpCreate {
			return Payload{}, fmt.Errorf("sale operation %q not supported", op.Operation)
		}
		var sale Sale
		if err := json.Unmarshal(op.Payload, &sale); err != nil {
			return Payload{}, fmt.Errorf("decode sale payload: %w", err)
		}
		return Payload{Sale: &sale}, nil
	case EntityRefund:
		if op.Operation != OpCreate {
			return Payload{}, fmt.Errorf("refund operation %q not supported", op.Operation)
		}
		var refund Refund
		if err := json.Unmarshal(op.Payload, &refund); err != nil {
			return Payload{}, fmt.Errorf("decode refund payload: %w", err)
		}
		return Payload{Refund: &refund}, nil
	case EntityStockAdjustment:
		if op.Operation != OpCreate {
			return Payload{}, fmt.Errorf("stock adjustment operation %q not supported", op.Operation)
		}
		var adj StockAdjustment
		if err := json.Unmarshal(op.Payload, &adj); err != nil {
			return Payload{}, fmt.Errorf("decode stock adjustment payload: %w", err)
		}
		return Payload{StockAdjustment: &adj}, nil
	case EntityShift:
		switch op.Operation {
		case OpCreate:
			var shift Shift
			if err := json.Unmarshal(op.Payload, &shift); err != nil {
				return Payload{}, fmt.Errorf("decode shift payload: %w", err)
			}
			return Payload{ShiftOpen: &shift}, nil
		case OpUpdate:
			var closeReq ShiftClosePayload
			if err := json.Unmarshal(op.Payload, &closeReq); err != nil {
				return Payload{}, fmt.Errorf("decode shift close payload: %w", err)
			}
			return Payload{ShiftClose: &closeReq}, nil
		default:
			return Payload{}, fmt.Errorf("shift operation %q not supported", op.Operation)
		}
	default:
		return Payload{}, fmt.Errorf("unknown entity type %q", op.EntityType)
	}
}
