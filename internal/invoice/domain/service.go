package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type GenerateRequest struct {
	OrgID       snowflake.ID
	OccupantID  snowflake.ID
	PeriodStart time.Time
	PeriodEnd   time.Time
	// Actor is the authorization subject, e.g. "user:123" or "system".
	Actor string
}

type BulkRequest struct {
	OrgID       snowflake.ID
	OccupantIDs []snowflake.ID
	PeriodStart time.Time
	PeriodEnd   time.Time
	Actor       string
}

type BulkItem struct {
	OccupantID snowflake.ID `json:"occupant_id"`
	InvoiceID  snowflake.ID `json:"invoice_id"`
}

type BulkFailure struct {
	OccupantID snowflake.ID `json:"occupant_id"`
	Reason     string       `json:"reason"`
}

// BulkResult partitions a bulk run. One occupant's failure never
// aborts the remaining batch.
type BulkResult struct {
	Successful []BulkItem    `json:"successful"`
	Failed     []BulkFailure `json:"failed"`
	Skipped    []BulkFailure `json:"skipped"`
}

type ListInvoicesRequest struct {
	OrgID      snowflake.ID
	OccupantID snowflake.ID
	Status     string
	Limit      int
}

type Service interface {
	Generate(ctx context.Context, req GenerateRequest) (*Invoice, error)
	GenerateBulk(ctx context.Context, req BulkRequest) (*BulkResult, error)
	Recalculate(ctx context.Context, orgID snowflake.ID, invoiceID snowflake.ID) (*Invoice, error)
	Finalize(ctx context.Context, orgID snowflake.ID, invoiceID snowflake.ID, actor string) (*Invoice, error)
	Get(ctx context.Context, orgID snowflake.ID, invoiceID snowflake.ID) (*Invoice, error)
	List(ctx context.Context, req ListInvoicesRequest) ([]Invoice, error)
	History(ctx context.Context, orgID snowflake.ID, occupantID snowflake.ID, months int) ([]Invoice, error)
}

var (
	ErrInvoiceNotFound  = errors.New("invoice_not_found")
	ErrOccupantNotFound = errors.New("occupant_not_found")
	ErrInvoiceExists    = errors.New("invoice_exists")
	ErrInvoiceFinalized = errors.New("invoice_finalized")
	ErrNotDraft         = errors.New("invoice_not_draft")
	ErrZeroTotal        = errors.New("invoice_zero_total")
	ErrNoActiveMeters   = errors.New("no_active_meters")
	ErrInvalidPeriod    = errors.New("invalid_period")
)
