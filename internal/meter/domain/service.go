package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type CreateReadingRequest struct {
	OrgID         snowflake.ID
	MeterID       snowflake.ID
	Value         decimal.Decimal
	ReadingValues datatypes.JSONMap
	Zone          *string
	ReadingDate   time.Time
	InputMethod   string
	EnteredByID   *snowflake.ID
	Actor         string
}

// CorrectionRequest mutates an existing validated reading. Nil Value /
// ReadingDate fields mean "keep the current value".
type CorrectionRequest struct {
	OrgID        snowflake.ID
	ReadingID    snowflake.ID
	Value        *decimal.Decimal
	ReadingDate  *time.Time
	ChangeReason string
	ChangedByID  snowflake.ID
	Actor        string
}

// CorrectionResult reports the audit row and the cascade outcome. The
// correction itself is committed even when every recalculation fails.
type CorrectionResult struct {
	AuditID                snowflake.ID   `json:"audit_id"`
	Reading                *MeterReading  `json:"reading"`
	RecalculatedInvoiceIDs []snowflake.ID `json:"recalculated_invoice_ids"`
	FailedInvoiceIDs       []snowflake.ID `json:"failed_invoice_ids"`
}

type ListReadingsRequest struct {
	OrgID   snowflake.ID
	MeterID snowflake.ID
	StartAt *time.Time
	EndAt   *time.Time
	Limit   int
}

type Service interface {
	GetMeter(ctx context.Context, orgID snowflake.ID, meterID snowflake.ID) (*Meter, error)
	ListMeters(ctx context.Context, orgID snowflake.ID, propertyID snowflake.ID) ([]Meter, error)
	CreateReading(ctx context.Context, req CreateReadingRequest) (*MeterReading, error)
	ListReadings(ctx context.Context, req ListReadingsRequest) ([]MeterReading, error)
	CorrectReading(ctx context.Context, req CorrectionRequest) (*CorrectionResult, error)
}

var (
	ErrMeterNotFound         = errors.New("meter_not_found")
	ErrReadingNotFound       = errors.New("reading_not_found")
	ErrInvalidValue          = errors.New("invalid_value")
	ErrReadingDateInFuture   = errors.New("reading_date_in_future")
	ErrNotMonotonic          = errors.New("reading_not_monotonic")
	ErrInvalidChangeReason   = errors.New("invalid_change_reason")
	ErrReadingNotCorrectable = errors.New("reading_not_correctable")
)
