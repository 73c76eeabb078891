// Package domain contains invoice persistence models and the
// draft/finalized state machine, enforced at the persistence boundary
// through gorm hooks so no code path can mutate a billed invoice.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Invoice states. Finalized is terminal.
const (
	StatusDraft     = "draft"
	StatusFinalized = "finalized"
)

// Invoice is one occupant's bill for one period. While draft it is
// recomputed wholesale; once finalized every write is rejected.
type Invoice struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrgID       snowflake.ID    `json:"org_id" gorm:"column:org_id;not null;index"`
	OccupantID  snowflake.ID    `json:"occupant_id" gorm:"not null;index"`
	PropertyID  snowflake.ID    `json:"property_id" gorm:"not null;index"`
	Number      string          `json:"number" gorm:"type:text;not null"`
	Status      string          `json:"status" gorm:"type:text;not null;default:'draft';index"`
	Currency    string          `json:"currency" gorm:"type:text;not null;default:'EUR'"`
	TotalAmount decimal.Decimal `json:"total_amount" gorm:"type:decimal(12,2);not null"`
	PeriodStart time.Time       `json:"period_start" gorm:"not null;index"`
	PeriodEnd   time.Time       `json:"period_end" gorm:"not null;index"`
	DueAt       *time.Time      `json:"due_at"`
	FinalizedAt *time.Time      `json:"finalized_at"`
	Items       []InvoiceItem   `json:"items" gorm:"foreignKey:InvoiceID"`
	CreatedAt   time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time       `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceItem is one billable line. MeterReadingSnapshot freezes the
// inputs used at computation time so a finalized invoice's arithmetic
// can be reconstructed after later reading corrections.
type InvoiceItem struct {
	ID                   snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrgID                snowflake.ID      `json:"org_id" gorm:"column:org_id;not null;index"`
	InvoiceID            snowflake.ID      `json:"invoice_id" gorm:"not null;index"`
	Description          string            `json:"description" gorm:"type:text;not null"`
	Quantity             decimal.Decimal   `json:"quantity" gorm:"type:decimal(14,3);not null"`
	Unit                 string            `json:"unit" gorm:"type:text;not null"`
	UnitPrice            decimal.Decimal   `json:"unit_price" gorm:"type:decimal(12,4);not null"`
	Total                decimal.Decimal   `json:"total" gorm:"type:decimal(12,2);not null"`
	MeterReadingSnapshot datatypes.JSONMap `json:"meter_reading_snapshot" gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt            time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }

// storedStatus reads the current status of an invoice row, bypassing
// hooks. Empty when the row does not exist yet.
func storedStatus(tx *gorm.DB, invoiceID snowflake.ID) (string, error) {
	if invoiceID == 0 {
		return "", nil
	}
	var status string
	err := tx.Session(&gorm.Session{NewDB: true, SkipHooks: true}).
		Model(&Invoice{}).
		Where("id = ?", invoiceID).
		Limit(1).
		Pluck("status", &status).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return status, nil
}

// BeforeUpdate rejects writes once the stored row is finalized. The
// finalizing update itself still sees a draft row and passes.
func (i *Invoice) BeforeUpdate(tx *gorm.DB) error {
	status, err := storedStatus(tx, i.ID)
	if err != nil {
		return err
	}
	if status == StatusFinalized {
		return ErrInvoiceFinalized
	}
	return nil
}

// BeforeDelete rejects deletion of finalized invoices.
func (i *Invoice) BeforeDelete(tx *gorm.DB) error {
	status, err := storedStatus(tx, i.ID)
	if err != nil {
		return err
	}
	if status == StatusFinalized {
		return ErrInvoiceFinalized
	}
	return nil
}

// BeforeCreate rejects new items under a finalized invoice.
func (it *InvoiceItem) BeforeCreate(tx *gorm.DB) error {
	return it.rejectWhenFinalized(tx)
}

// BeforeUpdate rejects item mutation under a finalized invoice.
func (it *InvoiceItem) BeforeUpdate(tx *gorm.DB) error {
	return it.rejectWhenFinalized(tx)
}

// BeforeDelete rejects item deletion under a finalized invoice.
func (it *InvoiceItem) BeforeDelete(tx *gorm.DB) error {
	return it.rejectWhenFinalized(tx)
}

func (it *InvoiceItem) rejectWhenFinalized(tx *gorm.DB) error {
	status, err := storedStatus(tx, it.InvoiceID)
	if err != nil {
		return err
	}
	if status == StatusFinalized {
		return ErrInvoiceFinalized
	}
	return nil
}
