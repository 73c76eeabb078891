// Package domain contains persistence models for meters, readings and
// the reading correction audit trail.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Reading validation lifecycle. Only validated readings feed billing.
const (
	ValidationPending   = "pending"
	ValidationValidated = "validated"
	ValidationRejected  = "rejected"
)

// How a reading entered the system.
const (
	InputManual    = "manual"
	InputEstimated = "estimated"
	InputOCR       = "ocr"
	InputAPI       = "api"
	InputImport    = "import"
)

// Meter identifies a physical measuring point on a property.
type Meter struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID           snowflake.ID `json:"org_id" gorm:"column:org_id;not null;index"`
	PropertyID      snowflake.ID `json:"property_id" gorm:"not null;index"`
	ServiceConfigID snowflake.ID `json:"service_config_id" gorm:"column:service_config_id;not null;index"`
	Serial          string       `json:"serial" gorm:"type:text;not null"`
	Kind            string       `json:"kind" gorm:"type:text;not null"`
	SupportsZones   bool         `json:"supports_zones" gorm:"not null;default:false"`
	Active          bool         `json:"active" gorm:"not null;default:true"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Meter) TableName() string { return "meters" }

// MeterReading is one timestamped counter observation. Rows are never
// deleted; a bad reading is reclassified or corrected through the
// audited correction path.
type MeterReading struct {
	ID               snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrgID            snowflake.ID      `json:"org_id" gorm:"column:org_id;not null;index"`
	MeterID          snowflake.ID      `json:"meter_id" gorm:"not null;index:ix_readings_meter_date,priority:1"`
	Value            decimal.Decimal   `json:"value" gorm:"type:decimal(14,3);not null"`
	ReadingValues    datatypes.JSONMap `json:"reading_values" gorm:"type:jsonb"`
	Zone             *string           `json:"zone" gorm:"type:text"`
	ReadingDate      time.Time         `json:"reading_date" gorm:"not null;index:ix_readings_meter_date,priority:2"`
	ValidationStatus string            `json:"validation_status" gorm:"type:text;not null;default:'pending'"`
	InputMethod      string            `json:"input_method" gorm:"type:text;not null;default:'manual'"`
	EnteredByID      *snowflake.ID     `json:"entered_by_id" gorm:"column:entered_by_id"`
	CreatedAt        time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (MeterReading) TableName() string { return "meter_readings" }

// MeterReadingAudit is one append-only record of a reading correction,
// written in the same transaction as the correction itself.
type MeterReadingAudit struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrgID          snowflake.ID    `json:"org_id" gorm:"column:org_id;not null;index"`
	ReadingID      snowflake.ID    `json:"reading_id" gorm:"not null;index"`
	ChangedByID    snowflake.ID    `json:"changed_by_id" gorm:"column:changed_by_id;not null"`
	OldValue       decimal.Decimal `json:"old_value" gorm:"type:decimal(14,3);not null"`
	NewValue       decimal.Decimal `json:"new_value" gorm:"type:decimal(14,3);not null"`
	OldReadingDate time.Time       `json:"old_reading_date" gorm:"not null"`
	NewReadingDate time.Time       `json:"new_reading_date" gorm:"not null"`
	ChangeReason   string          `json:"change_reason" gorm:"type:text;not null"`
	IPAddress      *string         `json:"ip_address" gorm:"type:text"`
	UserAgent      *string         `json:"user_agent" gorm:"type:text"`
	RequestID      *string         `json:"request_id" gorm:"type:text"`
	CreatedAt      time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (MeterReadingAudit) TableName() string { return "meter_reading_audits" }
