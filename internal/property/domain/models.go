// Package domain contains persistence models for properties and the
// people who occupy them.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Property is a billable building or unit cluster owned by an
// organization.
type Property struct {
	ID        snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrgID     snowflake.ID      `json:"org_id" gorm:"column:org_id;not null;index"`
	Name      string            `json:"name" gorm:"type:text;not null"`
	Address   string            `json:"address" gorm:"type:text;not null"`
	Metadata  datatypes.JSONMap `json:"metadata" gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Property) TableName() string { return "properties" }

// Occupant is the party invoices are issued to. An occupant belongs to
// exactly one property; MovedOutAt nil means the tenancy is current.
type Occupant struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID      snowflake.ID `json:"org_id" gorm:"column:org_id;not null;index"`
	PropertyID snowflake.ID `json:"property_id" gorm:"not null;index"`
	UnitLabel  string       `json:"unit_label" gorm:"type:text"`
	Name       string       `json:"name" gorm:"type:text;not null"`
	Email      string       `json:"email" gorm:"type:text"`
	MovedInAt  time.Time    `json:"moved_in_at" gorm:"not null"`
	MovedOutAt *time.Time   `json:"moved_out_at"`
	Active     bool         `json:"active" gorm:"not null;default:true"`
	CreatedAt  time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Occupant) TableName() string { return "occupants" }
