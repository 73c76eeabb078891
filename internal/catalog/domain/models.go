// Package domain contains the utility service catalog: what is billed
// and under which pricing rules. The billing core reads these rows but
// never mutates them.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Pricing models supported by the billing calculator.
const (
	PricingFixedMonthly     = "fixed_monthly"
	PricingConsumptionBased = "consumption_based"
	PricingTimeOfUse        = "time_of_use"
)

// UtilityService describes one metered (or flat) service offered by an
// organization, e.g. electricity, cold water, heating.
type UtilityService struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID     snowflake.ID `json:"org_id" gorm:"column:org_id;not null;index:ux_services_org_code,priority:1"`
	Code      string       `json:"code" gorm:"type:text;not null;index:ux_services_org_code,priority:2"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	Kind      string       `json:"kind" gorm:"type:text;not null"`
	Unit      string       `json:"unit" gorm:"type:text;not null"`
	Active    bool         `json:"active" gorm:"not null;default:true"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UtilityService) TableName() string { return "utility_services" }

// ServiceConfiguration binds a utility service to a property with a
// concrete pricing model and rate schedule. RateSchedule keys depend on
// the model: monthly_rate (fixed_monthly), unit_rate
// (consumption_based), zone_rates (time_of_use). SeasonalAdjustments
// maps a season name to a consumption multiplier.
type ServiceConfiguration struct {
	ID                  snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrgID               snowflake.ID      `json:"org_id" gorm:"column:org_id;not null;index"`
	PropertyID          snowflake.ID      `json:"property_id" gorm:"not null;index"`
	ServiceID           snowflake.ID      `json:"service_id" gorm:"not null;index"`
	Service             *UtilityService   `json:"service,omitempty" gorm:"foreignKey:ServiceID"`
	PricingModel        string            `json:"pricing_model" gorm:"type:text;not null"`
	RateSchedule        datatypes.JSONMap `json:"rate_schedule" gorm:"type:jsonb;not null;default:'{}'"`
	SeasonalAdjustments datatypes.JSONMap `json:"seasonal_adjustments" gorm:"type:jsonb;not null;default:'{}'"`
	EffectiveFrom       time.Time         `json:"effective_from" gorm:"not null"`
	EffectiveUntil      *time.Time        `json:"effective_until"`
	Active              bool              `json:"active" gorm:"not null;default:true"`
	CreatedAt           time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ServiceConfiguration) TableName() string { return "service_configurations" }

// EffectiveAt reports whether the configuration covers the given date.
func (c ServiceConfiguration) EffectiveAt(at time.Time) bool {
	if !c.Active {
		return false
	}
	if at.Before(c.EffectiveFrom) {
		return false
	}
	if c.EffectiveUntil != nil && at.After(*c.EffectiveUntil) {
		return false
	}
	return true
}

// RateDecimal reads a numeric rate schedule entry. Missing or
// non-numeric entries read as zero with ok=false.
func (c ServiceConfiguration) RateDecimal(key string) (decimal.Decimal, bool) {
	return toDecimal(c.RateSchedule[key])
}

// ZoneRates reads the time-of-use zone rate table.
func (c ServiceConfiguration) ZoneRates() map[string]decimal.Decimal {
	raw, ok := c.RateSchedule["zone_rates"].(map[string]any)
	if !ok {
		return nil
	}
	rates := make(map[string]decimal.Decimal, len(raw))
	for zone, value := range raw {
		if rate, ok := toDecimal(value); ok {
			rates[zone] = rate
		}
	}
	return rates
}

// SeasonalMultiplier returns the consumption multiplier configured for
// a season, if any. Entries may be plain numbers or
// {"multiplier": n} objects.
func (c ServiceConfiguration) SeasonalMultiplier(season string) (float64, bool) {
	entry, ok := c.SeasonalAdjustments[season]
	if !ok {
		return 0, false
	}
	if nested, ok := entry.(map[string]any); ok {
		entry = nested["multiplier"]
	}
	if d, ok := toDecimal(entry); ok {
		multiplier, _ := d.Float64()
		return multiplier, true
	}
	return 0, false
}

func toDecimal(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case decimal.Decimal:
		return v, true
	default:
		return decimal.Zero, false
	}
}
