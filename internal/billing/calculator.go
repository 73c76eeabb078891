// Package billing prices a consumption figure under a service
// configuration. The calculator is pure: same inputs, same Calculation,
// no side effects.
package billing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	catalogdomain "github.com/utiliko/billing/internal/catalog/domain"
	consumptiondomain "github.com/utiliko/billing/internal/consumption/domain"
)

var (
	ErrUnsupportedPricingModel = errors.New("unsupported_pricing_model")
	ErrInvalidRateSchedule     = errors.New("invalid_rate_schedule")
)

// Calculation is the priced outcome for one service configuration over
// one billing period.
type Calculation struct {
	TotalAmount    decimal.Decimal `json:"total_amount"`
	BaseAmount     decimal.Decimal `json:"base_amount"`
	Details        map[string]any  `json:"details"`
	TariffSnapshot map[string]any  `json:"tariff_snapshot"`
}

// IsZero reports whether the calculation produced no billable amount.
func (c Calculation) IsZero() bool { return c.TotalAmount.IsZero() }

// ToMap renders the calculation for an invoice item snapshot. Amounts
// are strings so the snapshot survives JSON round-trips losslessly.
func (c Calculation) ToMap() map[string]any {
	return map[string]any{
		"total_amount":    c.TotalAmount.String(),
		"base_amount":     c.BaseAmount.String(),
		"details":         c.Details,
		"tariff_snapshot": c.TariffSnapshot,
	}
}

type Calculator struct{}

func NewCalculator() *Calculator { return &Calculator{} }

// Calculate prices consumption under the configuration's pricing
// model. Amounts are rounded to two decimal places.
func (c *Calculator) Calculate(cfg catalogdomain.ServiceConfiguration, consumption consumptiondomain.Consumption, periodStart, periodEnd time.Time) (Calculation, error) {
	if len(cfg.RateSchedule) == 0 {
		return Calculation{}, ErrInvalidRateSchedule
	}

	switch cfg.PricingModel {
	case catalogdomain.PricingFixedMonthly:
		return c.fixedMonthly(cfg, periodStart, periodEnd)
	case catalogdomain.PricingConsumptionBased:
		return c.consumptionBased(cfg, consumption)
	case catalogdomain.PricingTimeOfUse:
		return c.timeOfUse(cfg, consumption)
	default:
		return Calculation{}, ErrUnsupportedPricingModel
	}
}

func (c *Calculator) fixedMonthly(cfg catalogdomain.ServiceConfiguration, periodStart, periodEnd time.Time) (Calculation, error) {
	monthlyRate, ok := cfg.RateDecimal("monthly_rate")
	if !ok {
		return Calculation{}, ErrInvalidRateSchedule
	}

	adjusted := c.seasonalRate(cfg, monthlyRate, periodStart, periodEnd)
	total := adjusted.Round(2)

	return Calculation{
		TotalAmount: total,
		BaseAmount:  monthlyRate.Round(2),
		Details: map[string]any{
			"pricing_model":       catalogdomain.PricingFixedMonthly,
			"monthly_rate":        monthlyRate.String(),
			"seasonal_adjustment": !adjusted.Equal(monthlyRate),
		},
		TariffSnapshot: tariffSnapshot(cfg),
	}, nil
}

func (c *Calculator) consumptionBased(cfg catalogdomain.ServiceConfiguration, consumption consumptiondomain.Consumption) (Calculation, error) {
	unitRate, ok := cfg.RateDecimal("unit_rate")
	if !ok {
		return Calculation{}, ErrInvalidRateSchedule
	}

	total := unitRate.Mul(decimal.NewFromFloat(consumption.Total())).Round(2)

	return Calculation{
		TotalAmount: total,
		BaseAmount:  total,
		Details: map[string]any{
			"pricing_model":     catalogdomain.PricingConsumptionBased,
			"unit_rate":         unitRate.String(),
			"total_consumption": consumption.Total(),
		},
		TariffSnapshot: tariffSnapshot(cfg),
	}, nil
}

func (c *Calculator) timeOfUse(cfg catalogdomain.ServiceConfiguration, consumption consumptiondomain.Consumption) (Calculation, error) {
	zoneRates := cfg.ZoneRates()
	if len(zoneRates) == 0 {
		return Calculation{}, ErrInvalidRateSchedule
	}

	zones := consumption.Zones()
	if zones == nil {
		zones = map[string]float64{"default": consumption.Total()}
	}

	total := decimal.Zero
	breakdown := make(map[string]any, len(zones))
	for zone, zoneConsumption := range zones {
		rate, ok := zoneRates[zone]
		if !ok {
			rate = zoneRates["default"]
		}
		amount := rate.Mul(decimal.NewFromFloat(zoneConsumption)).Round(2)
		total = total.Add(amount)
		breakdown[zone] = map[string]any{
			"consumption": zoneConsumption,
			"rate":        rate.String(),
			"amount":      amount.String(),
		}
	}

	return Calculation{
		TotalAmount: total.Round(2),
		BaseAmount:  total.Round(2),
		Details: map[string]any{
			"pricing_model":  catalogdomain.PricingTimeOfUse,
			"zone_breakdown": breakdown,
		},
		TariffSnapshot: tariffSnapshot(cfg),
	}, nil
}

// seasonalRate adjusts a fixed rate when the schedule carries a
// multiplier for the period's season.
func (c *Calculator) seasonalRate(cfg catalogdomain.ServiceConfiguration, rate decimal.Decimal, periodStart, periodEnd time.Time) decimal.Decimal {
	adjustments, ok := cfg.RateSchedule["seasonal_adjustments"].(map[string]any)
	if !ok {
		return rate
	}

	var key string
	switch consumptiondomain.SeasonOf(periodStart, periodEnd) {
	case consumptiondomain.SeasonSummer:
		key = "summer_multiplier"
	case consumptiondomain.SeasonWinter:
		key = "winter_multiplier"
	default:
		return rate
	}

	multiplier, ok := toDecimal(adjustments[key])
	if !ok {
		return rate
	}
	return rate.Mul(multiplier)
}

func tariffSnapshot(cfg catalogdomain.ServiceConfiguration) map[string]any {
	return map[string]any{
		"service_configuration_id": cfg.ID.String(),
		"pricing_model":            cfg.PricingModel,
		"rate_schedule":            map[string]any(cfg.RateSchedule),
	}
}

func toDecimal(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}
