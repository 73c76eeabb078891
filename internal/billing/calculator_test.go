package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	catalogdomain "github.com/utiliko/billing/internal/catalog/domain"
	consumptiondomain "github.com/utiliko/billing/internal/consumption/domain"
	"gorm.io/datatypes"
)

var (
	marchStart = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	marchEnd   = time.Date(2025, time.March, 31, 23, 59, 59, 0, time.UTC)
	janStart   = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	janEnd     = time.Date(2025, time.January, 31, 23, 59, 59, 0, time.UTC)
	julStart   = time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)
	julEnd     = time.Date(2025, time.July, 31, 23, 59, 59, 0, time.UTC)
)

func TestCalculate_FixedMonthly(t *testing.T) {
	calc := NewCalculator()
	cfg := catalogdomain.ServiceConfiguration{
		PricingModel: catalogdomain.PricingFixedMonthly,
		RateSchedule: datatypes.JSONMap{"monthly_rate": 10.00},
	}

	result, err := calc.Calculate(cfg, consumptiondomain.Total(0), marchStart, marchEnd)
	require.NoError(t, err)

	assert.True(t, result.TotalAmount.Equal(decimal.NewFromFloat(10.00)), "got %s", result.TotalAmount)
	assert.Equal(t, false, result.Details["seasonal_adjustment"])
}

func TestCalculate_FixedMonthlySeasonal(t *testing.T) {
	calc := NewCalculator()
	cfg := catalogdomain.ServiceConfiguration{
		PricingModel: catalogdomain.PricingFixedMonthly,
		RateSchedule: datatypes.JSONMap{
			"monthly_rate": 10.00,
			"seasonal_adjustments": map[string]any{
				"winter_multiplier": 1.2,
				"summer_multiplier": 0.5,
			},
		},
	}

	winter, err := calc.Calculate(cfg, consumptiondomain.Total(0), janStart, janEnd)
	require.NoError(t, err)
	assert.True(t, winter.TotalAmount.Equal(decimal.NewFromFloat(12.00)), "got %s", winter.TotalAmount)
	assert.Equal(t, true, winter.Details["seasonal_adjustment"])

	summer, err := calc.Calculate(cfg, consumptiondomain.Total(0), julStart, julEnd)
	require.NoError(t, err)
	assert.True(t, summer.TotalAmount.Equal(decimal.NewFromFloat(5.00)), "got %s", summer.TotalAmount)

	// Spring gets the base rate.
	spring, err := calc.Calculate(cfg, consumptiondomain.Total(0), marchStart, marchEnd)
	require.NoError(t, err)
	assert.True(t, spring.TotalAmount.Equal(decimal.NewFromFloat(10.00)), "got %s", spring.TotalAmount)
}

func TestCalculate_ConsumptionBased(t *testing.T) {
	calc := NewCalculator()
	cfg := catalogdomain.ServiceConfiguration{
		PricingModel: catalogdomain.PricingConsumptionBased,
		RateSchedule: datatypes.JSONMap{"unit_rate": 0.5},
	}

	result, err := calc.Calculate(cfg, consumptiondomain.Total(250), marchStart, marchEnd)
	require.NoError(t, err)
	assert.True(t, result.TotalAmount.Equal(decimal.NewFromFloat(125.00)), "got %s", result.TotalAmount)
	assert.Equal(t, 250.0, result.Details["total_consumption"])
}

func TestCalculate_TimeOfUse(t *testing.T) {
	calc := NewCalculator()
	cfg := catalogdomain.ServiceConfiguration{
		PricingModel: catalogdomain.PricingTimeOfUse,
		RateSchedule: datatypes.JSONMap{
			"zone_rates": map[string]any{"day": 0.30, "night": 0.20, "default": 0.30},
		},
	}

	result, err := calc.Calculate(cfg, consumptiondomain.ByZone(map[string]float64{
		"day":   100,
		"night": 50,
	}), marchStart, marchEnd)
	require.NoError(t, err)

	// 100 * 0.30 + 50 * 0.20
	assert.True(t, result.TotalAmount.Equal(decimal.NewFromFloat(40.00)), "got %s", result.TotalAmount)

	breakdown, ok := result.Details["zone_breakdown"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, breakdown, 2)
}

func TestCalculate_TimeOfUseFallsBackToDefaultRate(t *testing.T) {
	calc := NewCalculator()
	cfg := catalogdomain.ServiceConfiguration{
		PricingModel: catalogdomain.PricingTimeOfUse,
		RateSchedule: datatypes.JSONMap{
			"zone_rates": map[string]any{"default": 0.25},
		},
	}

	// A single-total consumption is priced under the default zone.
	result, err := calc.Calculate(cfg, consumptiondomain.Total(100), marchStart, marchEnd)
	require.NoError(t, err)
	assert.True(t, result.TotalAmount.Equal(decimal.NewFromFloat(25.00)), "got %s", result.TotalAmount)

	// Unknown zones inherit the default rate too.
	result, err = calc.Calculate(cfg, consumptiondomain.ByZone(map[string]float64{"peak": 100}), marchStart, marchEnd)
	require.NoError(t, err)
	assert.True(t, result.TotalAmount.Equal(decimal.NewFromFloat(25.00)), "got %s", result.TotalAmount)
}

func TestCalculate_InvalidSchedule(t *testing.T) {
	calc := NewCalculator()

	_, err := calc.Calculate(catalogdomain.ServiceConfiguration{
		PricingModel: catalogdomain.PricingFixedMonthly,
	}, consumptiondomain.Total(0), marchStart, marchEnd)
	assert.ErrorIs(t, err, ErrInvalidRateSchedule)

	_, err = calc.Calculate(catalogdomain.ServiceConfiguration{
		PricingModel: catalogdomain.PricingFixedMonthly,
		RateSchedule: datatypes.JSONMap{"unit_rate": 0.5},
	}, consumptiondomain.Total(0), marchStart, marchEnd)
	assert.ErrorIs(t, err, ErrInvalidRateSchedule)

	_, err = calc.Calculate(catalogdomain.ServiceConfiguration{
		PricingModel: "tiered",
		RateSchedule: datatypes.JSONMap{"unit_rate": 0.5},
	}, consumptiondomain.Total(0), marchStart, marchEnd)
	assert.ErrorIs(t, err, ErrUnsupportedPricingModel)
}

func TestCalculation_Snapshot(t *testing.T) {
	calc := NewCalculator()
	cfg := catalogdomain.ServiceConfiguration{
		PricingModel: catalogdomain.PricingConsumptionBased,
		RateSchedule: datatypes.JSONMap{"unit_rate": 3.10},
	}

	result, err := calc.Calculate(cfg, consumptiondomain.Total(7), marchStart, marchEnd)
	require.NoError(t, err)

	snapshot := result.ToMap()
	assert.Equal(t, "21.7", snapshot["total_amount"])

	tariff, ok := snapshot["tariff_snapshot"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, catalogdomain.PricingConsumptionBased, tariff["pricing_model"])
}
