// Package domain contains the consumption value objects shared by the
// calculator, the billing engine and invoice assembly.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/utiliko/billing/internal/catalog/domain"
	meterdomain "github.com/utiliko/billing/internal/meter/domain"
)

// Consumption is either a single total or a per-zone breakdown.
// Downstream pricing code branches on IsZoned instead of probing an
// untyped payload for keys.
type Consumption struct {
	total float64
	zones map[string]float64
	zoned bool
}

// Total builds a single-figure consumption.
func Total(value float64) Consumption {
	return Consumption{total: value}
}

// ByZone builds a per-zone consumption breakdown.
func ByZone(zones map[string]float64) Consumption {
	total := 0.0
	copied := make(map[string]float64, len(zones))
	for zone, value := range zones {
		copied[zone] = value
		total += value
	}
	return Consumption{total: total, zones: copied, zoned: true}
}

// Total returns the aggregate consumption across all zones.
func (c Consumption) Total() float64 { return c.total }

// IsZoned reports whether a per-zone breakdown is available.
func (c Consumption) IsZoned() bool { return c.zoned }

// Zones returns the per-zone breakdown, nil for single totals.
func (c Consumption) Zones() map[string]float64 {
	if !c.zoned {
		return nil
	}
	zones := make(map[string]float64, len(c.zones))
	for zone, value := range c.zones {
		zones[zone] = value
	}
	return zones
}

// Breakdown renders the consumption for a snapshot payload.
func (c Consumption) Breakdown() map[string]any {
	out := map[string]any{"total": c.total}
	if c.zoned {
		zones := make(map[string]any, len(c.zones))
		for zone, value := range c.zones {
			zones[zone] = value
		}
		out["zones"] = zones
	}
	return out
}

// Calculation methods reported on a Result.
const (
	MethodSimple = "simple"
	MethodZoned  = "zoned"
)

// Result is the outcome of one consumption derivation. Consumption is
// never negative; Raw is the figure before seasonal adjustment.
type Result struct {
	Consumption      Consumption `json:"consumption"`
	Raw              float64     `json:"raw_consumption"`
	ReadingCount     int         `json:"reading_count"`
	Method           string      `json:"method"`
	Season           string      `json:"season"`
	SeasonalApplied  bool        `json:"seasonal_applied"`
	RolloverDetected bool        `json:"rollover_detected"`
}

// Seasons as used by seasonal adjustment tables.
const (
	SeasonWinter = "winter"
	SeasonSpring = "spring"
	SeasonSummer = "summer"
	SeasonAutumn = "autumn"
)

// SeasonOf picks the season for a billing interval. The midpoint
// decides when the interval straddles a season boundary.
func SeasonOf(periodStart, periodEnd time.Time) string {
	mid := periodStart.Add(periodEnd.Sub(periodStart) / 2)
	switch mid.Month() {
	case time.December, time.January, time.February:
		return SeasonWinter
	case time.March, time.April, time.May:
		return SeasonSpring
	case time.June, time.July, time.August:
		return SeasonSummer
	default:
		return SeasonAutumn
	}
}

// Classification statuses for the historical-pattern check.
const (
	StatusNormal           = "normal"
	StatusHighVariance     = "high_variance"
	StatusInsufficientData = "insufficient_data"
)

// Classification is advisory. It is recorded on invoice snapshots and
// never blocks billing.
type Classification struct {
	Status            string  `json:"status"`
	VariancePercent   float64 `json:"variance_percent,omitempty"`
	HistoricalAverage float64 `json:"historical_average,omitempty"`
}

// HistoryEntry is one month's consumption for a meter.
type HistoryEntry struct {
	Period       string    `json:"period"`
	PeriodStart  time.Time `json:"period_start"`
	PeriodEnd    time.Time `json:"period_end"`
	Consumption  float64   `json:"consumption"`
	ReadingCount int       `json:"reading_count"`
}

type Service interface {
	// Calculate derives consumption for one meter over [start, end].
	// cfg may be nil; seasonal adjustment is then skipped.
	Calculate(ctx context.Context, meter meterdomain.Meter, cfg *catalogdomain.ServiceConfiguration, periodStart, periodEnd time.Time) (Result, error)
	// CalculateForMeter resolves the meter and its configuration first.
	CalculateForMeter(ctx context.Context, orgID snowflake.ID, meterID snowflake.ID, periodStart, periodEnd time.Time) (Result, error)
	Classify(ctx context.Context, meter meterdomain.Meter, consumption float64, periodStart time.Time) (Classification, error)
	History(ctx context.Context, orgID snowflake.ID, meterID snowflake.ID, months int) ([]HistoryEntry, error)
}

var (
	// ErrNoData marks a period with fewer than two validated readings.
	// Callers treat it as a benign skip, not a failure.
	ErrNoData        = errors.New("no_consumption_data")
	ErrInvalidPeriod = errors.New("invalid_period")
)
