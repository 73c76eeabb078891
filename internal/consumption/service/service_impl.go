// Package service implements the consumption calculator. It turns an
// ordered sequence of validated readings into a non-negative
// consumption figure, handling zoned and multi-value meters.
package service

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/utiliko/billing/internal/catalog/domain"
	"github.com/utiliko/billing/internal/clock"
	"github.com/utiliko/billing/internal/consumption/domain"
	meterdomain "github.com/utiliko/billing/internal/meter/domain"
	"github.com/utiliko/billing/pkg/db/option"
	"github.com/utiliko/billing/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	readings repository.Repository[meterdomain.MeterReading]
	meters   repository.Repository[meterdomain.Meter]
	configs  repository.Repository[catalogdomain.ServiceConfiguration]
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("consumption.service"),
		clock:    p.Clock,
		readings: repository.ProvideStore[meterdomain.MeterReading](p.DB),
		meters:   repository.ProvideStore[meterdomain.Meter](p.DB),
		configs:  repository.ProvideStore[catalogdomain.ServiceConfiguration](p.DB),
	}
}

func (s *Service) Calculate(ctx context.Context, meter meterdomain.Meter, cfg *catalogdomain.ServiceConfiguration, periodStart, periodEnd time.Time) (domain.Result, error) {
	if !periodStart.Before(periodEnd) {
		return domain.Result{}, domain.ErrInvalidPeriod
	}

	readings, err := s.readingsForPeriod(ctx, meter, periodStart, periodEnd)
	if err != nil {
		return domain.Result{}, err
	}
	if len(readings) < 2 {
		return domain.Result{}, domain.ErrNoData
	}

	var (
		consumption domain.Consumption
		rollover    bool
		method      string
	)
	if meter.SupportsZones {
		consumption, rollover = zonedConsumption(readings)
		method = domain.MethodZoned
	} else {
		value, r := seriesConsumption(readings)
		consumption = domain.Total(value)
		rollover = r
		method = domain.MethodSimple
	}

	raw := consumption.Total()
	season := domain.SeasonOf(periodStart, periodEnd)
	seasonalApplied := false
	if cfg != nil {
		if multiplier, ok := cfg.SeasonalMultiplier(season); ok {
			consumption = scale(consumption, multiplier)
			seasonalApplied = true
		}
	}

	return domain.Result{
		Consumption:      consumption,
		Raw:              raw,
		ReadingCount:     len(readings),
		Method:           method,
		Season:           season,
		SeasonalApplied:  seasonalApplied,
		RolloverDetected: rollover,
	}, nil
}

func (s *Service) CalculateForMeter(ctx context.Context, orgID snowflake.ID, meterID snowflake.ID, periodStart, periodEnd time.Time) (domain.Result, error) {
	meter, cfg, err := s.resolveMeter(ctx, orgID, meterID)
	if err != nil {
		return domain.Result{}, err
	}
	return s.Calculate(ctx, *meter, cfg, periodStart, periodEnd)
}

func (s *Service) resolveMeter(ctx context.Context, orgID snowflake.ID, meterID snowflake.ID) (*meterdomain.Meter, *catalogdomain.ServiceConfiguration, error) {
	meter, err := s.meters.FindOne(ctx, &meterdomain.Meter{ID: meterID, OrgID: orgID})
	if err != nil {
		return nil, nil, err
	}
	if meter == nil {
		return nil, nil, meterdomain.ErrMeterNotFound
	}
	cfg, err := s.configs.FindOne(ctx, &catalogdomain.ServiceConfiguration{ID: meter.ServiceConfigID, OrgID: orgID})
	if err != nil {
		return nil, nil, err
	}
	return meter, cfg, nil
}

func (s *Service) readingsForPeriod(ctx context.Context, meter meterdomain.Meter, periodStart, periodEnd time.Time) ([]*meterdomain.MeterReading, error) {
	filter := &meterdomain.MeterReading{
		OrgID:            meter.OrgID,
		MeterID:          meter.ID,
		ValidationStatus: meterdomain.ValidationValidated,
	}
	return s.readings.Find(ctx, filter,
		option.ApplyOperator(option.Condition{Field: "reading_date", Operator: option.GTE, Value: periodStart}),
		option.ApplyOperator(option.Condition{Field: "reading_date", Operator: option.LTE, Value: periodEnd}),
		option.WithOrder("reading_date ASC, zone ASC"),
	)
}

// zonedConsumption sums per-zone deltas. Each zone is floored at zero
// independently so one zone's rollover cannot cancel another zone's
// real usage.
func zonedConsumption(readings []*meterdomain.MeterReading) (domain.Consumption, bool) {
	byZone := make(map[string][]*meterdomain.MeterReading)
	for _, reading := range readings {
		byZone[zoneKey(reading)] = append(byZone[zoneKey(reading)], reading)
	}

	zones := make(map[string]float64, len(byZone))
	rollover := false
	for zone, zoneReadings := range byZone {
		if len(zoneReadings) < 2 {
			zones[zone] = 0
			continue
		}
		value, r := seriesConsumption(zoneReadings)
		zones[zone] = value
		rollover = rollover || r
	}
	return domain.ByZone(zones), rollover
}

// seriesConsumption derives consumption from one ordered series of
// readings. Multi-value rows are diffed pairwise per key; plain rows
// use last minus first. Negative deltas read as zero and flag a
// counter rollover.
func seriesConsumption(readings []*meterdomain.MeterReading) (float64, bool) {
	sorted := make([]*meterdomain.MeterReading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ReadingDate.Before(sorted[j].ReadingDate)
	})

	if hasMultiValue(sorted) {
		return multiValueConsumption(sorted)
	}

	first := sorted[0]
	last := sorted[len(sorted)-1]
	delta := last.Value.Sub(first.Value).InexactFloat64()
	if delta < 0 {
		return 0, true
	}
	return delta, false
}

func hasMultiValue(readings []*meterdomain.MeterReading) bool {
	for _, reading := range readings {
		if len(reading.ReadingValues) > 0 {
			return true
		}
	}
	return false
}

func multiValueConsumption(readings []*meterdomain.MeterReading) (float64, bool) {
	total := 0.0
	rollover := false
	for i := 1; i < len(readings); i++ {
		delta, r := readingDelta(readings[i-1], readings[i])
		total += delta
		rollover = rollover || r
	}
	return total, rollover
}

// readingDelta compares two consecutive readings. For multi-value rows
// only keys present and numeric on both sides contribute; unreadable
// pairs contribute zero.
func readingDelta(previous, current *meterdomain.MeterReading) (float64, bool) {
	if len(current.ReadingValues) > 0 {
		total := 0.0
		rollover := false
		for key, rawCur := range current.ReadingValues {
			cur, ok := numeric(rawCur)
			if !ok {
				continue
			}
			prev, ok := numeric(previous.ReadingValues[key])
			if !ok {
				continue
			}
			delta := cur - prev
			if delta < 0 {
				rollover = true
				continue
			}
			total += delta
		}
		return total, rollover
	}

	delta := current.Value.Sub(previous.Value).InexactFloat64()
	if delta < 0 {
		return 0, true
	}
	return delta, false
}

func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func scale(c domain.Consumption, multiplier float64) domain.Consumption {
	if !c.IsZoned() {
		return domain.Total(c.Total() * multiplier)
	}
	zones := c.Zones()
	for zone, value := range zones {
		zones[zone] = value * multiplier
	}
	return domain.ByZone(zones)
}

func zoneKey(reading *meterdomain.MeterReading) string {
	if reading.Zone == nil || *reading.Zone == "" {
		return "default"
	}
	return *reading.Zone
}
