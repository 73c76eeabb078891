package service

import (
	"context"
	"math"
	"time"

	"github.com/utiliko/billing/internal/consumption/domain"
	meterdomain "github.com/utiliko/billing/internal/meter/domain"
	"github.com/utiliko/billing/pkg/db/option"
)

const (
	varianceThreshold    = 0.5
	historyOccurrences   = 12
	minHistoricalSamples = 3
	historyFetchLimit    = 500
)

// Classify compares a consumption figure against validated readings
// from the same calendar month in earlier periods. The outcome is
// advisory: assembly records it on the item snapshot and never blocks.
func (s *Service) Classify(ctx context.Context, meter meterdomain.Meter, consumption float64, periodStart time.Time) (domain.Classification, error) {
	filter := &meterdomain.MeterReading{
		OrgID:            meter.OrgID,
		MeterID:          meter.ID,
		ValidationStatus: meterdomain.ValidationValidated,
	}
	rows, err := s.readings.Find(ctx, filter,
		option.ApplyOperator(option.Condition{Field: "reading_date", Operator: option.LT, Value: periodStart}),
		option.WithOrder("reading_date DESC"),
		option.WithLimit(historyFetchLimit),
	)
	if err != nil {
		return domain.Classification{}, err
	}

	// Month extraction differs per dialect, so the same-month filter
	// runs here instead of in SQL.
	month := periodStart.Month()
	sum := 0.0
	count := 0
	for _, row := range rows {
		if row.ReadingDate.Month() != month {
			continue
		}
		sum += row.Value.InexactFloat64()
		count++
		if count == historyOccurrences {
			break
		}
	}

	if count < minHistoricalSamples {
		return domain.Classification{Status: domain.StatusInsufficientData}, nil
	}

	average := sum / float64(count)
	if average == 0 {
		return domain.Classification{Status: domain.StatusInsufficientData}, nil
	}

	variance := math.Abs(consumption-average) / average
	classification := domain.Classification{
		Status:            domain.StatusNormal,
		VariancePercent:   math.Round(variance*10000) / 100,
		HistoricalAverage: average,
	}
	if variance > varianceThreshold {
		classification.Status = domain.StatusHighVariance
	}
	return classification, nil
}
