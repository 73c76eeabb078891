package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/utiliko/billing/internal/consumption/domain"
)

// History returns month-bucketed consumption for the last N months.
// Months without enough readings are left out.
func (s *Service) History(ctx context.Context, orgID snowflake.ID, meterID snowflake.ID, months int) ([]domain.HistoryEntry, error) {
	if months <= 0 {
		months = 12
	}

	meter, cfg, err := s.resolveMeter(ctx, orgID, meterID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -months, 0)

	history := make([]domain.HistoryEntry, 0, months)
	for i := 0; i < months; i++ {
		periodStart := start.AddDate(0, i, 0)
		periodEnd := periodStart.AddDate(0, 1, 0).Add(-time.Second)
		if periodEnd.After(now) {
			break
		}

		result, err := s.Calculate(ctx, *meter, cfg, periodStart, periodEnd)
		if err != nil {
			if errors.Is(err, domain.ErrNoData) {
				continue
			}
			return nil, err
		}

		history = append(history, domain.HistoryEntry{
			Period:       periodStart.Format("2006-01"),
			PeriodStart:  periodStart,
			PeriodEnd:    periodEnd,
			Consumption:  result.Consumption.Total(),
			ReadingCount: result.ReadingCount,
		})
	}
	return history, nil
}
