package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/utiliko/billing/internal/authorization"
	catalogdomain "github.com/utiliko/billing/internal/catalog/domain"
	consumptiondomain "github.com/utiliko/billing/internal/consumption/domain"
	"github.com/utiliko/billing/internal/invoice/domain"
	meterdomain "github.com/utiliko/billing/internal/meter/domain"
	propertydomain "github.com/utiliko/billing/internal/property/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Generate produces a draft invoice for one occupant and period. An
// existing draft for the same period is recomputed in place; an
// existing finalized invoice makes the period unavailable.
func (s *Service) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.Invoice, error) {
	if err := s.authz.Authorize(ctx, req.Actor, req.OrgID.String(), authorization.ObjectInvoice, authorization.ActionInvoiceGenerate); err != nil {
		return nil, err
	}
	if err := s.validatePeriod(req.PeriodStart, req.PeriodEnd); err != nil {
		return nil, err
	}

	occupant, err := s.resolveOccupant(ctx, req.OrgID, req.OccupantID)
	if err != nil {
		return nil, err
	}

	existing, err := s.invoices.FindOne(ctx, &domain.Invoice{
		OrgID:       req.OrgID,
		OccupantID:  req.OccupantID,
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
	})
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == domain.StatusFinalized {
		return nil, domain.ErrInvoiceExists
	}

	invoice, err := s.assemble(ctx, occupant, existing, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncInvoiceGenerated(ctx, "failed")
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncInvoiceGenerated(ctx, "success")
	}
	s.recordAudit(ctx, req.OrgID, req.Actor, "invoice.generated", invoice.ID, map[string]any{
		"occupant_id":  occupant.ID.String(),
		"period_start": req.PeriodStart.Format(time.RFC3339),
		"period_end":   req.PeriodEnd.Format(time.RFC3339),
		"total_amount": invoice.TotalAmount.String(),
		"item_count":   len(invoice.Items),
	})
	return invoice, nil
}

// Recalculate replaces a draft invoice's items and total from current
// validated readings. Finalized invoices are refused.
func (s *Service) Recalculate(ctx context.Context, orgID snowflake.ID, invoiceID snowflake.ID) (*domain.Invoice, error) {
	existing, err := s.invoices.FindOne(ctx, &domain.Invoice{ID: invoiceID, OrgID: orgID})
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrInvoiceNotFound
	}
	if existing.Status == domain.StatusFinalized {
		return nil, domain.ErrInvoiceFinalized
	}
	if existing.Status != domain.StatusDraft {
		return nil, domain.ErrNotDraft
	}

	occupant, err := s.resolveOccupant(ctx, orgID, existing.OccupantID)
	if err != nil {
		return nil, err
	}
	return s.assemble(ctx, occupant, existing, existing.PeriodStart, existing.PeriodEnd)
}

// itemGroup accumulates the consumption of every meter billed under
// one service configuration. Shared services aggregate several meters.
type itemGroup struct {
	cfg          catalogdomain.ServiceConfiguration
	service      *catalogdomain.UtilityService
	consumption  consumptiondomain.Consumption
	readingCount int
	meterIDs     []snowflake.ID
	rollover     bool
	season       string
	validations  []map[string]any
}

// assemble computes the invoice items and writes invoice, items and
// total in one transaction.
func (s *Service) assemble(ctx context.Context, occupant *propertydomain.Occupant, existing *domain.Invoice, periodStart, periodEnd time.Time) (*domain.Invoice, error) {
	groups, err := s.computeGroups(ctx, occupant.OrgID, occupant.PropertyID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}

	invoiceID := s.genID.Generate()
	if existing != nil {
		invoiceID = existing.ID
	}

	items := make([]*domain.InvoiceItem, 0, len(groups))
	total := decimal.Zero
	for _, group := range groups {
		item, err := s.buildItem(invoiceID, occupant.OrgID, group, periodStart, periodEnd)
		if err != nil {
			return nil, err
		}
		if item == nil {
			continue
		}
		items = append(items, item)
		total = total.Add(item.Total)
	}
	total = total.Round(2)

	now := s.clock.Now()
	dueAt := periodEnd.Add(time.Duration(s.cfg.DueDays) * 24 * time.Hour)

	invoice := &domain.Invoice{
		ID:          invoiceID,
		OrgID:       occupant.OrgID,
		OccupantID:  occupant.ID,
		PropertyID:  occupant.PropertyID,
		Status:      domain.StatusDraft,
		Currency:    "EUR",
		TotalAmount: total,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		DueAt:       &dueAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing != nil {
		invoice.Number = existing.Number
		invoice.Currency = existing.Currency
		invoice.CreatedAt = existing.CreatedAt
	} else {
		invoice.Number = s.invoiceNumber(invoiceID, periodStart)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if existing == nil {
			if err := tx.Omit("Items").Create(invoice).Error; err != nil {
				return err
			}
		} else {
			if err := tx.Where("invoice_id = ?", invoice.ID).Delete(&domain.InvoiceItem{}).Error; err != nil {
				return err
			}
			update := domain.Invoice{ID: invoice.ID, TotalAmount: total, DueAt: &dueAt, UpdatedAt: now}
			if err := tx.Model(&update).Select("total_amount", "due_at", "updated_at").Updates(update).Error; err != nil {
				return err
			}
		}
		for _, item := range items {
			if err := tx.Create(item).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	invoice.Items = make([]domain.InvoiceItem, 0, len(items))
	for _, item := range items {
		invoice.Items = append(invoice.Items, *item)
	}
	return invoice, nil
}

// computeGroups runs the consumption calculator for every active meter
// on the property and folds the results per service configuration.
func (s *Service) computeGroups(ctx context.Context, orgID snowflake.ID, propertyID snowflake.ID, periodStart, periodEnd time.Time) ([]*itemGroup, error) {
	meters, err := s.meters.Find(ctx, &meterdomain.Meter{OrgID: orgID, PropertyID: propertyID, Active: true})
	if err != nil {
		return nil, err
	}
	if len(meters) == 0 {
		return nil, domain.ErrNoActiveMeters
	}

	groups := make(map[snowflake.ID]*itemGroup)
	for _, meter := range meters {
		if meter == nil {
			continue
		}
		cfg, err := s.configs.FindOne(ctx, &catalogdomain.ServiceConfiguration{ID: meter.ServiceConfigID, OrgID: orgID})
		if err != nil {
			return nil, err
		}
		if cfg == nil || !cfg.EffectiveAt(periodStart) {
			s.log.Warn("meter has no effective service configuration",
				zap.String("meter_id", meter.ID.String()),
			)
			continue
		}

		result, err := s.consumption.Calculate(ctx, *meter, cfg, periodStart, periodEnd)
		if err != nil {
			if errors.Is(err, consumptiondomain.ErrNoData) {
				continue
			}
			return nil, err
		}

		classification, err := s.consumption.Classify(ctx, *meter, result.Consumption.Total(), periodStart)
		if err != nil {
			return nil, err
		}

		group, ok := groups[cfg.ID]
		if !ok {
			group = &itemGroup{cfg: *cfg, season: result.Season}
			service, err := s.services.FindOne(ctx, &catalogdomain.UtilityService{ID: cfg.ServiceID, OrgID: orgID})
			if err != nil {
				return nil, err
			}
			group.service = service
			groups[cfg.ID] = group
		}
		group.consumption = mergeConsumption(group.consumption, result.Consumption)
		group.readingCount += result.ReadingCount
		group.meterIDs = append(group.meterIDs, meter.ID)
		group.rollover = group.rollover || result.RolloverDetected
		group.validations = append(group.validations, map[string]any{
			"meter_id":           meter.ID.String(),
			"status":             classification.Status,
			"variance_percent":   classification.VariancePercent,
			"historical_average": classification.HistoricalAverage,
		})
	}

	ordered := make([]*itemGroup, 0, len(groups))
	for _, group := range groups {
		ordered = append(ordered, group)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].cfg.ID < ordered[j].cfg.ID })
	return ordered, nil
}

// buildItem prices one group. A zero amount produces no line item.
func (s *Service) buildItem(invoiceID snowflake.ID, orgID snowflake.ID, group *itemGroup, periodStart, periodEnd time.Time) (*domain.InvoiceItem, error) {
	calc, err := s.calculator.Calculate(group.cfg, group.consumption, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	if calc.IsZero() {
		return nil, nil
	}

	quantity, unit := s.quantityAndUnit(group)
	unitPrice := calc.TotalAmount
	if quantity.IsPositive() {
		unitPrice = calc.TotalAmount.DivRound(quantity, 4)
	}

	description := "Utility service"
	if group.service != nil {
		description = group.service.Name
	}

	meterIDs := make([]string, 0, len(group.meterIDs))
	for _, id := range group.meterIDs {
		meterIDs = append(meterIDs, id.String())
	}

	return &domain.InvoiceItem{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		InvoiceID:   invoiceID,
		Description: description,
		Quantity:    quantity,
		Unit:        unit,
		UnitPrice:   unitPrice,
		Total:       calc.TotalAmount,
		MeterReadingSnapshot: map[string]any{
			"service_configuration_id": group.cfg.ID.String(),
			"pricing_model":            group.cfg.PricingModel,
			"consumption":              group.consumption.Breakdown(),
			"calculation":              calc.ToMap(),
			"meter_ids":                meterIDs,
			"reading_count":            group.readingCount,
			"rollover_detected":        group.rollover,
			"season":                   group.season,
			"period_start":             periodStart.Format(time.RFC3339),
			"period_end":               periodEnd.Format(time.RFC3339),
			"validations":              group.validations,
		},
		CreatedAt: s.clock.Now(),
	}, nil
}

// quantityAndUnit derives the billable quantity. Fixed-monthly pricing
// always bills one month; everything else bills the consumption in the
// service's unit of measurement.
func (s *Service) quantityAndUnit(group *itemGroup) (decimal.Decimal, string) {
	if group.cfg.PricingModel == catalogdomain.PricingFixedMonthly {
		return decimal.NewFromInt(1), "month"
	}
	consumption := group.consumption.Total()
	if consumption < 0 {
		consumption = 0
	}
	unit := ""
	if group.service != nil {
		unit = group.service.Unit
	}
	return decimal.NewFromFloat(consumption).Round(3), unit
}

func mergeConsumption(current, next consumptiondomain.Consumption) consumptiondomain.Consumption {
	if !current.IsZoned() && !next.IsZoned() {
		return consumptiondomain.Total(current.Total() + next.Total())
	}
	zones := current.Zones()
	if zones == nil {
		zones = map[string]float64{}
		if current.Total() != 0 {
			zones["default"] = current.Total()
		}
	}
	if next.IsZoned() {
		for zone, value := range next.Zones() {
			zones[zone] += value
		}
	} else if next.Total() != 0 {
		zones["default"] += next.Total()
	}
	return consumptiondomain.ByZone(zones)
}
