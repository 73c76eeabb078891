package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/utiliko/billing/internal/auditctx"
	"github.com/utiliko/billing/internal/authorization"
	invoicedomain "github.com/utiliko/billing/internal/invoice/domain"
	"github.com/utiliko/billing/internal/meter/domain"
	"github.com/utiliko/billing/pkg/db/option"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CorrectReading applies a validated correction to a reading. The
// audit row and the field update commit in one transaction; the
// draft-invoice recalculation cascade runs afterwards and its failures
// never roll the correction back.
func (s *Service) CorrectReading(ctx context.Context, req domain.CorrectionRequest) (*domain.CorrectionResult, error) {
	if err := s.authz.Authorize(ctx, req.Actor, req.OrgID.String(), authorization.ObjectMeterReading, authorization.ActionMeterReadingCorrect); err != nil {
		return nil, err
	}

	reason := strings.TrimSpace(req.ChangeReason)
	if len(reason) < s.cfg.ChangeReasonMinLen || len(reason) > s.cfg.ChangeReasonMaxLen {
		return nil, domain.ErrInvalidChangeReason
	}

	reading, err := s.readings.FindOne(ctx, &domain.MeterReading{ID: req.ReadingID, OrgID: req.OrgID})
	if err != nil {
		return nil, err
	}
	if reading == nil {
		return nil, domain.ErrReadingNotFound
	}
	if reading.ValidationStatus != domain.ValidationValidated {
		return nil, domain.ErrReadingNotCorrectable
	}

	newValue := reading.Value
	if req.Value != nil {
		newValue = *req.Value
	}
	newDate := reading.ReadingDate
	if req.ReadingDate != nil {
		newDate = *req.ReadingDate
	}

	if newValue.IsNegative() {
		return nil, domain.ErrInvalidValue
	}
	if newDate.After(s.clock.Now()) {
		return nil, domain.ErrReadingDateInFuture
	}
	if err := s.checkMonotonic(ctx, reading.MeterID, reading.Zone, reading.ID, newValue, newDate); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	meta := auditctx.MetaFromContext(ctx)
	audit := &domain.MeterReadingAudit{
		ID:             s.genID.Generate(),
		OrgID:          req.OrgID,
		ReadingID:      reading.ID,
		ChangedByID:    req.ChangedByID,
		OldValue:       reading.Value,
		NewValue:       newValue,
		OldReadingDate: reading.ReadingDate,
		NewReadingDate: newDate,
		ChangeReason:   reason,
		CreatedAt:      now,
	}
	if meta.IPAddress != "" {
		audit.IPAddress = &meta.IPAddress
	}
	if meta.UserAgent != "" {
		audit.UserAgent = &meta.UserAgent
	}
	if meta.RequestID != "" {
		audit.RequestID = &meta.RequestID
	}

	// The audit row is written even when nothing changes: a confirmed
	// "no change" correction still needs a trail.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(audit).Error; err != nil {
			return err
		}
		update := domain.MeterReading{ID: reading.ID, Value: newValue, ReadingDate: newDate, UpdatedAt: now}
		return tx.Model(&update).Select("value", "reading_date", "updated_at").Updates(update).Error
	})
	if err != nil {
		return nil, err
	}

	reading.Value = newValue
	reading.ReadingDate = newDate
	reading.UpdatedAt = now

	if s.metrics != nil {
		s.metrics.IncReadingCorrection(ctx)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, req.OrgID, req.Actor, "meter_reading.corrected", "meter_reading", reading.ID.String(), map[string]any{
			"audit_id":  audit.ID.String(),
			"old_value": audit.OldValue.String(),
			"new_value": audit.NewValue.String(),
			"reason":    reason,
		})
	}

	recalculated, failed := s.cascade(ctx, req.OrgID, reading)

	if s.metrics != nil {
		s.metrics.IncCascadeRecalc(ctx, int64(len(recalculated)))
		s.metrics.IncCascadeFailure(ctx, int64(len(failed)))
	}

	return &domain.CorrectionResult{
		AuditID:                audit.ID,
		Reading:                reading,
		RecalculatedInvoiceIDs: recalculated,
		FailedInvoiceIDs:       failed,
	}, nil
}

// cascade recomputes every draft invoice whose billing period contains
// the corrected reading's date. Finalized invoices are excluded by the
// query; immutability outranks correction propagation once billed.
func (s *Service) cascade(ctx context.Context, orgID snowflake.ID, reading *domain.MeterReading) ([]snowflake.ID, []snowflake.ID) {
	meter, err := s.meters.FindOne(ctx, &domain.Meter{ID: reading.MeterID, OrgID: orgID})
	if err != nil || meter == nil {
		s.log.Error("cascade could not resolve meter",
			zap.String("reading_id", reading.ID.String()),
			zap.String("meter_id", reading.MeterID.String()),
			zap.Error(err),
		)
		return nil, nil
	}

	drafts, err := s.invoiceRepo.Find(ctx,
		&invoicedomain.Invoice{OrgID: orgID, PropertyID: meter.PropertyID, Status: invoicedomain.StatusDraft},
		option.ApplyOperator(option.Condition{Field: "period_start", Operator: option.LTE, Value: reading.ReadingDate}),
		option.ApplyOperator(option.Condition{Field: "period_end", Operator: option.GTE, Value: reading.ReadingDate}),
		option.WithOrder("id ASC"),
	)
	if err != nil {
		s.log.Error("cascade could not list draft invoices",
			zap.String("reading_id", reading.ID.String()),
			zap.Error(err),
		)
		return nil, nil
	}

	var recalculated, failed []snowflake.ID
	for _, draft := range drafts {
		if draft == nil {
			continue
		}
		if _, err := s.invoices.Recalculate(ctx, orgID, draft.ID); err != nil {
			s.log.Error("draft invoice recalculation failed after correction",
				zap.String("invoice_id", draft.ID.String()),
				zap.String("reading_id", reading.ID.String()),
				zap.Error(err),
			)
			failed = append(failed, draft.ID)
			continue
		}
		recalculated = append(recalculated, draft.ID)
	}
	return recalculated, failed
}

// checkMonotonic verifies the counter ordering against the immediately
// preceding and following validated readings in the same zone
// sequence. excludeID leaves the reading being corrected out of its
// own comparison.
func (s *Service) checkMonotonic(ctx context.Context, meterID snowflake.ID, zone *string, excludeID snowflake.ID, value decimal.Decimal, readingDate time.Time) error {
	base := func() *gorm.DB {
		q := s.db.WithContext(ctx).
			Model(&domain.MeterReading{}).
			Where("meter_id = ? AND validation_status = ?", meterID, domain.ValidationValidated)
		if zone == nil {
			q = q.Where("zone IS NULL")
		} else {
			q = q.Where("zone = ?", *zone)
		}
		if excludeID != 0 {
			q = q.Where("id <> ?", excludeID)
		}
		return q
	}

	var previous domain.MeterReading
	err := base().
		Where("reading_date < ?", readingDate).
		Order("reading_date DESC").
		Limit(1).
		Take(&previous).Error
	if err == nil {
		if value.LessThan(previous.Value) {
			return domain.ErrNotMonotonic
		}
	} else if err != gorm.ErrRecordNotFound {
		return err
	}

	var next domain.MeterReading
	err = base().
		Where("reading_date > ?", readingDate).
		Order("reading_date ASC").
		Limit(1).
		Take(&next).Error
	if err == nil {
		if value.GreaterThan(next.Value) {
			return domain.ErrNotMonotonic
		}
	} else if err != gorm.ErrRecordNotFound {
		return err
	}

	return nil
}
