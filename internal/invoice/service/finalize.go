package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/utiliko/billing/internal/authorization"
	"github.com/utiliko/billing/internal/invoice/domain"
	"gorm.io/gorm"
)

// Finalize moves a draft invoice to its terminal state. The transition
// is one atomic update; once committed every later write is rejected
// by the persistence hooks.
func (s *Service) Finalize(ctx context.Context, orgID snowflake.ID, invoiceID snowflake.ID, actor string) (*domain.Invoice, error) {
	if err := s.authz.Authorize(ctx, actor, orgID.String(), authorization.ObjectInvoice, authorization.ActionInvoiceFinalize); err != nil {
		return nil, err
	}

	invoice, err := s.invoices.FindOne(ctx, &domain.Invoice{ID: invoiceID, OrgID: orgID})
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrInvoiceNotFound
	}
	if invoice.Status == domain.StatusFinalized {
		return nil, domain.ErrInvoiceFinalized
	}
	if invoice.Status != domain.StatusDraft {
		return nil, domain.ErrNotDraft
	}
	if !invoice.TotalAmount.IsPositive() {
		return nil, domain.ErrZeroTotal
	}
	if !invoice.PeriodStart.Before(invoice.PeriodEnd) {
		return nil, domain.ErrInvalidPeriod
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := domain.Invoice{ID: invoice.ID, Status: domain.StatusFinalized, FinalizedAt: &now, UpdatedAt: now}
		return tx.Model(&update).Select("status", "finalized_at", "updated_at").Updates(update).Error
	})
	if err != nil {
		return nil, err
	}

	invoice.Status = domain.StatusFinalized
	invoice.FinalizedAt = &now
	invoice.UpdatedAt = now

	if s.metrics != nil {
		s.metrics.IncInvoiceFinalized(ctx)
	}
	s.recordAudit(ctx, orgID, actor, "invoice.finalized", invoice.ID, map[string]any{
		"occupant_id":  invoice.OccupantID.String(),
		"total_amount": invoice.TotalAmount.String(),
		"number":       invoice.Number,
	})
	return invoice, nil
}
