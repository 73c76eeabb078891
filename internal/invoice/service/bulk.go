package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/utiliko/billing/internal/authorization"
	"github.com/utiliko/billing/internal/invoice/domain"
	propertydomain "github.com/utiliko/billing/internal/property/domain"
	"github.com/utiliko/billing/pkg/db/option"
	"go.uber.org/zap"
)

// GenerateBulk runs invoice generation for many occupants in one
// sequential pass. Each occupant gets exactly one attempt; a failure is
// recorded and never aborts the remaining batch. Occupants that
// already have an invoice for the period are skipped.
func (s *Service) GenerateBulk(ctx context.Context, req domain.BulkRequest) (*domain.BulkResult, error) {
	if err := s.authz.Authorize(ctx, req.Actor, req.OrgID.String(), authorization.ObjectInvoice, authorization.ActionInvoiceGenerate); err != nil {
		return nil, err
	}
	if err := s.validatePeriod(req.PeriodStart, req.PeriodEnd); err != nil {
		return nil, err
	}

	occupantIDs := req.OccupantIDs
	if len(occupantIDs) == 0 {
		ids, err := s.activeOccupantIDs(ctx, req.OrgID)
		if err != nil {
			return nil, err
		}
		occupantIDs = ids
	}

	result := &domain.BulkResult{
		Successful: []domain.BulkItem{},
		Failed:     []domain.BulkFailure{},
		Skipped:    []domain.BulkFailure{},
	}

	for _, occupantID := range occupantIDs {
		existing, err := s.invoices.FindOne(ctx, &domain.Invoice{
			OrgID:       req.OrgID,
			OccupantID:  occupantID,
			PeriodStart: req.PeriodStart,
			PeriodEnd:   req.PeriodEnd,
		})
		if err != nil {
			result.Failed = append(result.Failed, domain.BulkFailure{OccupantID: occupantID, Reason: err.Error()})
			continue
		}
		if existing != nil {
			result.Skipped = append(result.Skipped, domain.BulkFailure{OccupantID: occupantID, Reason: "invoice_exists"})
			if s.metrics != nil {
				s.metrics.IncInvoiceGenerated(ctx, "skipped")
			}
			continue
		}

		occupant, err := s.resolveOccupant(ctx, req.OrgID, occupantID)
		if err != nil {
			result.Failed = append(result.Failed, domain.BulkFailure{OccupantID: occupantID, Reason: err.Error()})
			continue
		}

		invoice, err := s.assemble(ctx, occupant, nil, req.PeriodStart, req.PeriodEnd)
		if err != nil {
			s.log.Warn("bulk invoice generation failed for occupant",
				zap.String("occupant_id", occupantID.String()),
				zap.Error(err),
			)
			result.Failed = append(result.Failed, domain.BulkFailure{OccupantID: occupantID, Reason: err.Error()})
			if s.metrics != nil {
				s.metrics.IncInvoiceGenerated(ctx, "failed")
			}
			continue
		}

		result.Successful = append(result.Successful, domain.BulkItem{OccupantID: occupantID, InvoiceID: invoice.ID})
		if s.metrics != nil {
			s.metrics.IncInvoiceGenerated(ctx, "success")
		}
	}

	s.recordAudit(ctx, req.OrgID, req.Actor, "invoice.bulk_generated", 0, map[string]any{
		"period_start": req.PeriodStart,
		"period_end":   req.PeriodEnd,
		"successful":   len(result.Successful),
		"failed":       len(result.Failed),
		"skipped":      len(result.Skipped),
	})
	return result, nil
}

func (s *Service) activeOccupantIDs(ctx context.Context, orgID snowflake.ID) ([]snowflake.ID, error) {
	chunk := s.cfg.BulkChunkSize
	if chunk <= 0 {
		chunk = 100
	}

	ids := make([]snowflake.ID, 0)
	var lastID snowflake.ID
	for {
		opts := []option.QueryOption{
			option.WithOrder("id ASC"),
			option.WithLimit(chunk),
		}
		if lastID != 0 {
			opts = append(opts, option.ApplyOperator(option.Condition{Field: "id", Operator: option.GT, Value: lastID}))
		}
		rows, err := s.occupants.Find(ctx, &propertydomain.Occupant{OrgID: orgID, Active: true}, opts...)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if row == nil {
				continue
			}
			ids = append(ids, row.ID)
			lastID = row.ID
		}
		if len(rows) < chunk {
			break
		}
	}
	return ids, nil
}
