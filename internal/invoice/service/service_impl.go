// Package service implements invoice assembly: turning validated
// consumption into draft invoices, finalizing them, and recomputing
// drafts after reading corrections.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/utiliko/billing/internal/audit/domain"
	"github.com/utiliko/billing/internal/authorization"
	"github.com/utiliko/billing/internal/billing"
	catalogdomain "github.com/utiliko/billing/internal/catalog/domain"
	"github.com/utiliko/billing/internal/clock"
	"github.com/utiliko/billing/internal/config"
	consumptiondomain "github.com/utiliko/billing/internal/consumption/domain"
	"github.com/utiliko/billing/internal/invoice/domain"
	meterdomain "github.com/utiliko/billing/internal/meter/domain"
	"github.com/utiliko/billing/internal/observability/metrics"
	propertydomain "github.com/utiliko/billing/internal/property/domain"
	"github.com/utiliko/billing/pkg/db/option"
	"github.com/utiliko/billing/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Authz       authorization.Service
	Consumption consumptiondomain.Service
	Calculator  *billing.Calculator
	Audit       auditdomain.Service
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cfg         config.BillingConfig
	authz       authorization.Service
	consumption consumptiondomain.Service
	calculator  *billing.Calculator
	audit       auditdomain.Service
	metrics     *metrics.Metrics

	occupants repository.Repository[propertydomain.Occupant]
	meters    repository.Repository[meterdomain.Meter]
	configs   repository.Repository[catalogdomain.ServiceConfiguration]
	services  repository.Repository[catalogdomain.UtilityService]
	invoices  repository.Repository[domain.Invoice]
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("invoice.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		cfg:         p.Config.Billing,
		authz:       p.Authz,
		consumption: p.Consumption,
		calculator:  p.Calculator,
		audit:       p.Audit,
		metrics:     p.Metrics,
		occupants:   repository.ProvideStore[propertydomain.Occupant](p.DB),
		meters:      repository.ProvideStore[meterdomain.Meter](p.DB),
		configs:     repository.ProvideStore[catalogdomain.ServiceConfiguration](p.DB),
		services:    repository.ProvideStore[catalogdomain.UtilityService](p.DB),
		invoices:    repository.ProvideStore[domain.Invoice](p.DB),
	}
}

func (s *Service) Get(ctx context.Context, orgID snowflake.ID, invoiceID snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := s.db.WithContext(ctx).
		Preload("Items").
		Where("id = ? AND org_id = ?", invoiceID, orgID).
		First(&invoice).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrInvoiceNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

func (s *Service) List(ctx context.Context, req domain.ListInvoicesRequest) ([]domain.Invoice, error) {
	limit := req.Limit
	if limit <= 0 || limit > 250 {
		limit = 100
	}

	filter := &domain.Invoice{OrgID: req.OrgID}
	if req.OccupantID != 0 {
		filter.OccupantID = req.OccupantID
	}
	if req.Status != "" {
		filter.Status = req.Status
	}

	rows, err := s.invoices.Find(ctx, filter,
		option.WithOrder("period_start DESC, id DESC"),
		option.WithLimit(limit),
	)
	if err != nil {
		return nil, err
	}

	invoices := make([]domain.Invoice, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		invoices = append(invoices, *row)
	}
	return invoices, nil
}

// History returns the occupant's invoices over the trailing months,
// newest first.
func (s *Service) History(ctx context.Context, orgID snowflake.ID, occupantID snowflake.ID, months int) ([]domain.Invoice, error) {
	if months <= 0 {
		months = 12
	}
	since := s.clock.Now().AddDate(0, -months, 0)

	rows, err := s.invoices.Find(ctx, &domain.Invoice{OrgID: orgID, OccupantID: occupantID},
		option.ApplyOperator(option.Condition{Field: "period_start", Operator: option.GTE, Value: since}),
		option.WithOrder("period_start DESC"),
	)
	if err != nil {
		return nil, err
	}

	invoices := make([]domain.Invoice, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		invoices = append(invoices, *row)
	}
	return invoices, nil
}

func (s *Service) validatePeriod(periodStart, periodEnd time.Time) error {
	if !periodStart.Before(periodEnd) {
		return domain.ErrInvalidPeriod
	}
	if periodEnd.Sub(periodStart) > time.Duration(s.cfg.MaxPeriodDays)*24*time.Hour {
		return domain.ErrInvalidPeriod
	}
	if periodEnd.After(s.clock.Now()) {
		return domain.ErrInvalidPeriod
	}
	return nil
}

func (s *Service) resolveOccupant(ctx context.Context, orgID snowflake.ID, occupantID snowflake.ID) (*propertydomain.Occupant, error) {
	occupant, err := s.occupants.FindOne(ctx, &propertydomain.Occupant{ID: occupantID, OrgID: orgID})
	if err != nil {
		return nil, err
	}
	if occupant == nil {
		return nil, domain.ErrOccupantNotFound
	}
	return occupant, nil
}

func (s *Service) invoiceNumber(id snowflake.ID, periodStart time.Time) string {
	return fmt.Sprintf("INV-%s-%s", periodStart.Format("200601"), id.String())
}

func (s *Service) recordAudit(ctx context.Context, orgID snowflake.ID, actor string, action string, invoiceID snowflake.ID, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, orgID, actor, action, "invoice", invoiceID.String(), metadata)
}
