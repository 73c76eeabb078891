// Package service implements meter reading ingestion and the audited
// correction workflow with its draft-invoice recalculation cascade.
package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/utiliko/billing/internal/audit/domain"
	"github.com/utiliko/billing/internal/authorization"
	"github.com/utiliko/billing/internal/clock"
	"github.com/utiliko/billing/internal/config"
	invoicedomain "github.com/utiliko/billing/internal/invoice/domain"
	"github.com/utiliko/billing/internal/meter/domain"
	"github.com/utiliko/billing/internal/observability/metrics"
	"github.com/utiliko/billing/pkg/db/option"
	"github.com/utiliko/billing/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Authz    authorization.Service
	Audit    auditdomain.Service
	Invoices invoicedomain.Service
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	cfg      config.BillingConfig
	authz    authorization.Service
	audit    auditdomain.Service
	invoices invoicedomain.Service
	metrics  *metrics.Metrics

	meters      repository.Repository[domain.Meter]
	readings    repository.Repository[domain.MeterReading]
	invoiceRepo repository.Repository[invoicedomain.Invoice]
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("meter.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		cfg:         p.Config.Billing,
		authz:       p.Authz,
		audit:       p.Audit,
		invoices:    p.Invoices,
		metrics:     p.Metrics,
		meters:      repository.ProvideStore[domain.Meter](p.DB),
		readings:    repository.ProvideStore[domain.MeterReading](p.DB),
		invoiceRepo: repository.ProvideStore[invoicedomain.Invoice](p.DB),
	}
}

func (s *Service) GetMeter(ctx context.Context, orgID snowflake.ID, meterID snowflake.ID) (*domain.Meter, error) {
	meter, err := s.meters.FindOne(ctx, &domain.Meter{ID: meterID, OrgID: orgID})
	if err != nil {
		return nil, err
	}
	if meter == nil {
		return nil, domain.ErrMeterNotFound
	}
	return meter, nil
}

func (s *Service) ListMeters(ctx context.Context, orgID snowflake.ID, propertyID snowflake.ID) ([]domain.Meter, error) {
	filter := &domain.Meter{OrgID: orgID}
	if propertyID != 0 {
		filter.PropertyID = propertyID
	}
	rows, err := s.meters.Find(ctx, filter, option.WithOrder("id ASC"))
	if err != nil {
		return nil, err
	}
	meters := make([]domain.Meter, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		meters = append(meters, *row)
	}
	return meters, nil
}

// CreateReading ingests one observation. New readings join the
// validated sequence, so the monotonic-counter invariant is checked
// against the neighbouring validated readings up front.
func (s *Service) CreateReading(ctx context.Context, req domain.CreateReadingRequest) (*domain.MeterReading, error) {
	if err := s.authz.Authorize(ctx, req.Actor, req.OrgID.String(), authorization.ObjectMeterReading, authorization.ActionMeterReadingCreate); err != nil {
		return nil, err
	}

	meter, err := s.GetMeter(ctx, req.OrgID, req.MeterID)
	if err != nil {
		return nil, err
	}
	if req.Value.IsNegative() {
		return nil, domain.ErrInvalidValue
	}
	if req.ReadingDate.After(s.clock.Now()) {
		return nil, domain.ErrReadingDateInFuture
	}
	if err := s.checkMonotonic(ctx, meter.ID, req.Zone, 0, req.Value, req.ReadingDate); err != nil {
		return nil, err
	}

	inputMethod := req.InputMethod
	if inputMethod == "" {
		inputMethod = domain.InputManual
	}

	reading := &domain.MeterReading{
		ID:               s.genID.Generate(),
		OrgID:            req.OrgID,
		MeterID:          meter.ID,
		Value:            req.Value,
		ReadingValues:    req.ReadingValues,
		Zone:             req.Zone,
		ReadingDate:      req.ReadingDate,
		ValidationStatus: domain.ValidationValidated,
		InputMethod:      inputMethod,
		EnteredByID:      req.EnteredByID,
		CreatedAt:        s.clock.Now(),
		UpdatedAt:        s.clock.Now(),
	}
	if err := s.readings.Create(ctx, reading); err != nil {
		return nil, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, req.OrgID, req.Actor, "meter_reading.created", "meter_reading", reading.ID.String(), map[string]any{
			"meter_id":     meter.ID.String(),
			"value":        reading.Value.String(),
			"reading_date": reading.ReadingDate,
			"input_method": reading.InputMethod,
		})
	}
	return reading, nil
}

func (s *Service) ListReadings(ctx context.Context, req domain.ListReadingsRequest) ([]domain.MeterReading, error) {
	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	opts := []option.QueryOption{
		option.WithOrder("reading_date DESC, id DESC"),
		option.WithLimit(limit),
	}
	if req.StartAt != nil {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "reading_date", Operator: option.GTE, Value: *req.StartAt}))
	}
	if req.EndAt != nil {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "reading_date", Operator: option.LTE, Value: *req.EndAt}))
	}

	rows, err := s.readings.Find(ctx, &domain.MeterReading{OrgID: req.OrgID, MeterID: req.MeterID}, opts...)
	if err != nil {
		return nil, err
	}
	readings := make([]domain.MeterReading, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		readings = append(readings, *row)
	}
	return readings, nil
}
