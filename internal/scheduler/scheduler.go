// Package scheduler drives the periodic billing run: draft invoices
// for every active occupant for each elapsed calendar month.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/utiliko/billing/internal/clock"
	invoicedomain "github.com/utiliko/billing/internal/invoice/domain"
	orgdomain "github.com/utiliko/billing/internal/organization/domain"
	"github.com/utiliko/billing/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	InvoiceSvc invoicedomain.Service
	Clock      clock.Clock
	Config     Config `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	invoiceSvc invoicedomain.Service
	orgs       repository.Repository[orgdomain.Organization]
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.InvoiceSvc == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		invoiceSvc: p.InvoiceSvc,
		orgs:       repository.ProvideStore[orgdomain.Organization](p.DB),
	}, nil
}

// RunForever runs the billing job on the configured interval until the
// context is canceled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes one billing pass over every organization.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	orgs, err := s.orgs.Find(ctx, &orgdomain.Organization{})
	if err != nil {
		return err
	}

	var firstErr error
	for _, org := range orgs {
		if org == nil {
			continue
		}
		if err := s.billingRun(ctx, org.ID); err != nil {
			s.log.Warn("billing run failed for organization",
				zap.String("org_id", org.ID.String()),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return firstErr
}

// billingRun generates draft invoices for each elapsed month in the
// lookback window. GenerateBulk skips occupants that already have an
// invoice for the period, so repeated runs are idempotent.
func (s *Scheduler) billingRun(ctx context.Context, orgID snowflake.ID) error {
	now := s.clock.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	for i := s.cfg.LookbackMonths; i >= 1; i-- {
		periodStart := monthStart.AddDate(0, -i, 0)
		periodEnd := periodStart.AddDate(0, 1, 0).Add(-time.Second)

		result, err := s.invoiceSvc.GenerateBulk(ctx, invoicedomain.BulkRequest{
			OrgID:       orgID,
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
			Actor:       "system",
		})
		if err != nil {
			return err
		}

		s.log.Info("billing run completed",
			zap.String("org_id", orgID.String()),
			zap.String("period", periodStart.Format("2006-01")),
			zap.Int("successful", len(result.Successful)),
			zap.Int("failed", len(result.Failed)),
			zap.Int("skipped", len(result.Skipped)),
		)
	}
	return nil
}
