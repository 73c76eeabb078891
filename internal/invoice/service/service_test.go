package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	auditdomain "github.com/utiliko/billing/internal/audit/domain"
	"github.com/utiliko/billing/internal/billing"
	catalogdomain "github.com/utiliko/billing/internal/catalog/domain"
	"github.com/utiliko/billing/internal/clock"
	"github.com/utiliko/billing/internal/config"
	consumptionservice "github.com/utiliko/billing/internal/consumption/service"
	"github.com/utiliko/billing/internal/invoice/domain"
	meterdomain "github.com/utiliko/billing/internal/meter/domain"
	propertydomain "github.com/utiliko/billing/internal/property/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	testNow    = time.Date(2025, time.April, 15, 12, 0, 0, 0, time.UTC)
	marchStart = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	marchEnd   = time.Date(2025, time.March, 31, 23, 59, 59, 0, time.UTC)
)

// -- Fakes --

type allowAllAuthz struct{}

func (allowAllAuthz) Authorize(context.Context, string, string, string, string) error { return nil }

type noopAudit struct{}

func (noopAudit) Record(context.Context, snowflake.ID, string, string, string, string, map[string]any) error {
	return nil
}

func (noopAudit) List(context.Context, auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

// -- Fixture --

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	clk      *clock.FakeClock
	svc      domain.Service
	orgID    snowflake.ID
	property propertydomain.Property
	occupant propertydomain.Occupant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&propertydomain.Property{},
		&propertydomain.Occupant{},
		&catalogdomain.UtilityService{},
		&catalogdomain.ServiceConfiguration{},
		&meterdomain.Meter{},
		&meterdomain.MeterReading{},
		&domain.Invoice{},
		&domain.InvoiceItem{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(testNow)
	log := zap.NewNop()

	cfg := config.Config{Billing: config.BillingConfig{
		ChangeReasonMinLen: 10,
		ChangeReasonMaxLen: 500,
		MaxPeriodDays:      366,
		DueDays:            14,
		BulkChunkSize:      10,
	}}

	consumptionSvc := consumptionservice.NewService(consumptionservice.Params{
		DB:    db,
		Log:   log,
		Clock: clk,
	})

	svc := NewService(Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Config:      cfg,
		Authz:       allowAllAuthz{},
		Consumption: consumptionSvc,
		Calculator:  billing.NewCalculator(),
		Audit:       noopAudit{},
	})

	f := &fixture{db: db, node: node, clk: clk, svc: svc, orgID: node.Generate()}
	f.property = propertydomain.Property{
		ID:       node.Generate(),
		OrgID:    f.orgID,
		Name:     "Maple Court",
		Address:  "12 Maple Street",
		Metadata: datatypes.JSONMap{},
	}
	require.NoError(t, db.Create(&f.property).Error)
	f.occupant = f.newOccupant(t)
	return f
}

func (f *fixture) newOccupant(t *testing.T) propertydomain.Occupant {
	t.Helper()
	occupant := propertydomain.Occupant{
		ID:         f.node.Generate(),
		OrgID:      f.orgID,
		PropertyID: f.property.ID,
		Name:       "Anna Kovar",
		MovedInAt:  time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		Active:     true,
	}
	require.NoError(t, f.db.Create(&occupant).Error)
	return occupant
}

func (f *fixture) newConfig(t *testing.T, unit, pricingModel string, rateSchedule datatypes.JSONMap) catalogdomain.ServiceConfiguration {
	t.Helper()
	service := catalogdomain.UtilityService{
		ID:     f.node.Generate(),
		OrgID:  f.orgID,
		Code:   unit,
		Name:   "Service " + unit,
		Kind:   unit,
		Unit:   unit,
		Active: true,
	}
	require.NoError(t, f.db.Create(&service).Error)

	cfg := catalogdomain.ServiceConfiguration{
		ID:                  f.node.Generate(),
		OrgID:               f.orgID,
		PropertyID:          f.property.ID,
		ServiceID:           service.ID,
		PricingModel:        pricingModel,
		RateSchedule:        rateSchedule,
		SeasonalAdjustments: datatypes.JSONMap{},
		EffectiveFrom:       time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		Active:              true,
	}
	require.NoError(t, f.db.Create(&cfg).Error)
	return cfg
}

func (f *fixture) newMeter(t *testing.T, cfg catalogdomain.ServiceConfiguration, active bool) meterdomain.Meter {
	t.Helper()
	meter := meterdomain.Meter{
		ID:              f.node.Generate(),
		OrgID:           f.orgID,
		PropertyID:      f.property.ID,
		ServiceConfigID: cfg.ID,
		Serial:          "M-" + cfg.ID.String(),
		Kind:            "generic",
		Active:          active,
	}
	require.NoError(t, f.db.Create(&meter).Error)
	return meter
}

func (f *fixture) addReading(t *testing.T, meter meterdomain.Meter, value float64, at time.Time) {
	t.Helper()
	reading := meterdomain.MeterReading{
		ID:               f.node.Generate(),
		OrgID:            f.orgID,
		MeterID:          meter.ID,
		Value:            decimal.NewFromFloat(value),
		ReadingDate:      at,
		ValidationStatus: meterdomain.ValidationValidated,
		InputMethod:      meterdomain.InputManual,
	}
	require.NoError(t, f.db.Create(&reading).Error)
}

func (f *fixture) generate(t *testing.T) *domain.Invoice {
	t.Helper()
	invoice, err := f.svc.Generate(context.Background(), domain.GenerateRequest{
		OrgID:       f.orgID,
		OccupantID:  f.occupant.ID,
		PeriodStart: marchStart,
		PeriodEnd:   marchEnd,
		Actor:       "system",
	})
	require.NoError(t, err)
	return invoice
}

// -- Generation --

func TestGenerate_AssemblesItemsPerConfiguration(t *testing.T) {
	f := newFixture(t)

	electricity := f.newConfig(t, "kWh", catalogdomain.PricingConsumptionBased, datatypes.JSONMap{"unit_rate": 0.5})
	heating := f.newConfig(t, "GJ", catalogdomain.PricingFixedMonthly, datatypes.JSONMap{"monthly_rate": 10.00})
	water := f.newConfig(t, "m3", catalogdomain.PricingConsumptionBased, datatypes.JSONMap{"unit_rate": 3.10})

	elMeter := f.newMeter(t, electricity, true)
	f.addReading(t, elMeter, 1000, marchStart)
	f.addReading(t, elMeter, 1250, marchEnd)

	f.newMeter(t, heating, true)

	// No movement on the water meter, so no water line.
	waterMeter := f.newMeter(t, water, true)
	f.addReading(t, waterMeter, 240, marchStart)
	f.addReading(t, waterMeter, 240, marchEnd)

	invoice := f.generate(t)

	assert.Equal(t, domain.StatusDraft, invoice.Status)
	assert.Contains(t, invoice.Number, "INV-202503-")
	require.NotNil(t, invoice.DueAt)
	assert.Equal(t, marchEnd.Add(14*24*time.Hour), invoice.DueAt.UTC())

	require.Len(t, invoice.Items, 2)
	assert.True(t, invoice.TotalAmount.Equal(decimal.NewFromFloat(135.00)), "got %s", invoice.TotalAmount)

	var electricityItem, heatingItem *domain.InvoiceItem
	for i := range invoice.Items {
		switch invoice.Items[i].Unit {
		case "kWh":
			electricityItem = &invoice.Items[i]
		case "month":
			heatingItem = &invoice.Items[i]
		}
	}
	require.NotNil(t, electricityItem)
	require.NotNil(t, heatingItem)

	assert.True(t, electricityItem.Quantity.Equal(decimal.NewFromInt(250)))
	assert.True(t, electricityItem.UnitPrice.Equal(decimal.NewFromFloat(0.5)))
	assert.True(t, electricityItem.Total.Equal(decimal.NewFromFloat(125.00)))
	assert.Equal(t, catalogdomain.PricingConsumptionBased, electricityItem.MeterReadingSnapshot["pricing_model"])

	assert.True(t, heatingItem.Quantity.Equal(decimal.NewFromInt(1)))
	assert.True(t, heatingItem.Total.Equal(decimal.NewFromFloat(10.00)))
}

func TestGenerate_SharedConfigurationAggregatesMeters(t *testing.T) {
	f := newFixture(t)

	cfg := f.newConfig(t, "m3", catalogdomain.PricingConsumptionBased, datatypes.JSONMap{"unit_rate": 2.0})
	first := f.newMeter(t, cfg, true)
	second := f.newMeter(t, cfg, true)

	f.addReading(t, first, 100, marchStart)
	f.addReading(t, first, 110, marchEnd)
	f.addReading(t, second, 200, marchStart)
	f.addReading(t, second, 230, marchEnd)

	invoice := f.generate(t)

	require.Len(t, invoice.Items, 1)
	item := invoice.Items[0]
	assert.True(t, item.Quantity.Equal(decimal.NewFromInt(40)), "got %s", item.Quantity)
	assert.True(t, item.Total.Equal(decimal.NewFromFloat(80.00)), "got %s", item.Total)
	assert.Equal(t, 4, item.MeterReadingSnapshot["reading_count"])
}

func TestGenerate_NoActiveMeters(t *testing.T) {
	f := newFixture(t)

	cfg := f.newConfig(t, "kWh", catalogdomain.PricingConsumptionBased, datatypes.JSONMap{"unit_rate": 0.5})
	f.newMeter(t, cfg, false)

	_, err := f.svc.Generate(context.Background(), domain.GenerateRequest{
		OrgID:       f.orgID,
		OccupantID:  f.occupant.ID,
		PeriodStart: marchStart,
		PeriodEnd:   marchEnd,
		Actor:       "system",
	})
	assert.ErrorIs(t, err, domain.ErrNoActiveMeters)
}

func TestGenerate_InvalidPeriods(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name       string
		start, end time.Time
	}{
		{"reversed", marchEnd, marchStart},
		{"ends in future", time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, time.April, 30, 23, 59, 59, 0, time.UTC)},
		{"too long", time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Generate(context.Background(), domain.GenerateRequest{
				OrgID:       f.orgID,
				OccupantID:  f.occupant.ID,
				PeriodStart: tc.start,
				PeriodEnd:   tc.end,
				Actor:       "system",
			})
			assert.ErrorIs(t, err, domain.ErrInvalidPeriod)
		})
	}
}

func TestGenerate_UnknownOccupant(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Generate(context.Background(), domain.GenerateRequest{
		OrgID:       f.orgID,
		OccupantID:  f.node.Generate(),
		PeriodStart: marchStart,
		PeriodEnd:   marchEnd,
		Actor:       "system",
	})
	assert.ErrorIs(t, err, domain.ErrOccupantNotFound)
}

func TestGenerate_ExistingDraftRecomputedInPlace(t *testing.T) {
	f := newFixture(t)

	cfg := f.newConfig(t, "kWh", catalogdomain.PricingConsumptionBased, datatypes.JSONMap{"unit_rate": 0.5})
	meter := f.newMeter(t, cfg, true)
	f.addReading(t, meter, 1000, marchStart)
	f.addReading(t, meter, 1250, marchEnd.Add(-time.Hour))

	first := f.generate(t)
	assert.True(t, first.TotalAmount.Equal(decimal.NewFromFloat(125.00)))

	// A later reading extends the period's consumption.
	f.addReading(t, meter, 1500, marchEnd)

	second := f.generate(t)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Number, second.Number)
	assert.True(t, second.TotalAmount.Equal(decimal.NewFromFloat(250.00)), "got %s", second.TotalAmount)

	// Old items were replaced, not appended.
	var count int64
	require.NoError(t, f.db.Model(&domain.InvoiceItem{}).Where("invoice_id = ?", first.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestGenerate_FinalizedPeriodRefused(t *testing.T) {
	f := newFixture(t)

	cfg := f.newConfig(t, "kWh", catalogdomain.PricingConsumptionBased, datatypes.JSONMap{"unit_rate": 0.5})
	meter := f.newMeter(t, cfg, true)
	f.addReading(t, meter, 1000, marchStart)
	f.addReading(t, meter, 1250, marchEnd)

	invoice := f.generate(t)
	_, err := f.svc.Finalize(context.Background(), f.orgID, invoice.ID, "system")
	require.NoError(t, err)

	_, err = f.svc.Generate(context.Background(), domain.GenerateRequest{
		OrgID:       f.orgID,
		OccupantID:  f.occupant.ID,
		PeriodStart: marchStart,
		PeriodEnd:   marchEnd,
		Actor:       "system",
	})
	assert.ErrorIs(t, err, domain.ErrInvoiceExists)
}

// -- Finalization --

func TestFinalize(t *testing.T) {
	f := newFixture(t)

	cfg := f.newConfig(t, "kWh", catalogdomain.PricingConsumptionBased, datatypes.JSONMap{"unit_rate": 0.5})
	meter := f.newMeter(t, cfg, true)
	f.addReading(t, meter, 1000, marchStart)
	f.addReading(t, meter, 1250, marchEnd)

	invoice := f.generate(t)

	finalized, err := f.svc.Finalize(context.Background(), f.orgID, invoice.ID, "system")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinalized, finalized.Status)
	require.NotNil(t, finalized.FinalizedAt)
	assert.Equal(t, testNow, finalized.FinalizedAt.UTC())

	_, err = f.svc.Finalize(context.Background(), f.orgID, invoice.ID, "system")
	assert.ErrorIs(t, err, domain.ErrInvoiceFinalized)
}

func TestFinalize_ZeroTotalRefused(t *testing.T) {
	f := newFixture(t)

	cfg := f.newConfig(t, "m3", catalogdomain.PricingConsumptionBased, datatypes.JSONMap{"unit_rate": 3.10})
	meter := f.newMeter(t, cfg, true)
	f.addReading(t, meter, 240, marchStart)
	f.addReading(t, meter, 240, marchEnd)

	invoice := f.generate(t)
	assert.True(t, invoice.TotalAmount.IsZero())
	assert.Empty(t, invoice.Items)

	_, err := f.svc.Finalize(context.Background(), f.orgID, invoice.ID, "system")
	assert.ErrorIs(t, err, domain.ErrZeroTotal)
}

func TestFinalize_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Finalize(context.Background(), f.orgID, f.node.Generate(), "system")
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)
}

func TestFinalizedInvoiceIsImmutable(t *testing.T) {
	f := newFixture(t)

	cfg := f.newConfig(t, "kWh", catalogdomain.PricingConsumptionBased, datatypes.JSONMap{"unit_rate": 0.5})
	meter := f.newMeter(t, cfg, true)
	f.addReading(t, meter, 1000, marchStart)
	f.addReading(t, meter, 1250, marchEnd)

	invoice := f.generate(t)
	_, err := f.svc.Finalize(context.Background(), f.orgID, invoice.ID, "system")
	require.NoError(t, err)

	// Recalculation through the service is refused.
	_, err = f.svc.Recalculate(context.Background(), f.orgID, invoice.ID)
	assert.ErrorIs(t, err, domain.ErrInvoiceFinalized)

	// Direct writes are stopped by the persistence hooks.
	update := domain.Invoice{ID: invoice.ID, TotalAmount: decimal.NewFromInt(999)}
	err = f.db.Model(&update).Select("total_amount").Updates(update).Error
	assert.ErrorIs(t, err, domain.ErrInvoiceFinalized)

	item := domain.InvoiceItem{
		ID:          f.node.Generate(),
		OrgID:       f.orgID,
		InvoiceID:   invoice.ID,
		Description: "Extra",
		Quantity:    decimal.NewFromInt(1),
		Unit:        "kWh",
		UnitPrice:   decimal.NewFromInt(1),
		Total:       decimal.NewFromInt(1),
	}
	err = f.db.Create(&item).Error
	assert.ErrorIs(t, err, domain.ErrInvoiceFinalized)

	err = f.db.Delete(&domain.Invoice{ID: invoice.ID}).Error
	assert.ErrorIs(t, err, domain.ErrInvoiceFinalized)

	// The stored row is untouched.
	stored, err := f.svc.Get(context.Background(), f.orgID, invoice.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalAmount.Equal(decimal.NewFromFloat(125.00)))
	require.Len(t, stored.Items, 1)
}

// -- Bulk generation --

func TestGenerateBulk(t *testing.T) {
	f := newFixture(t)

	cfg := f.newConfig(t, "kWh", catalogdomain.PricingConsumptionBased, datatypes.JSONMap{"unit_rate": 0.5})
	meter := f.newMeter(t, cfg, true)
	f.addReading(t, meter, 1000, marchStart)
	f.addReading(t, meter, 1250, marchEnd)

	second := f.newOccupant(t)

	// The first occupant already holds an invoice for the period.
	f.generate(t)

	unknown := f.node.Generate()
	result, err := f.svc.GenerateBulk(context.Background(), domain.BulkRequest{
		OrgID:       f.orgID,
		OccupantIDs: []snowflake.ID{f.occupant.ID, second.ID, unknown},
		PeriodStart: marchStart,
		PeriodEnd:   marchEnd,
		Actor:       "system",
	})
	require.NoError(t, err)

	require.Len(t, result.Successful, 1)
	assert.Equal(t, second.ID, result.Successful[0].OccupantID)

	require.Len(t, result.Skipped, 1)
	assert.Equal(t, f.occupant.ID, result.Skipped[0].OccupantID)
	assert.Equal(t, "invoice_exists", result.Skipped[0].Reason)

	require.Len(t, result.Failed, 1)
	assert.Equal(t, unknown, result.Failed[0].OccupantID)
}

func TestGenerateBulk_DefaultsToActiveOccupants(t *testing.T) {
	f := newFixture(t)

	cfg := f.newConfig(t, "kWh", catalogdomain.PricingConsumptionBased, datatypes.JSONMap{"unit_rate": 0.5})
	meter := f.newMeter(t, cfg, true)
	f.addReading(t, meter, 1000, marchStart)
	f.addReading(t, meter, 1250, marchEnd)

	movedOut := f.newOccupant(t)
	require.NoError(t, f.db.Model(&propertydomain.Occupant{}).
		Where("id = ?", movedOut.ID).
		Update("active", false).Error)

	result, err := f.svc.GenerateBulk(context.Background(), domain.BulkRequest{
		OrgID:       f.orgID,
		PeriodStart: marchStart,
		PeriodEnd:   marchEnd,
		Actor:       "system",
	})
	require.NoError(t, err)

	require.Len(t, result.Successful, 1)
	assert.Equal(t, f.occupant.ID, result.Successful[0].OccupantID)
	assert.Empty(t, result.Failed)
	assert.Empty(t, result.Skipped)
}

// -- Listing --

func TestListAndHistory(t *testing.T) {
	f := newFixture(t)

	cfg := f.newConfig(t, "kWh", catalogdomain.PricingConsumptionBased, datatypes.JSONMap{"unit_rate": 0.5})
	meter := f.newMeter(t, cfg, true)
	f.addReading(t, meter, 1000, marchStart)
	f.addReading(t, meter, 1250, marchEnd)

	invoice := f.generate(t)

	invoices, err := f.svc.List(context.Background(), domain.ListInvoicesRequest{
		OrgID:  f.orgID,
		Status: domain.StatusDraft,
	})
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, invoice.ID, invoices[0].ID)

	history, err := f.svc.History(context.Background(), f.orgID, f.occupant.ID, 6)
	require.NoError(t, err)
	require.Len(t, history, 1)

	history, err = f.svc.History(context.Background(), f.orgID, f.node.Generate(), 6)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRecalculate_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Recalculate(context.Background(), f.orgID, f.node.Generate())
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)
}
