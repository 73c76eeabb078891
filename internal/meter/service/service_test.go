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
	invoicedomain "github.com/utiliko/billing/internal/invoice/domain"
	invoiceservice "github.com/utiliko/billing/internal/invoice/service"
	"github.com/utiliko/billing/internal/meter/domain"
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

type allowAllAuthz struct{}

func (allowAllAuthz) Authorize(context.Context, string, string, string, string) error { return nil }

type noopAudit struct{}

func (noopAudit) Record(context.Context, snowflake.ID, string, string, string, string, map[string]any) error {
	return nil
}

func (noopAudit) List(context.Context, auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

type fixture struct {
	db         *gorm.DB
	node       *snowflake.Node
	clk        *clock.FakeClock
	svc        domain.Service
	invoiceSvc invoicedomain.Service
	orgID      snowflake.ID
	property   propertydomain.Property
	occupant   propertydomain.Occupant
	meter      domain.Meter
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
		&domain.Meter{},
		&domain.MeterReading{},
		&domain.MeterReadingAudit{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
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
	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
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
	svc := NewService(Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    clk,
		Config:   cfg,
		Authz:    allowAllAuthz{},
		Audit:    noopAudit{},
		Invoices: invoiceSvc,
	})

	f := &fixture{db: db, node: node, clk: clk, svc: svc, invoiceSvc: invoiceSvc, orgID: node.Generate()}

	f.property = propertydomain.Property{
		ID:       node.Generate(),
		OrgID:    f.orgID,
		Name:     "Maple Court",
		Address:  "12 Maple Street",
		Metadata: datatypes.JSONMap{},
	}
	require.NoError(t, db.Create(&f.property).Error)

	f.occupant = propertydomain.Occupant{
		ID:         node.Generate(),
		OrgID:      f.orgID,
		PropertyID: f.property.ID,
		Name:       "Anna Kovar",
		MovedInAt:  time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		Active:     true,
	}
	require.NoError(t, db.Create(&f.occupant).Error)

	service := catalogdomain.UtilityService{
		ID:     node.Generate(),
		OrgID:  f.orgID,
		Code:   "electricity",
		Name:   "Electricity",
		Kind:   "electricity",
		Unit:   "kWh",
		Active: true,
	}
	require.NoError(t, db.Create(&service).Error)

	serviceCfg := catalogdomain.ServiceConfiguration{
		ID:                  node.Generate(),
		OrgID:               f.orgID,
		PropertyID:          f.property.ID,
		ServiceID:           service.ID,
		PricingModel:        catalogdomain.PricingConsumptionBased,
		RateSchedule:        datatypes.JSONMap{"unit_rate": 0.5},
		SeasonalAdjustments: datatypes.JSONMap{},
		EffectiveFrom:       time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		Active:              true,
	}
	require.NoError(t, db.Create(&serviceCfg).Error)

	f.meter = domain.Meter{
		ID:              node.Generate(),
		OrgID:           f.orgID,
		PropertyID:      f.property.ID,
		ServiceConfigID: serviceCfg.ID,
		Serial:          "EL-001",
		Kind:            "electricity",
		Active:          true,
	}
	require.NoError(t, db.Create(&f.meter).Error)

	return f
}

func (f *fixture) addReading(t *testing.T, value float64, zone *string, at time.Time) domain.MeterReading {
	t.Helper()
	reading := domain.MeterReading{
		ID:               f.node.Generate(),
		OrgID:            f.orgID,
		MeterID:          f.meter.ID,
		Value:            decimal.NewFromFloat(value),
		Zone:             zone,
		ReadingDate:      at,
		ValidationStatus: domain.ValidationValidated,
		InputMethod:      domain.InputManual,
	}
	require.NoError(t, f.db.Create(&reading).Error)
	return reading
}

func (f *fixture) correct(t *testing.T, readingID snowflake.ID, value *decimal.Decimal, date *time.Time) (*domain.CorrectionResult, error) {
	t.Helper()
	return f.svc.CorrectReading(context.Background(), domain.CorrectionRequest{
		OrgID:        f.orgID,
		ReadingID:    readingID,
		Value:        value,
		ReadingDate:  date,
		ChangeReason: "Transposed digits during manual entry",
		ChangedByID:  f.node.Generate(),
		Actor:        "user:1",
	})
}

func decp(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

// -- Reading ingestion --

func TestCreateReading(t *testing.T) {
	f := newFixture(t)

	reading, err := f.svc.CreateReading(context.Background(), domain.CreateReadingRequest{
		OrgID:       f.orgID,
		MeterID:     f.meter.ID,
		Value:       decimal.NewFromInt(1000),
		ReadingDate: marchStart,
		Actor:       "user:1",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ValidationValidated, reading.ValidationStatus)
	assert.Equal(t, domain.InputManual, reading.InputMethod)

	readings, err := f.svc.ListReadings(context.Background(), domain.ListReadingsRequest{
		OrgID:   f.orgID,
		MeterID: f.meter.ID,
	})
	require.NoError(t, err)
	require.Len(t, readings, 1)
}

func TestCreateReading_Validation(t *testing.T) {
	f := newFixture(t)
	f.addReading(t, 1250, nil, marchEnd)

	cases := []struct {
		name string
		req  domain.CreateReadingRequest
		want error
	}{
		{
			"negative value",
			domain.CreateReadingRequest{OrgID: f.orgID, MeterID: f.meter.ID, Value: decimal.NewFromInt(-1), ReadingDate: marchStart, Actor: "user:1"},
			domain.ErrInvalidValue,
		},
		{
			"future date",
			domain.CreateReadingRequest{OrgID: f.orgID, MeterID: f.meter.ID, Value: decimal.NewFromInt(1300), ReadingDate: testNow.Add(time.Hour), Actor: "user:1"},
			domain.ErrReadingDateInFuture,
		},
		{
			"below previous counter",
			domain.CreateReadingRequest{OrgID: f.orgID, MeterID: f.meter.ID, Value: decimal.NewFromInt(1100), ReadingDate: marchEnd.Add(time.Hour), Actor: "user:1"},
			domain.ErrNotMonotonic,
		},
		{
			"unknown meter",
			domain.CreateReadingRequest{OrgID: f.orgID, MeterID: f.node.Generate(), Value: decimal.NewFromInt(1), ReadingDate: marchStart, Actor: "user:1"},
			domain.ErrMeterNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateReading(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

// -- Correction --

func TestCorrectReading(t *testing.T) {
	f := newFixture(t)
	f.addReading(t, 1000, nil, marchStart)
	reading := f.addReading(t, 1250, nil, marchEnd)

	result, err := f.correct(t, reading.ID, decp(1300), nil)
	require.NoError(t, err)

	assert.NotZero(t, result.AuditID)
	assert.True(t, result.Reading.Value.Equal(decimal.NewFromInt(1300)))

	var audit domain.MeterReadingAudit
	require.NoError(t, f.db.First(&audit, "id = ?", result.AuditID).Error)
	assert.True(t, audit.OldValue.Equal(decimal.NewFromInt(1250)))
	assert.True(t, audit.NewValue.Equal(decimal.NewFromInt(1300)))
	assert.Equal(t, reading.ID, audit.ReadingID)

	var stored domain.MeterReading
	require.NoError(t, f.db.First(&stored, "id = ?", reading.ID).Error)
	assert.True(t, stored.Value.Equal(decimal.NewFromInt(1300)))
}

func TestCorrectReading_NoChangeStillAudited(t *testing.T) {
	f := newFixture(t)
	reading := f.addReading(t, 1000, nil, marchStart)

	result, err := f.correct(t, reading.ID, decp(1000), nil)
	require.NoError(t, err)
	assert.NotZero(t, result.AuditID)

	var count int64
	require.NoError(t, f.db.Model(&domain.MeterReadingAudit{}).
		Where("reading_id = ?", reading.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestCorrectReading_ReasonBounds(t *testing.T) {
	f := newFixture(t)
	reading := f.addReading(t, 1000, nil, marchStart)

	correct := func(reason string) error {
		_, err := f.svc.CorrectReading(context.Background(), domain.CorrectionRequest{
			OrgID:        f.orgID,
			ReadingID:    reading.ID,
			Value:        decp(1010),
			ChangeReason: reason,
			ChangedByID:  f.node.Generate(),
			Actor:        "user:1",
		})
		return err
	}

	assert.ErrorIs(t, correct("too short"), domain.ErrInvalidChangeReason)

	long := make([]byte, 501)
	for i := range long {
		long[i] = 'x'
	}
	assert.ErrorIs(t, correct(string(long)), domain.ErrInvalidChangeReason)

	assert.NoError(t, correct("Transposed digits during entry"))
}

func TestCorrectReading_Monotonic(t *testing.T) {
	f := newFixture(t)
	f.addReading(t, 1000, nil, marchStart)
	middle := f.addReading(t, 1100, nil, marchStart.AddDate(0, 0, 14))
	f.addReading(t, 1250, nil, marchEnd)

	_, err := f.correct(t, middle.ID, decp(900), nil)
	assert.ErrorIs(t, err, domain.ErrNotMonotonic)

	_, err = f.correct(t, middle.ID, decp(1300), nil)
	assert.ErrorIs(t, err, domain.ErrNotMonotonic)

	result, err := f.correct(t, middle.ID, decp(1200), nil)
	require.NoError(t, err)
	assert.True(t, result.Reading.Value.Equal(decimal.NewFromInt(1200)))
}

func TestCorrectReading_ZoneSequencesAreIndependent(t *testing.T) {
	f := newFixture(t)
	day := "day"
	f.addReading(t, 5000, &day, marchStart)
	f.addReading(t, 1000, nil, marchStart)
	reading := f.addReading(t, 1250, nil, marchEnd)

	// The day-zone counter at 5000 does not bound the zoneless sequence.
	result, err := f.correct(t, reading.ID, decp(1300), nil)
	require.NoError(t, err)
	assert.True(t, result.Reading.Value.Equal(decimal.NewFromInt(1300)))
}

func TestCorrectReading_Guards(t *testing.T) {
	f := newFixture(t)

	_, err := f.correct(t, f.node.Generate(), decp(1), nil)
	assert.ErrorIs(t, err, domain.ErrReadingNotFound)

	pending := domain.MeterReading{
		ID:               f.node.Generate(),
		OrgID:            f.orgID,
		MeterID:          f.meter.ID,
		Value:            decimal.NewFromInt(10),
		ReadingDate:      marchStart,
		ValidationStatus: domain.ValidationPending,
	}
	require.NoError(t, f.db.Create(&pending).Error)
	_, err = f.correct(t, pending.ID, decp(11), nil)
	assert.ErrorIs(t, err, domain.ErrReadingNotCorrectable)

	reading := f.addReading(t, 1000, nil, marchStart)
	_, err = f.correct(t, reading.ID, decp(-5), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidValue)

	future := testNow.Add(time.Hour)
	_, err = f.correct(t, reading.ID, nil, &future)
	assert.ErrorIs(t, err, domain.ErrReadingDateInFuture)
}

// -- Cascade --

func TestCorrectReading_CascadeRecalculatesDrafts(t *testing.T) {
	f := newFixture(t)
	f.addReading(t, 1000, nil, marchStart)
	reading := f.addReading(t, 1250, nil, marchEnd)

	draft, err := f.invoiceSvc.Generate(context.Background(), invoicedomain.GenerateRequest{
		OrgID:       f.orgID,
		OccupantID:  f.occupant.ID,
		PeriodStart: marchStart,
		PeriodEnd:   marchEnd,
		Actor:       "system",
	})
	require.NoError(t, err)
	require.True(t, draft.TotalAmount.Equal(decimal.NewFromFloat(125.00)))

	result, err := f.correct(t, reading.ID, decp(1300), nil)
	require.NoError(t, err)

	require.Len(t, result.RecalculatedInvoiceIDs, 1)
	assert.Equal(t, draft.ID, result.RecalculatedInvoiceIDs[0])
	assert.Empty(t, result.FailedInvoiceIDs)

	refreshed, err := f.invoiceSvc.Get(context.Background(), f.orgID, draft.ID)
	require.NoError(t, err)
	assert.True(t, refreshed.TotalAmount.Equal(decimal.NewFromFloat(150.00)), "got %s", refreshed.TotalAmount)
}

func TestCorrectReading_CascadeSkipsFinalizedInvoices(t *testing.T) {
	f := newFixture(t)
	f.addReading(t, 1000, nil, marchStart)
	reading := f.addReading(t, 1250, nil, marchEnd)

	invoice, err := f.invoiceSvc.Generate(context.Background(), invoicedomain.GenerateRequest{
		OrgID:       f.orgID,
		OccupantID:  f.occupant.ID,
		PeriodStart: marchStart,
		PeriodEnd:   marchEnd,
		Actor:       "system",
	})
	require.NoError(t, err)
	_, err = f.invoiceSvc.Finalize(context.Background(), f.orgID, invoice.ID, "system")
	require.NoError(t, err)

	result, err := f.correct(t, reading.ID, decp(1300), nil)
	require.NoError(t, err)

	// The correction lands, the finalized invoice keeps its figures.
	assert.Empty(t, result.RecalculatedInvoiceIDs)
	assert.Empty(t, result.FailedInvoiceIDs)

	refreshed, err := f.invoiceSvc.Get(context.Background(), f.orgID, invoice.ID)
	require.NoError(t, err)
	assert.True(t, refreshed.TotalAmount.Equal(decimal.NewFromFloat(125.00)))

	var stored domain.MeterReading
	require.NoError(t, f.db.First(&stored, "id = ?", reading.ID).Error)
	assert.True(t, stored.Value.Equal(decimal.NewFromInt(1300)))
}

func TestCorrectReading_CascadeIgnoresOtherPeriods(t *testing.T) {
	f := newFixture(t)
	febStart := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	febEnd := time.Date(2025, time.February, 28, 23, 59, 59, 0, time.UTC)

	f.addReading(t, 800, nil, febStart)
	f.addReading(t, 1000, nil, febEnd)
	f.addReading(t, 1000, nil, marchStart)
	reading := f.addReading(t, 1250, nil, marchEnd)

	febDraft, err := f.invoiceSvc.Generate(context.Background(), invoicedomain.GenerateRequest{
		OrgID:       f.orgID,
		OccupantID:  f.occupant.ID,
		PeriodStart: febStart,
		PeriodEnd:   febEnd,
		Actor:       "system",
	})
	require.NoError(t, err)

	marchDraft, err := f.invoiceSvc.Generate(context.Background(), invoicedomain.GenerateRequest{
		OrgID:       f.orgID,
		OccupantID:  f.occupant.ID,
		PeriodStart: marchStart,
		PeriodEnd:   marchEnd,
		Actor:       "system",
	})
	require.NoError(t, err)

	result, err := f.correct(t, reading.ID, decp(1300), nil)
	require.NoError(t, err)

	require.Len(t, result.RecalculatedInvoiceIDs, 1)
	assert.Equal(t, marchDraft.ID, result.RecalculatedInvoiceIDs[0])

	refreshedFeb, err := f.invoiceSvc.Get(context.Background(), f.orgID, febDraft.ID)
	require.NoError(t, err)
	assert.True(t, refreshedFeb.TotalAmount.Equal(febDraft.TotalAmount))
}
