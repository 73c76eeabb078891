// Package seed bootstraps a fresh installation with the default
// organization and, optionally, a small demo portfolio.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/utiliko/billing/internal/catalog/domain"
	meterdomain "github.com/utiliko/billing/internal/meter/domain"
	organizationdomain "github.com/utiliko/billing/internal/organization/domain"
	propertydomain "github.com/utiliko/billing/internal/property/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultOrgName = "Main"
	defaultOrgSlug = "main"
)

// EnsureDefaultOrg seeds the default organization and an admin
// membership for startup bootstrap.
func EnsureDefaultOrg(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err := ensureDefaultOrgTx(ctx, tx, node)
		if err != nil {
			return err
		}
		return ensureAdminMemberTx(ctx, tx, node, org.ID)
	})
}

// EnsureDemoData loads a demo property with occupants, services,
// configurations, meters and two months of validated readings. It is
// idempotent and only acts on an otherwise empty default organization.
func EnsureDemoData(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err := ensureDefaultOrgTx(ctx, tx, node)
		if err != nil {
			return err
		}

		var count int64
		if err := tx.WithContext(ctx).Model(&propertydomain.Property{}).
			Where("org_id = ?", org.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		return seedDemoPortfolio(ctx, tx, node, org.ID)
	})
}

func ensureDefaultOrgTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (organizationdomain.Organization, error) {
	var org organizationdomain.Organization
	err := tx.WithContext(ctx).Where("slug = ?", defaultOrgSlug).First(&org).Error
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return org, err
	}
	now := time.Now().UTC()
	org = organizationdomain.Organization{
		ID:        node.Generate(),
		Name:      defaultOrgName,
		Slug:      defaultOrgSlug,
		Currency:  "EUR",
		Metadata:  datatypes.JSONMap{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&org).Error; err != nil {
		return org, err
	}
	return org, nil
}

func ensureAdminMemberTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, orgID snowflake.ID) error {
	var member organizationdomain.OrganizationMember
	err := tx.WithContext(ctx).
		Where("org_id = ? AND role = ?", orgID, "admin").
		First(&member).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	member = organizationdomain.OrganizationMember{
		ID:        node.Generate(),
		OrgID:     orgID,
		UserID:    node.Generate(),
		Role:      "admin",
		CreatedAt: time.Now().UTC(),
	}
	return tx.WithContext(ctx).Create(&member).Error
}

func seedDemoPortfolio(ctx context.Context, tx *gorm.DB, node *snowflake.Node, orgID snowflake.ID) error {
	now := time.Now().UTC()
	yearStart := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)

	property := propertydomain.Property{
		ID:       node.Generate(),
		OrgID:    orgID,
		Name:     "Maple Court",
		Address:  "12 Maple Street",
		Metadata: datatypes.JSONMap{},
	}
	if err := tx.WithContext(ctx).Create(&property).Error; err != nil {
		return err
	}

	occupants := []propertydomain.Occupant{
		{ID: node.Generate(), OrgID: orgID, PropertyID: property.ID, UnitLabel: "1A", Name: "Anna Kovar", Email: "anna@example.com", MovedInAt: yearStart, Active: true},
		{ID: node.Generate(), OrgID: orgID, PropertyID: property.ID, UnitLabel: "2B", Name: "Marek Dolan", Email: "marek@example.com", MovedInAt: yearStart, Active: true},
	}
	for i := range occupants {
		if err := tx.WithContext(ctx).Create(&occupants[i]).Error; err != nil {
			return err
		}
	}

	electricity := catalogdomain.UtilityService{
		ID: node.Generate(), OrgID: orgID,
		Code: "electricity", Name: "Electricity", Kind: "electricity", Unit: "kWh", Active: true,
	}
	water := catalogdomain.UtilityService{
		ID: node.Generate(), OrgID: orgID,
		Code: "cold_water", Name: "Cold Water", Kind: "water", Unit: "m3", Active: true,
	}
	heating := catalogdomain.UtilityService{
		ID: node.Generate(), OrgID: orgID,
		Code: "heating", Name: "Heating", Kind: "heating", Unit: "GJ", Active: true,
	}
	for _, svc := range []*catalogdomain.UtilityService{&electricity, &water, &heating} {
		if err := tx.WithContext(ctx).Create(svc).Error; err != nil {
			return err
		}
	}

	configs := []catalogdomain.ServiceConfiguration{
		{
			ID: node.Generate(), OrgID: orgID, PropertyID: property.ID, ServiceID: electricity.ID,
			PricingModel: catalogdomain.PricingTimeOfUse,
			RateSchedule: datatypes.JSONMap{
				"zone_rates": map[string]any{"day": 0.28, "night": 0.19, "default": 0.28},
			},
			SeasonalAdjustments: datatypes.JSONMap{},
			EffectiveFrom:       yearStart,
			Active:              true,
		},
		{
			ID: node.Generate(), OrgID: orgID, PropertyID: property.ID, ServiceID: water.ID,
			PricingModel:        catalogdomain.PricingConsumptionBased,
			RateSchedule:        datatypes.JSONMap{"unit_rate": 3.10},
			SeasonalAdjustments: datatypes.JSONMap{},
			EffectiveFrom:       yearStart,
			Active:              true,
		},
		{
			ID: node.Generate(), OrgID: orgID, PropertyID: property.ID, ServiceID: heating.ID,
			PricingModel: catalogdomain.PricingFixedMonthly,
			RateSchedule: datatypes.JSONMap{
				"monthly_rate": 10.00,
				"seasonal_adjustments": map[string]any{
					"winter_multiplier": 1.2,
					"summer_multiplier": 0.5,
				},
			},
			SeasonalAdjustments: datatypes.JSONMap{},
			EffectiveFrom:       yearStart,
			Active:              true,
		},
	}
	for i := range configs {
		if err := tx.WithContext(ctx).Create(&configs[i]).Error; err != nil {
			return err
		}
	}

	meters := []meterdomain.Meter{
		{ID: node.Generate(), OrgID: orgID, PropertyID: property.ID, ServiceConfigID: configs[0].ID, Serial: "EL-001", Kind: "electricity", SupportsZones: true, Active: true},
		{ID: node.Generate(), OrgID: orgID, PropertyID: property.ID, ServiceConfigID: configs[1].ID, Serial: "CW-001", Kind: "water", Active: true},
		{ID: node.Generate(), OrgID: orgID, PropertyID: property.ID, ServiceConfigID: configs[2].ID, Serial: "HT-001", Kind: "heating", Active: true},
	}
	for i := range meters {
		if err := tx.WithContext(ctx).Create(&meters[i]).Error; err != nil {
			return err
		}
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	monthEnd := monthStart.AddDate(0, 1, 0).Add(-time.Second)
	day := "day"
	night := "night"

	readings := []meterdomain.MeterReading{
		{MeterID: meters[0].ID, Value: dec(1000), Zone: &day, ReadingDate: monthStart},
		{MeterID: meters[0].ID, Value: dec(1180), Zone: &day, ReadingDate: monthEnd},
		{MeterID: meters[0].ID, Value: dec(500), Zone: &night, ReadingDate: monthStart},
		{MeterID: meters[0].ID, Value: dec(590), Zone: &night, ReadingDate: monthEnd},
		{MeterID: meters[1].ID, Value: dec(240), ReadingDate: monthStart},
		{MeterID: meters[1].ID, Value: dec(247), ReadingDate: monthEnd},
	}
	for i := range readings {
		readings[i].ID = node.Generate()
		readings[i].OrgID = orgID
		readings[i].ValidationStatus = meterdomain.ValidationValidated
		readings[i].InputMethod = meterdomain.InputImport
		if err := tx.WithContext(ctx).Create(&readings[i]).Error; err != nil {
			return err
		}
	}

	return nil
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }
