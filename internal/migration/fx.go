package migration

import (
	auditdomain "github.com/utiliko/billing/internal/audit/domain"
	catalogdomain "github.com/utiliko/billing/internal/catalog/domain"
	"github.com/utiliko/billing/internal/config"
	invoicedomain "github.com/utiliko/billing/internal/invoice/domain"
	meterdomain "github.com/utiliko/billing/internal/meter/domain"
	organizationdomain "github.com/utiliko/billing/internal/organization/domain"
	propertydomain "github.com/utiliko/billing/internal/property/domain"
	"github.com/utiliko/billing/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// sqlite and mysql are development dialects; the versioned SQL
			// migrations target postgres only.
			if err := autoMigrate(conn); err != nil {
				return err
			}
		}

		if cfg.Bootstrap.EnsureDefaultOrg {
			if err := seed.EnsureDefaultOrg(conn); err != nil {
				return err
			}
		}
		if cfg.Bootstrap.SeedDemoData {
			return seed.EnsureDemoData(conn)
		}
		return nil
	}),
)

func autoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&organizationdomain.Organization{},
		&organizationdomain.OrganizationMember{},
		&propertydomain.Property{},
		&propertydomain.Occupant{},
		&catalogdomain.UtilityService{},
		&catalogdomain.ServiceConfiguration{},
		&meterdomain.Meter{},
		&meterdomain.MeterReading{},
		&meterdomain.MeterReadingAudit{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&auditdomain.AuditLog{},
	)
}
