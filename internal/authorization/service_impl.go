package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/utiliko/billing/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectProperty             = "property"
	ObjectOccupant             = "occupant"
	ObjectUtilityService       = "utility_service"
	ObjectServiceConfiguration = "service_configuration"
	ObjectMeter                = "meter"
	ObjectMeterReading         = "meter_reading"
	ObjectConsumption          = "consumption"
	ObjectInvoice              = "invoice"
	ObjectAuditLog             = "audit_log"
)

const (
	ActionMeterReadingView    = "meter_reading.view"
	ActionMeterReadingCreate  = "meter_reading.create"
	ActionMeterReadingCorrect = "meter_reading.correct"

	ActionInvoiceView     = "invoice.view"
	ActionInvoiceGenerate = "invoice.generate"
	ActionInvoiceFinalize = "invoice.finalize"

	ActionConsumptionView = "consumption.view"

	ActionAuditLogView = "audit_log.view"

	ActionMeterView   = "meter.view"
	ActionMeterCreate = "meter.create"
	ActionMeterUpdate = "meter.update"
	ActionMeterDelete = "meter.delete"

	ActionPropertyView   = "property.view"
	ActionPropertyCreate = "property.create"
	ActionPropertyUpdate = "property.update"
	ActionPropertyDelete = "property.delete"

	ActionOccupantView   = "occupant.view"
	ActionOccupantCreate = "occupant.create"
	ActionOccupantUpdate = "occupant.update"
	ActionOccupantDelete = "occupant.delete"

	ActionUtilityServiceView   = "utility_service.view"
	ActionUtilityServiceCreate = "utility_service.create"
	ActionUtilityServiceUpdate = "utility_service.update"
	ActionUtilityServiceDelete = "utility_service.delete"

	ActionServiceConfigurationView   = "service_configuration.view"
	ActionServiceConfigurationCreate = "service_configuration.create"
	ActionServiceConfigurationUpdate = "service_configuration.update"
	ActionServiceConfigurationDelete = "service_configuration.delete"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, orgID string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return ErrInvalidOrganization
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, actorType, actorID, err := s.resolveActor(ctx, actor, orgID)
	if err != nil {
		s.auditDecision(ctx, "authorization.denied", actorType, actorID, orgID, object, action)
		return err
	}

	domain := fmt.Sprintf("org:%s", orgID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDecision(ctx, "authorization.denied", actorType, actorID, orgID, object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(action) {
		s.auditDecision(ctx, "authorization.granted", actorType, actorID, orgID, object, action)
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string, orgID string) (string, string, string, string, error) {
	if actor == "system" {
		return actor, "role:system", "system", "system", nil
	}
	if strings.HasPrefix(actor, "user:") {
		userIDRaw := strings.TrimPrefix(actor, "user:")
		userID, err := snowflake.ParseString(userIDRaw)
		if err != nil || userID == 0 {
			return "", "", "", "", ErrInvalidActor
		}
		parsedOrgID, err := snowflake.ParseString(orgID)
		if err != nil || parsedOrgID == 0 {
			return actor, "", "user", userID.String(), ErrInvalidOrganization
		}
		role, err := s.roleForUser(ctx, parsedOrgID, userID)
		if err != nil {
			return actor, "", "user", userID.String(), err
		}
		roleName := fmt.Sprintf("role:%s", strings.ToLower(role))
		return actor, roleName, "user", userID.String(), nil
	}
	return "", "", "", "", ErrInvalidActor
}

func (s *ServiceImpl) roleForUser(ctx context.Context, orgID snowflake.ID, userID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM organization_members
		 WHERE org_id = ? AND user_id = ?
		 LIMIT 1`,
		orgID,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) auditDecision(ctx context.Context, decision string, actorType string, actorID string, orgID string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	parsedOrgID, err := snowflake.ParseString(orgID)
	if err != nil || parsedOrgID == 0 {
		return
	}
	_ = s.auditSvc.Record(ctx, parsedOrgID, actorID, decision, "authorization", object, map[string]any{
		"object":     object,
		"action":     action,
		"actor_type": actorType,
	})
}

// shouldAuditGrant marks actions whose grants are recorded, not just
// denials. These mutate billing records that occupants rely on.
func shouldAuditGrant(action string) bool {
	switch action {
	case ActionMeterReadingCorrect, ActionInvoiceFinalize:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Occupants see their own bills and usage. Row scoping is the
		// service layer's job; this only bounds the verbs.
		{"role:occupant", ObjectInvoice, ActionInvoiceView},
		{"role:occupant", ObjectMeterReading, ActionMeterReadingView},
		{"role:occupant", ObjectConsumption, ActionConsumptionView},

		// Managers run day-to-day metering and drafting.
		{"role:manager", ObjectMeter, ActionMeterView},
		{"role:manager", ObjectMeterReading, ActionMeterReadingView},
		{"role:manager", ObjectMeterReading, ActionMeterReadingCreate},
		{"role:manager", ObjectMeterReading, ActionMeterReadingCorrect},
		{"role:manager", ObjectConsumption, ActionConsumptionView},
		{"role:manager", ObjectInvoice, ActionInvoiceView},
		{"role:manager", ObjectInvoice, ActionInvoiceGenerate},
		{"role:manager", ObjectProperty, ActionPropertyView},
		{"role:manager", ObjectOccupant, ActionOccupantView},
		{"role:manager", ObjectUtilityService, ActionUtilityServiceView},
		{"role:manager", ObjectServiceConfiguration, ActionServiceConfigurationView},

		// Admins additionally finalize invoices and manage the catalog.
		{"role:admin", ObjectMeter, ActionMeterView},
		{"role:admin", ObjectMeter, ActionMeterCreate},
		{"role:admin", ObjectMeter, ActionMeterUpdate},
		{"role:admin", ObjectMeter, ActionMeterDelete},
		{"role:admin", ObjectMeterReading, ActionMeterReadingView},
		{"role:admin", ObjectMeterReading, ActionMeterReadingCreate},
		{"role:admin", ObjectMeterReading, ActionMeterReadingCorrect},
		{"role:admin", ObjectConsumption, ActionConsumptionView},
		{"role:admin", ObjectInvoice, ActionInvoiceView},
		{"role:admin", ObjectInvoice, ActionInvoiceGenerate},
		{"role:admin", ObjectInvoice, ActionInvoiceFinalize},
		{"role:admin", ObjectProperty, ActionPropertyView},
		{"role:admin", ObjectProperty, ActionPropertyCreate},
		{"role:admin", ObjectProperty, ActionPropertyUpdate},
		{"role:admin", ObjectProperty, ActionPropertyDelete},
		{"role:admin", ObjectOccupant, ActionOccupantView},
		{"role:admin", ObjectOccupant, ActionOccupantCreate},
		{"role:admin", ObjectOccupant, ActionOccupantUpdate},
		{"role:admin", ObjectOccupant, ActionOccupantDelete},
		{"role:admin", ObjectUtilityService, ActionUtilityServiceView},
		{"role:admin", ObjectUtilityService, ActionUtilityServiceCreate},
		{"role:admin", ObjectUtilityService, ActionUtilityServiceUpdate},
		{"role:admin", ObjectUtilityService, ActionUtilityServiceDelete},
		{"role:admin", ObjectServiceConfiguration, ActionServiceConfigurationView},
		{"role:admin", ObjectServiceConfiguration, ActionServiceConfigurationCreate},
		{"role:admin", ObjectServiceConfiguration, ActionServiceConfigurationUpdate},
		{"role:admin", ObjectServiceConfiguration, ActionServiceConfigurationDelete},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},

		// The scheduler acts as role:system.
		{"role:system", ObjectInvoice, ActionInvoiceView},
		{"role:system", ObjectInvoice, ActionInvoiceGenerate},
		{"role:system", ObjectInvoice, ActionInvoiceFinalize},
		{"role:system", ObjectMeter, ActionMeterView},
		{"role:system", ObjectMeterReading, ActionMeterReadingView},
		{"role:system", ObjectConsumption, ActionConsumptionView},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
