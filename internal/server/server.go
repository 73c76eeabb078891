// Package server is the HTTP surface over the billing core. Handlers
// stay thin: bind, delegate to a domain service, map errors.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/utiliko/billing/internal/audit/domain"
	"github.com/utiliko/billing/internal/authorization"
	"github.com/utiliko/billing/internal/config"
	consumptiondomain "github.com/utiliko/billing/internal/consumption/domain"
	invoicedomain "github.com/utiliko/billing/internal/invoice/domain"
	meterdomain "github.com/utiliko/billing/internal/meter/domain"
	"github.com/utiliko/billing/internal/observability"
	obsmiddleware "github.com/utiliko/billing/internal/observability/logger"
	obstracing "github.com/utiliko/billing/internal/observability/tracing"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	genID          *snowflake.Node
	authzSvc       authorization.Service
	auditSvc       auditdomain.Service
	invoiceSvc     invoicedomain.Service
	meterSvc       meterdomain.Service
	consumptionSvc consumptiondomain.Service
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	GenID          *snowflake.Node
	AuthzSvc       authorization.Service
	AuditSvc       auditdomain.Service
	InvoiceSvc     invoicedomain.Service
	MeterSvc       meterdomain.Service
	ConsumptionSvc consumptiondomain.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		genID:          p.GenID,
		authzSvc:       p.AuthzSvc,
		auditSvc:       p.AuditSvc,
		invoiceSvc:     p.InvoiceSvc,
		meterSvc:       p.MeterSvc,
		consumptionSvc: p.ConsumptionSvc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1/orgs/:org_id")

	v1.GET("/meters", s.ListMeters)
	v1.GET("/meters/:id", s.GetMeter)
	v1.GET("/meters/:id/readings", s.ListReadings)
	v1.POST("/meters/:id/readings", s.CreateReading)
	v1.GET("/meters/:id/consumption", s.PreviewConsumption)
	v1.GET("/meters/:id/consumption/history", s.ConsumptionHistory)

	v1.POST("/readings/:id/correct", s.CorrectReading)

	v1.POST("/invoices/generate", s.GenerateInvoice)
	v1.POST("/invoices/generate_bulk", s.GenerateInvoicesBulk)
	v1.GET("/invoices", s.ListInvoices)
	v1.GET("/invoices/:id", s.GetInvoice)
	v1.POST("/invoices/:id/finalize", s.FinalizeInvoice)
	v1.POST("/invoices/:id/recalculate", s.RecalculateInvoice)
	v1.GET("/occupants/:id/invoices", s.InvoiceHistory)

	v1.GET("/audit-logs", s.ListAuditLogs)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
