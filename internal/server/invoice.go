package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/utiliko/billing/internal/authorization"
	invoicedomain "github.com/utiliko/billing/internal/invoice/domain"
)

type generateInvoiceRequest struct {
	OccupantID  string `json:"occupant_id"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

type generateBulkRequest struct {
	OccupantIDs []string `json:"occupant_ids,omitempty"`
	PeriodStart string   `json:"period_start"`
	PeriodEnd   string   `json:"period_end"`
}

func (s *Server) GenerateInvoice(c *gin.Context) {
	orgID, err := orgIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req generateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	occupantID, err := parseOptionalID(req.OccupantID)
	if err != nil || occupantID == 0 {
		AbortWithError(c, newValidationError("occupant_id", "invalid_occupant_id", "invalid identifier"))
		return
	}
	periodStart, err := parseRequiredTime(c, req.PeriodStart, "period_start")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	periodEnd, err := parseRequiredTime(c, req.PeriodEnd, "period_end")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoice, err := s.invoiceSvc.Generate(c.Request.Context(), invoicedomain.GenerateRequest{
		OrgID:       orgID,
		OccupantID:  occupantID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Actor:       actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": invoice})
}

func (s *Server) GenerateInvoicesBulk(c *gin.Context) {
	orgID, err := orgIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req generateBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	periodStart, err := parseRequiredTime(c, req.PeriodStart, "period_start")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	periodEnd, err := parseRequiredTime(c, req.PeriodEnd, "period_end")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	occupantIDs := make([]snowflake.ID, 0, len(req.OccupantIDs))
	for _, raw := range req.OccupantIDs {
		id, err := parseOptionalID(raw)
		if err != nil || id == 0 {
			AbortWithError(c, newValidationError("occupant_ids", "invalid_occupant_id", "invalid identifier"))
			return
		}
		occupantIDs = append(occupantIDs, id)
	}

	result, err := s.invoiceSvc.GenerateBulk(c.Request.Context(), invoicedomain.BulkRequest{
		OrgID:       orgID,
		OccupantIDs: occupantIDs,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Actor:       actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ListInvoices(c *gin.Context) {
	orgID, err := orgIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authzSvc.Authorize(c.Request.Context(), actorFrom(c), orgID.String(), authorization.ObjectInvoice, authorization.ActionInvoiceView); err != nil {
		AbortWithError(c, err)
		return
	}

	occupantID, err := parseOptionalID(c.Query("occupant_id"))
	if err != nil {
		AbortWithError(c, newValidationError("occupant_id", "invalid_occupant_id", "invalid identifier"))
		return
	}

	invoices, err := s.invoiceSvc.List(c.Request.Context(), invoicedomain.ListInvoicesRequest{
		OrgID:      orgID,
		OccupantID: occupantID,
		Status:     strings.TrimSpace(c.Query("status")),
		Limit:      parseIntQuery(c, "limit", 100),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoices})
}

func (s *Server) GetInvoice(c *gin.Context) {
	orgID, err := orgIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	invoiceID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authzSvc.Authorize(c.Request.Context(), actorFrom(c), orgID.String(), authorization.ObjectInvoice, authorization.ActionInvoiceView); err != nil {
		AbortWithError(c, err)
		return
	}

	invoice, err := s.invoiceSvc.Get(c.Request.Context(), orgID, invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) FinalizeInvoice(c *gin.Context) {
	orgID, err := orgIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	invoiceID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoice, err := s.invoiceSvc.Finalize(c.Request.Context(), orgID, invoiceID, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) RecalculateInvoice(c *gin.Context) {
	orgID, err := orgIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	invoiceID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authzSvc.Authorize(c.Request.Context(), actorFrom(c), orgID.String(), authorization.ObjectInvoice, authorization.ActionInvoiceGenerate); err != nil {
		AbortWithError(c, err)
		return
	}

	invoice, err := s.invoiceSvc.Recalculate(c.Request.Context(), orgID, invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) InvoiceHistory(c *gin.Context) {
	orgID, err := orgIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	occupantID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authzSvc.Authorize(c.Request.Context(), actorFrom(c), orgID.String(), authorization.ObjectInvoice, authorization.ActionInvoiceView); err != nil {
		AbortWithError(c, err)
		return
	}

	invoices, err := s.invoiceSvc.History(c.Request.Context(), orgID, occupantID, parseIntQuery(c, "months", 12))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoices})
}
