package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/utiliko/billing/internal/audit/domain"
	"github.com/utiliko/billing/internal/authorization"
	"github.com/utiliko/billing/pkg/db/pagination"
)

func (s *Server) ListAuditLogs(c *gin.Context) {
	orgID, err := orgIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authzSvc.Authorize(c.Request.Context(), actorFrom(c), orgID.String(), authorization.ObjectAuditLog, authorization.ActionAuditLogView); err != nil {
		AbortWithError(c, err)
		return
	}

	startAt, err := parseOptionalTime(c, "start_at")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	endAt, err := parseOptionalTime(c, "end_at")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{
			PageSize:  int32(parseIntQuery(c, "page_size", 50)),
			PageToken: strings.TrimSpace(c.Query("page_token")),
		},
		OrgID:      orgID,
		Action:     strings.TrimSpace(c.Query("action")),
		TargetType: strings.TrimSpace(c.Query("target_type")),
		TargetID:   strings.TrimSpace(c.Query("target_id")),
		StartAt:    startAt,
		EndAt:      endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
