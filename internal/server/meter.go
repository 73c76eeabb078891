package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/utiliko/billing/internal/authorization"
)

func (s *Server) ListMeters(c *gin.Context) {
	orgID, err := orgIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authzSvc.Authorize(c.Request.Context(), actorFrom(c), orgID.String(), authorization.ObjectMeter, authorization.ActionMeterView); err != nil {
		AbortWithError(c, err)
		return
	}

	propertyID, err := parseOptionalID(c.Query("property_id"))
	if err != nil {
		AbortWithError(c, newValidationError("property_id", "invalid_property_id", "invalid identifier"))
		return
	}

	meters, err := s.meterSvc.ListMeters(c.Request.Context(), orgID, propertyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": meters})
}

func (s *Server) GetMeter(c *gin.Context) {
	orgID, err := orgIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	meterID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authzSvc.Authorize(c.Request.Context(), actorFrom(c), orgID.String(), authorization.ObjectMeter, authorization.ActionMeterView); err != nil {
		AbortWithError(c, err)
		return
	}

	meter, err := s.meterSvc.GetMeter(c.Request.Context(), orgID, meterID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": meter})
}
