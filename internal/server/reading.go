package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/utiliko/billing/internal/authorization"
	meterdomain "github.com/utiliko/billing/internal/meter/domain"
	"gorm.io/datatypes"
)

type createReadingRequest struct {
	Value         string         `json:"value"`
	ReadingValues map[string]any `json:"reading_values,omitempty"`
	Zone          *string        `json:"zone,omitempty"`
	ReadingDate   string         `json:"reading_date"`
	InputMethod   string         `json:"input_method,omitempty"`
}

type correctReadingRequest struct {
	Value        *string `json:"value,omitempty"`
	ReadingDate  *string `json:"reading_date,omitempty"`
	ChangeReason string  `json:"change_reason"`
}

func (s *Server) CreateReading(c *gin.Context) {
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

	var req createReadingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	value, err := decimal.NewFromString(strings.TrimSpace(req.Value))
	if err != nil {
		AbortWithError(c, newValidationError("value", "invalid_value", "invalid numeric value"))
		return
	}
	readingDate, err := parseRequiredTime(c, req.ReadingDate, "reading_date")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	createReq := meterdomain.CreateReadingRequest{
		OrgID:       orgID,
		MeterID:     meterID,
		Value:       value,
		Zone:        req.Zone,
		ReadingDate: readingDate,
		InputMethod: strings.TrimSpace(req.InputMethod),
		Actor:       actorFrom(c),
	}
	if len(req.ReadingValues) > 0 {
		createReq.ReadingValues = datatypes.JSONMap(req.ReadingValues)
	}
	if userID := userIDFrom(c); userID != 0 {
		createReq.EnteredByID = &userID
	}

	reading, err := s.meterSvc.CreateReading(c.Request.Context(), createReq)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": reading})
}

func (s *Server) ListReadings(c *gin.Context) {
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
	if err := s.authzSvc.Authorize(c.Request.Context(), actorFrom(c), orgID.String(), authorization.ObjectMeterReading, authorization.ActionMeterReadingView); err != nil {
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

	readings, err := s.meterSvc.ListReadings(c.Request.Context(), meterdomain.ListReadingsRequest{
		OrgID:   orgID,
		MeterID: meterID,
		StartAt: startAt,
		EndAt:   endAt,
		Limit:   parseIntQuery(c, "limit", 100),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": readings})
}

func (s *Server) CorrectReading(c *gin.Context) {
	orgID, err := orgIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	readingID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req correctReadingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	correction := meterdomain.CorrectionRequest{
		OrgID:        orgID,
		ReadingID:    readingID,
		ChangeReason: req.ChangeReason,
		ChangedByID:  userIDFrom(c),
		Actor:        actorFrom(c),
	}
	if req.Value != nil {
		value, err := decimal.NewFromString(strings.TrimSpace(*req.Value))
		if err != nil {
			AbortWithError(c, newValidationError("value", "invalid_value", "invalid numeric value"))
			return
		}
		correction.Value = &value
	}
	if req.ReadingDate != nil {
		readingDate, err := parseRequiredTime(c, *req.ReadingDate, "reading_date")
		if err != nil {
			AbortWithError(c, err)
			return
		}
		correction.ReadingDate = &readingDate
	}

	result, err := s.meterSvc.CorrectReading(c.Request.Context(), correction)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
