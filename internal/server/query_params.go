package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

// actorFrom builds the authorization subject from request headers.
// "system" is accepted verbatim for internal callers.
func actorFrom(c *gin.Context) string {
	if actor := strings.TrimSpace(c.GetHeader("X-Actor")); actor != "" {
		return actor
	}
	if userID := strings.TrimSpace(c.GetHeader("X-User-Id")); userID != "" {
		return "user:" + userID
	}
	return ""
}

func userIDFrom(c *gin.Context) snowflake.ID {
	userID, err := snowflake.ParseString(strings.TrimSpace(c.GetHeader("X-User-Id")))
	if err != nil {
		return 0
	}
	return userID
}

func parseIDParam(c *gin.Context, name string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || id == 0 {
		return 0, newValidationError(name, "invalid_"+name, "invalid identifier")
	}
	return id, nil
}

func orgIDFrom(c *gin.Context) (snowflake.ID, error) {
	return parseIDParam(c, "org_id")
}

// parseTime accepts RFC3339 timestamps and plain dates.
func parseTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func parseOptionalTime(c *gin.Context, name string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	t, ok := parseTime(raw)
	if !ok {
		return nil, newValidationError(name, "invalid_"+name, "invalid timestamp")
	}
	return &t, nil
}

func parseRequiredTime(c *gin.Context, raw string, field string) (time.Time, error) {
	t, ok := parseTime(raw)
	if !ok {
		return time.Time{}, newValidationError(field, "invalid_"+field, "invalid timestamp")
	}
	return t, nil
}

func parseIntQuery(c *gin.Context, name string, def int) int {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return value
}

func parseOptionalID(raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return snowflake.ParseString(raw)
}
