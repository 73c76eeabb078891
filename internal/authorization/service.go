// Package authorization enforces the organization boundary for every
// tenant-scoped operation. Every actor acts within exactly one
// organization domain; cross-tenant requests are rejected before any
// row is touched.
package authorization

import (
	"context"
	"errors"
)

// Service answers "may this actor perform this action on this object
// within this organization".
type Service interface {
	Authorize(ctx context.Context, actor string, orgID string, object string, action string) error
}

var (
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidObject       = errors.New("invalid_object")
	ErrInvalidAction       = errors.New("invalid_action")
	ErrForbidden           = errors.New("forbidden")
)
