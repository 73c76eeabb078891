// Package auditctx carries request-scoped metadata (request id, client IP,
// user agent) from the HTTP layer to audit writers. Business identity (actor,
// org) is passed as explicit parameters, never through this package.
package auditctx

import "context"

type requestIDKey struct{}
type ipAddressKey struct{}
type userAgentKey struct{}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

func WithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipAddressKey{}, ip)
}

func IPAddressFromContext(ctx context.Context) string {
	value, _ := ctx.Value(ipAddressKey{}).(string)
	return value
}

func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

func UserAgentFromContext(ctx context.Context) string {
	value, _ := ctx.Value(userAgentKey{}).(string)
	return value
}

// RequestMeta bundles the request metadata recorded on audit rows.
type RequestMeta struct {
	RequestID string
	IPAddress string
	UserAgent string
}

// MetaFromContext collects all request metadata at once.
func MetaFromContext(ctx context.Context) RequestMeta {
	return RequestMeta{
		RequestID: RequestIDFromContext(ctx),
		IPAddress: IPAddressFromContext(ctx),
		UserAgent: UserAgentFromContext(ctx),
	}
}
