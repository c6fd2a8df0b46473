package authz

import "context"

// ClientInfo is transport-level request metadata attached to audit events.
// The core never interprets it; it travels on the context so services do not
// need to thread it through every call.
type ClientInfo struct {
	IP        string
	UserAgent string
}

type clientInfoKey struct{}

// ContextWithClientInfo attaches client metadata for audit enrichment.
func ContextWithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, info)
}

// ClientInfoFromContext returns the attached metadata, zero if absent.
func ClientInfoFromContext(ctx context.Context) ClientInfo {
	info, _ := ctx.Value(clientInfoKey{}).(ClientInfo)
	return info
}
