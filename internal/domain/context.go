package domain

import "context"

type ctxKey string

const (
	conversationCtxKey ctxKey = "conversation_id"
	tenantCtxKey       ctxKey = "tenant_id"
)

// ContextWithConversationID returns a new context carrying the conversation ID.
func ContextWithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationCtxKey, conversationID)
}

// ConversationIDFromContext extracts the conversation ID from the context.
// Returns empty string if not set.
func ConversationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(conversationCtxKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithTenantID returns a new context carrying the tenant ID.
func ContextWithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantCtxKey, tenantID)
}

// TenantIDFromContext extracts the tenant ID from the context.
// Returns empty string if not set.
func TenantIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tenantCtxKey).(string); ok {
		return v
	}
	return ""
}
