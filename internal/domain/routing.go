package domain

import "context"

// RoutingKey is the minimal set of transport identifiers used to look up a
// tenant/domain mapping. It carries no lifecycle of its own.
type RoutingKey struct {
	AccountID  string `json:"account_id"`
	ChannelID  string `json:"channel_id"`
	DomainHint string `json:"domain_hint,omitempty"`
}

// ResolutionSource records which precedence step produced a resolution.
type ResolutionSource string

const (
	SourceAccount  ResolutionSource = "account"
	SourceChannel  ResolutionSource = "channel"
	SourceMetadata ResolutionSource = "metadata"
	SourceFallback ResolutionSource = "fallback"
)

// Resolution is the result of mapping a RoutingKey to a tenant and domain.
type Resolution struct {
	TenantID string           `json:"tenant_id"`
	Domain   string           `json:"domain"`
	Source   ResolutionSource `json:"source"`
}

// MetadataProvider queries the messaging hub for a channel-declared domain
// hint. Implementations must treat upstream errors as "no hint available";
// the resolver never fails because the provider is down.
type MetadataProvider interface {
	DomainHint(ctx context.Context, accountID, channelID string) (string, error)
}
