package metadata

import (
	"context"

	"github.com/GiovanoMP/chatwootai-hub/internal/adapter/cache"
	"github.com/GiovanoMP/chatwootai-hub/internal/domain"
)

// CachedProvider wraps a MetadataProvider with the tiered cache so repeated
// resolutions of the same routing key do not pay the upstream round trip,
// across every hub instance sharing tier 2.
type CachedProvider struct {
	inner domain.MetadataProvider
	hints *cache.Tiered[string]
}

// NewCachedProvider wraps inner with the given hint cache.
func NewCachedProvider(inner domain.MetadataProvider, hints *cache.Tiered[string]) *CachedProvider {
	return &CachedProvider{inner: inner, hints: hints}
}

func (c *CachedProvider) DomainHint(ctx context.Context, accountID, channelID string) (string, error) {
	key := "hint:" + accountID + ":" + channelID
	return c.hints.Get(ctx, key, func(ctx context.Context) (string, error) {
		return c.inner.DomainHint(ctx, accountID, channelID)
	})
}

// Invalidate drops the cached hint for a routing key, for configuration
// change notifications.
func (c *CachedProvider) Invalidate(ctx context.Context, accountID, channelID string) {
	c.hints.Invalidate(ctx, "hint:"+accountID+":"+channelID)
}
