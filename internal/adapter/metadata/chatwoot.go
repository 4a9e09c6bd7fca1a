// Package metadata queries the messaging hub for channel-declared domain
// hints. All failures here degrade to "no hint"; the resolver's precedence
// chain moves on to the fallback step instead of failing the message.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Default circuit breaker settings.
const (
	defaultMaxFailures uint32        = 5
	defaultOpenTimeout time.Duration = 30 * time.Second
	defaultInterval    time.Duration = 60 * time.Second
)

// ChatwootProvider fetches inbox metadata from the Chatwoot API and extracts
// the business-domain hint from the inbox custom attributes. Calls go
// through a circuit breaker so a flapping upstream cannot slow every
// resolution down to its timeout.
type ChatwootProvider struct {
	baseURL     string
	accessToken string
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[string]
	logger      *slog.Logger
}

// inboxResponse is the subset of the Chatwoot inbox payload we consume.
type inboxResponse struct {
	ID               int               `json:"id"`
	Name             string            `json:"name"`
	CustomAttributes map[string]string `json:"custom_attributes"`
}

// customAttrDomainKey is the inbox custom attribute carrying the domain hint.
const customAttrDomainKey = "business_domain"

// NewChatwootProvider creates a provider for the given Chatwoot base URL.
func NewChatwootProvider(baseURL, accessToken string, timeout time.Duration, logger *slog.Logger) *ChatwootProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "metadata:chatwoot",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    defaultInterval,
		Timeout:     defaultOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return &ChatwootProvider{
		baseURL:     baseURL,
		accessToken: accessToken,
		client:      &http.Client{Timeout: timeout},
		breaker:     cb,
		logger:      logger,
	}
}

// DomainHint returns the domain declared on the channel's inbox, or empty
// string when none is declared. Provider errors are returned for logging
// but callers must treat them as "no hint", never as fatal.
func (p *ChatwootProvider) DomainHint(ctx context.Context, accountID, channelID string) (string, error) {
	hint, err := p.breaker.Execute(func() (string, error) {
		return p.fetchHint(ctx, accountID, channelID)
	})
	if err != nil {
		return "", fmt.Errorf("metadata hint: %w", err)
	}
	return hint, nil
}

func (p *ChatwootProvider) fetchHint(ctx context.Context, accountID, channelID string) (string, error) {
	url := fmt.Sprintf("%s/api/v1/accounts/%s/inboxes/%s", p.baseURL, accountID, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("api_access_token", p.accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("inbox lookup: status %d", resp.StatusCode)
	}

	var inbox inboxResponse
	if err := json.NewDecoder(resp.Body).Decode(&inbox); err != nil {
		return "", fmt.Errorf("decode inbox: %w", err)
	}
	return inbox.CustomAttributes[customAttrDomainKey], nil
}
