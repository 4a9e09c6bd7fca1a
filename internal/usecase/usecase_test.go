package usecase

// Shared test doubles for the usecase package.

import (
	"context"
	"log/slog"
	"sync"

	"github.com/GiovanoMP/chatwootai-hub/internal/domain"
)

func testLogger() *slog.Logger { return slog.Default() }

// recordingBus records published events synchronously.
type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
}
func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *recordingBus) Close()                                                 {}

func (b *recordingBus) countOf(eventType domain.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// stubMetadata returns a fixed hint or error.
type stubMetadata struct {
	hint  string
	err   error
	calls int
	mu    sync.Mutex
}

func (m *stubMetadata) DomainHint(context.Context, string, string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.hint, m.err
}

// memCrewCache is a plain map CrewCache for factory tests.
type memCrewCache struct {
	mu    sync.Mutex
	crews map[string]*domain.Crew
}

func newMemCrewCache() *memCrewCache {
	return &memCrewCache{crews: make(map[string]*domain.Crew)}
}

func (c *memCrewCache) Peek(key string) (*domain.Crew, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	crew, ok := c.crews[key]
	return crew, ok
}

func (c *memCrewCache) Put(_ context.Context, key string, crew *domain.Crew) {
	c.mu.Lock()
	c.crews[key] = crew
	c.mu.Unlock()
}

func (c *memCrewCache) Invalidate(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.crews, key)
	c.mu.Unlock()
}

func (c *memCrewCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.crews)
}

// fakeConfigStore serves canned DomainConfigs and counts loads.
type fakeConfigStore struct {
	mu      sync.Mutex
	configs map[string]*domain.DomainConfig // keyed domain|tenant
	loadErr error
	verErr  error
	loads   int
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{configs: make(map[string]*domain.DomainConfig)}
}

func (s *fakeConfigStore) put(cfg *domain.DomainConfig) {
	s.mu.Lock()
	s.configs[cfg.Domain+"|"+cfg.Tenant] = cfg
	s.mu.Unlock()
}

func (s *fakeConfigStore) Load(_ context.Context, domainName, tenant string) (*domain.DomainConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	cfg, ok := s.configs[domainName+"|"+tenant]
	if !ok {
		return nil, domain.NewDomainError("fake.Load", domain.ErrDomainNotFound, domainName)
	}
	return cfg, nil
}

func (s *fakeConfigStore) Version(_ context.Context, domainName, tenant string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.verErr != nil {
		return 0, s.verErr
	}
	cfg, ok := s.configs[domainName+"|"+tenant]
	if !ok {
		return 0, domain.NewDomainError("fake.Version", domain.ErrDomainNotFound, domainName)
	}
	return cfg.Version, nil
}

func (s *fakeConfigStore) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

// echoHandler returns its configured reply.
type echoHandler struct{ reply string }

func (h echoHandler) Kind() string { return "echo" }
func (h echoHandler) Invoke(context.Context, *domain.ConversationContext, domain.InboundMessage) (domain.HandlerResult, error) {
	return domain.HandlerResult{Content: h.reply}, nil
}

// specBuilder builds echoHandlers from specs.
type specBuilder struct{}

func (specBuilder) Build(spec domain.HandlerSpec, _ map[string]string) (domain.Handler, error) {
	return echoHandler{reply: spec.Options["reply"]}, nil
}

// testDomainConfig returns a minimal valid config for factory tests.
func testDomainConfig(domainName, tenant string, version int64) *domain.DomainConfig {
	return &domain.DomainConfig{
		Domain:         domainName,
		Tenant:         tenant,
		Version:        version,
		DefaultCrewSet: "support",
		CrewSets: map[string]domain.CrewSetSpec{
			"support": {Handlers: []domain.HandlerSpec{
				{Kind: "echo", Name: "reply", Options: map[string]string{"reply": "ok"}},
			}},
		},
	}
}
