package crews

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GiovanoMP/chatwootai-hub/internal/domain"
)

func testConversation(t *testing.T, domainName string) *domain.ConversationContext {
	t.Helper()
	return domain.NewConversationContext("c1", "acct_42", domainName)
}

func testMessage(content string) domain.InboundMessage {
	return domain.InboundMessage{
		SourceAccountID: "acct_42",
		ConversationID:  "c1",
		Content:         content,
		Timestamp:       time.Now(),
	}
}

func TestRegistryRejectsDuplicateKind(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("custom", newResponder); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("custom", newResponder); err == nil {
		t.Fatal("duplicate registration must fail")
	}
}

func TestRegistryUnknownKindIsConfigError(t *testing.T) {
	r := DefaultRegistry()
	_, err := r.Build(domain.HandlerSpec{Kind: "llm", Name: "x"}, nil)
	if !errors.Is(err, domain.ErrMalformedConfig) {
		t.Fatalf("err = %v, want ErrMalformedConfig", err)
	}
}

func TestDefaultRegistryKinds(t *testing.T) {
	got := DefaultRegistry().Kinds()
	want := []string{KindClassifier, KindEnricher, KindEscalator, KindResponder}
	if len(got) != len(want) {
		t.Fatalf("kinds = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("kinds[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestClassifierMatchesKeyword(t *testing.T) {
	h, err := newClassifier(domain.HandlerSpec{
		Kind: KindClassifier, Name: "intent",
		Options: map[string]string{"pricing": "preço|quanto custa"},
	}, nil)
	if err != nil {
		t.Fatalf("newClassifier: %v", err)
	}

	res, err := h.Invoke(context.Background(), nil, testMessage("Quanto custa o batom?"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Metadata["intent"] != "pricing" {
		t.Errorf("intent = %q, want pricing", res.Metadata["intent"])
	}

	res, _ = h.Invoke(context.Background(), nil, testMessage("oi"))
	if res.Metadata["intent"] != "general" {
		t.Errorf("unmatched message intent = %q, want general", res.Metadata["intent"])
	}
}

func TestEnricherStampsDomainParams(t *testing.T) {
	h, err := newEnricher(domain.HandlerSpec{
		Kind: KindEnricher, Name: "ctx",
		Options: map[string]string{"store_name": "", "missing": ""},
	}, map[string]string{"store_name": "Beleza Pura"})
	if err != nil {
		t.Fatalf("newEnricher: %v", err)
	}

	res, err := h.Invoke(context.Background(), nil, testMessage("oi"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Metadata["store_name"] != "Beleza Pura" {
		t.Errorf("metadata = %v", res.Metadata)
	}
	if _, ok := res.Metadata["missing"]; ok {
		t.Error("param absent from the domain must not be stamped")
	}
}

func TestResponderTemplate(t *testing.T) {
	conv := testConversation(t, "cosmetics")

	h, _ := newResponder(domain.HandlerSpec{
		Kind: KindResponder, Name: "reply",
		Options: map[string]string{"template": "loja: %s"},
	}, nil)
	res, err := h.Invoke(context.Background(), conv, testMessage("oi"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Content != "loja: oi" {
		t.Errorf("content = %q", res.Content)
	}

	plain, _ := newResponder(domain.HandlerSpec{Kind: KindResponder, Name: "reply"}, nil)
	res, _ = plain.Invoke(context.Background(), conv, testMessage("oi"))
	if res.Content != "[cosmetics] received: oi" {
		t.Errorf("default content = %q", res.Content)
	}
}

func TestEscalatorTrigger(t *testing.T) {
	h, _ := newEscalator(domain.HandlerSpec{
		Kind: KindEscalator, Name: "human",
		Options: map[string]string{"triggers": "atendente|reclamação"},
	}, nil)

	res, err := h.Invoke(context.Background(), nil, testMessage("Quero falar com um ATENDENTE"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Metadata["escalate"] != "true" {
		t.Errorf("metadata = %v, want escalate", res.Metadata)
	}

	res, _ = h.Invoke(context.Background(), nil, testMessage("oi"))
	if len(res.Metadata) != 0 {
		t.Errorf("non-trigger message escalated: %v", res.Metadata)
	}
}

func buildTestCrew(t *testing.T, specs []domain.HandlerSpec, params map[string]string) *domain.Crew {
	t.Helper()
	reg := DefaultRegistry()
	handlers := make([]domain.Handler, 0, len(specs))
	for _, spec := range specs {
		h, err := reg.Build(spec, params)
		if err != nil {
			t.Fatalf("Build(%s): %v", spec.Kind, err)
		}
		handlers = append(handlers, h)
	}
	return &domain.Crew{SetID: "support", Domain: "cosmetics", Tenant: "acct_42", Handlers: handlers}
}

func TestPipelineAccumulatesMetadataLastContentWins(t *testing.T) {
	crew := buildTestCrew(t, []domain.HandlerSpec{
		{Kind: KindClassifier, Name: "intent", Options: map[string]string{"pricing": "preço"}},
		{Kind: KindEscalator, Name: "human", Options: map[string]string{"triggers": "atendente"}},
		{Kind: KindResponder, Name: "reply", Options: map[string]string{"template": "ok: %s"}},
	}, nil)
	conv := testConversation(t, "cosmetics")

	res, err := NewPipelineInvoker().Invoke(context.Background(), crew, conv, testMessage("qual o preço? chama um atendente"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Content != "ok: qual o preço? chama um atendente" {
		t.Errorf("content = %q", res.Content)
	}
	if res.Metadata["intent"] != "pricing" || res.Metadata["escalate"] != "true" {
		t.Errorf("metadata = %v", res.Metadata)
	}
}

func TestPipelineAbortsOnCancelledContext(t *testing.T) {
	crew := buildTestCrew(t, []domain.HandlerSpec{
		{Kind: KindResponder, Name: "reply"},
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPipelineInvoker().Invoke(ctx, crew, testConversation(t, "cosmetics"), testMessage("oi"))
	if !errors.Is(err, domain.ErrDispatchTimeout) {
		t.Fatalf("err = %v, want ErrDispatchTimeout", err)
	}
}

type failingHandler struct{}

func (failingHandler) Kind() string { return "failing" }

func (failingHandler) Invoke(context.Context, *domain.ConversationContext, domain.InboundMessage) (domain.HandlerResult, error) {
	return domain.HandlerResult{}, errors.New("downstream unavailable")
}

func TestPipelineStopsAtFirstHandlerError(t *testing.T) {
	conv := testConversation(t, "cosmetics")
	responder, _ := newResponder(domain.HandlerSpec{Kind: KindResponder, Name: "reply"}, nil)
	crew := &domain.Crew{
		SetID: "support", Domain: "cosmetics",
		Handlers: []domain.Handler{failingHandler{}, responder},
	}

	res, err := NewPipelineInvoker().Invoke(context.Background(), crew, conv, testMessage("oi"))
	if err == nil {
		t.Fatal("expected the handler error to propagate")
	}
	if res.Content != "" {
		t.Errorf("partial result leaked: %q", res.Content)
	}
}
