package crews

import (
	"context"
	"fmt"
	"strings"

	"github.com/GiovanoMP/chatwootai-hub/internal/domain"
)

// Built-in handler kinds.
const (
	KindClassifier = "classifier"
	KindEnricher   = "enricher"
	KindResponder  = "responder"
	KindEscalator  = "escalator"
)

// classifier tags the message with an intent label. Intents are declared in
// the handler options as "intent=keyword1|keyword2" pairs; the first intent
// whose keyword appears in the message wins.
type classifier struct {
	name    string
	intents []intentRule
}

type intentRule struct {
	label    string
	keywords []string
}

func newClassifier(spec domain.HandlerSpec, _ map[string]string) (domain.Handler, error) {
	h := &classifier{name: spec.Name}
	for label, keywords := range spec.Options {
		rule := intentRule{label: label}
		for _, kw := range strings.Split(keywords, "|") {
			if kw = strings.TrimSpace(kw); kw != "" {
				rule.keywords = append(rule.keywords, strings.ToLower(kw))
			}
		}
		if len(rule.keywords) > 0 {
			h.intents = append(h.intents, rule)
		}
	}
	return h, nil
}

func (h *classifier) Kind() string { return KindClassifier }

func (h *classifier) Invoke(_ context.Context, _ *domain.ConversationContext, msg domain.InboundMessage) (domain.HandlerResult, error) {
	content := strings.ToLower(msg.Content)
	for _, rule := range h.intents {
		for _, kw := range rule.keywords {
			if strings.Contains(content, kw) {
				return domain.HandlerResult{Metadata: map[string]string{"intent": rule.label}}, nil
			}
		}
	}
	return domain.HandlerResult{Metadata: map[string]string{"intent": "general"}}, nil
}

// enricher stamps selected domain params onto the result metadata so later
// handlers and the transport layer see the business context.
type enricher struct {
	name   string
	fields map[string]string
}

func newEnricher(spec domain.HandlerSpec, params map[string]string) (domain.Handler, error) {
	h := &enricher{name: spec.Name, fields: make(map[string]string)}
	for key := range spec.Options {
		if v, ok := params[key]; ok {
			h.fields[key] = v
		}
	}
	return h, nil
}

func (h *enricher) Kind() string { return KindEnricher }

func (h *enricher) Invoke(_ context.Context, _ *domain.ConversationContext, _ domain.InboundMessage) (domain.HandlerResult, error) {
	md := make(map[string]string, len(h.fields))
	for k, v := range h.fields {
		md[k] = v
	}
	return domain.HandlerResult{Metadata: md}, nil
}

// responder produces the reply content. The "template" option may reference
// %s once for the inbound content; without a template a plain acknowledgment
// bound to the conversation's domain is produced.
type responder struct {
	name     string
	template string
}

func newResponder(spec domain.HandlerSpec, _ map[string]string) (domain.Handler, error) {
	return &responder{name: spec.Name, template: spec.Options["template"]}, nil
}

func (h *responder) Kind() string { return KindResponder }

func (h *responder) Invoke(_ context.Context, conv *domain.ConversationContext, msg domain.InboundMessage) (domain.HandlerResult, error) {
	if h.template != "" {
		if strings.Contains(h.template, "%s") {
			return domain.HandlerResult{Content: fmt.Sprintf(h.template, msg.Content)}, nil
		}
		return domain.HandlerResult{Content: h.template}, nil
	}
	return domain.HandlerResult{
		Content: fmt.Sprintf("[%s] received: %s", conv.Domain, msg.Content),
	}, nil
}

// escalator marks the conversation for human takeover when a trigger word
// appears in the message.
type escalator struct {
	name     string
	triggers []string
}

func newEscalator(spec domain.HandlerSpec, _ map[string]string) (domain.Handler, error) {
	h := &escalator{name: spec.Name}
	for _, t := range strings.Split(spec.Options["triggers"], "|") {
		if t = strings.TrimSpace(t); t != "" {
			h.triggers = append(h.triggers, strings.ToLower(t))
		}
	}
	return h, nil
}

func (h *escalator) Kind() string { return KindEscalator }

func (h *escalator) Invoke(_ context.Context, _ *domain.ConversationContext, msg domain.InboundMessage) (domain.HandlerResult, error) {
	content := strings.ToLower(msg.Content)
	for _, t := range h.triggers {
		if strings.Contains(content, t) {
			return domain.HandlerResult{Metadata: map[string]string{"escalate": "true"}}, nil
		}
	}
	return domain.HandlerResult{}, nil
}
