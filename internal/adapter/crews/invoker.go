package crews

import (
	"context"

	"github.com/GiovanoMP/chatwootai-hub/internal/domain"
)

// PipelineInvoker runs a crew's handlers in declaration order. Metadata
// accumulates across handlers; the last non-empty content wins. The first
// handler error aborts the pipeline.
type PipelineInvoker struct{}

// NewPipelineInvoker creates the default crew invoker.
func NewPipelineInvoker() *PipelineInvoker { return &PipelineInvoker{} }

func (p *PipelineInvoker) Invoke(ctx context.Context, crew *domain.Crew, conv *domain.ConversationContext, msg domain.InboundMessage) (domain.HandlerResult, error) {
	out := domain.HandlerResult{Metadata: make(map[string]string)}
	for _, h := range crew.Handlers {
		if err := ctx.Err(); err != nil {
			return domain.HandlerResult{}, domain.NewDomainError("PipelineInvoker.Invoke", domain.ErrDispatchTimeout, err.Error())
		}
		res, err := h.Invoke(ctx, conv, msg)
		if err != nil {
			return domain.HandlerResult{}, domain.WrapOp("handler "+h.Kind(), err)
		}
		if res.Content != "" {
			out.Content = res.Content
		}
		for k, v := range res.Metadata {
			out.Metadata[k] = v
		}
	}
	return out, nil
}
