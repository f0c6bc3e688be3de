package llm

import (
	"context"
	"fmt"

	"github.com/vinayprograms/admitkit/ledger"
	"github.com/vinayprograms/admitkit/service"
)

// defaultResponseEstimate is the response allowance used by EstimateCost
// when a request does not cap its output.
const defaultResponseEstimate = 1024

// Executor adapts p into a service executor. The payload must be a
// ChatRequest or *ChatRequest and the result is a *ChatResponse. When l is
// non-nil every successful call is recorded under the request's label, the
// model that answered and the request's event.
func Executor(p Provider, l *ledger.Ledger) service.Executor {
	return func(ctx context.Context, payload any) (any, error) {
		var req ChatRequest
		switch v := payload.(type) {
		case ChatRequest:
			req = v
		case *ChatRequest:
			if v == nil {
				return nil, fmt.Errorf("llm executor: nil request")
			}
			req = *v
		default:
			return nil, fmt.Errorf("llm executor: unsupported payload %T", payload)
		}

		resp, err := p.Chat(ctx, req)
		if err != nil {
			return nil, err
		}

		if l != nil {
			l.Record(req.Label, resp.Model, req.Event, ledger.Usage{
				Requests:       1,
				PromptTokens:   int64(resp.InputTokens),
				ResponseTokens: int64(resp.OutputTokens),
			})
		}
		return resp, nil
	}
}

// EstimateCost approximates the token cost of req for admission: about
// four characters per prompt token plus the response allowance.
func EstimateCost(req ChatRequest) float64 {
	chars := 0
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	response := req.MaxTokens
	if response <= 0 {
		response = defaultResponseEstimate
	}
	return float64((chars+3)/4 + response)
}
