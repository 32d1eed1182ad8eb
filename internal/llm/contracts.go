package llm

import (
	"context"

	"github.com/pantrybot/receipt-pipeline/internal/entity"
)

// ProductExtractor is the interface the pipeline depends on.
type ProductExtractor interface {
	ExtractProducts(ctx context.Context, receiptText string) ([]entity.ProductEntry, error)
}

// ChatClient is a minimal model-serving client. Health must be cheap; it is
// called before every extraction attempt so an unreachable backend fails
// fast instead of burning the full request timeout.
type ChatClient interface {
	Chat(ctx context.Context, prompt string) (string, error)
	Health(ctx context.Context) error
}
