package trading

import (
	"context"
	"encoding/json"

	"delta-core/pkg/delta"
)

// Credentials identify one exchange account for the duration of a single
// call. They are never stored; every operation receives its own copy.
type Credentials struct {
	APIKey    string
	APISecret string
	BaseURL   string
}

// Gateway is the exchange surface the order workflow depends on.
// *delta.Client satisfies it; tests substitute a scripted fake.
type Gateway interface {
	CreateOrder(ctx context.Context, req delta.OrderRequest) (*delta.Order, error)
	GetPosition(ctx context.Context, productID int) (*delta.Position, error)
	CreateBracketOrder(ctx context.Context, req delta.BracketOrderRequest) (json.RawMessage, error)
	CancelAllOrders(ctx context.Context, productID int) error
}

// NewDeltaGateway builds a Gateway from per-request credentials.
func NewDeltaGateway(creds Credentials) Gateway {
	return delta.NewClient(creds.BaseURL, creds.APIKey, creds.APISecret)
}
