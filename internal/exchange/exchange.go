package exchange

import (
	"context"

	"github.com/arbiterhq/arbiter/internal/types"
)

// Exchange is the order venue capability. Implementations must treat the
// request's idempotency key as the submission identity: replaying a key must
// not create a second order.
type Exchange interface {
	// PlaceOrder submits an order and returns the venue acknowledgment.
	// Outcomes map to error codes: a refusal is ErrCodeOrderRejected, a
	// timeout is ErrCodeExchangeTimeout, transport failures are
	// ErrCodeExchangeUnavailable.
	PlaceOrder(ctx context.Context, request types.OrderRequest) (types.OrderAck, error)

	// StreamFills returns the channel of fill events for orders placed
	// through this exchange. Delivery is at-least-once; consumers
	// deduplicate by FillID. The channel closes when ctx is cancelled.
	StreamFills(ctx context.Context) (<-chan types.FillEvent, error)
}
