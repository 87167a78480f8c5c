package sale

import (
	"context"

	"github.com/atmx/lootbox-sale/internal/model"
)

// Acceptance signals returned to multi-token transfer protocols. They are the
// selectors of the single and batch receive hooks.
const (
	SingleReceivedSignal uint32 = 0xf23a6e61
	BatchReceivedSignal  uint32 = 0xbc197c81
)

// ItemTransfer describes an incoming collectible transfer.
type ItemTransfer struct {
	Operator model.Address `json:"operator"`
	From     model.Address `json:"from"`
	ItemID   uint64        `json:"item_id"`
	Amount   uint64        `json:"amount"`
	Data     []byte        `json:"data,omitempty"`
}

// OnItemReceived acknowledges a single incoming transfer. Any caller.
func (s *Service) OnItemReceived(ctx context.Context, t ItemTransfer) uint32 {
	s.log.InfoContext(ctx, "item received",
		"operator", t.Operator,
		"from", t.From,
		"item", t.ItemID,
		"amount", t.Amount,
	)
	return SingleReceivedSignal
}

// OnBatchReceived acknowledges a batch of incoming transfers. Any caller.
func (s *Service) OnBatchReceived(ctx context.Context, ts []ItemTransfer) uint32 {
	s.log.InfoContext(ctx, "item batch received", "transfers", len(ts))
	return BatchReceivedSignal
}
