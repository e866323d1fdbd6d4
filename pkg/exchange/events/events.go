// Package events defines the observable event stream the exchange announces:
// Deposit, Withdraw, Order, Cancel and Trade, each carrying full context for
// off-core indexing. Events are published in the global mutation order.
package events

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/etherdesk/etherdesk/pkg/exchange/asset"
)

// Event is one announced occurrence. Concrete types below.
type Event interface {
	EventType() string
}

// Deposit is announced after a native or token deposit credits the ledger.
type Deposit struct {
	Asset   asset.Asset    `json:"token"`
	User    common.Address `json:"user"`
	Amount  *big.Int       `json:"amount"`
	Balance *big.Int       `json:"balance"` // new balance after the credit
}

func (Deposit) EventType() string { return "Deposit" }

// Withdraw is announced after a withdrawal debits the ledger.
type Withdraw struct {
	Asset   asset.Asset    `json:"token"`
	User    common.Address `json:"user"`
	Amount  *big.Int       `json:"amount"`
	Balance *big.Int       `json:"balance"` // new balance after the debit
}

func (Withdraw) EventType() string { return "Withdraw" }

// Order is announced when a new order is posted.
type Order struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	AssetGet   asset.Asset    `json:"tokenGet"`
	AmountGet  *big.Int       `json:"amountGet"`
	AssetGive  asset.Asset    `json:"tokenGive"`
	AmountGive *big.Int       `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"`
}

func (Order) EventType() string { return "Order" }

// Cancel is announced when the creator cancels an order. It carries the full
// original order fields plus the cancellation time.
type Cancel struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	AssetGet   asset.Asset    `json:"tokenGet"`
	AmountGet  *big.Int       `json:"amountGet"`
	AssetGive  asset.Asset    `json:"tokenGive"`
	AmountGive *big.Int       `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"`
}

func (Cancel) EventType() string { return "Cancel" }

// Trade is announced when a fill settles.
type Trade struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"` // order creator
	AssetGet   asset.Asset    `json:"tokenGet"`
	AmountGet  *big.Int       `json:"amountGet"`
	AssetGive  asset.Asset    `json:"tokenGive"`
	AmountGive *big.Int       `json:"amountGive"`
	UserFill   common.Address `json:"userFill"` // filling caller
	Timestamp  int64          `json:"timestamp"`
}

func (Trade) EventType() string { return "Trade" }

// Envelope is the wire form shared by all sinks.
type Envelope struct {
	Type string `json:"type"`
	Data Event  `json:"data"`
}

// Wrap builds the wire envelope for an event.
func Wrap(e Event) Envelope {
	return Envelope{Type: e.EventType(), Data: e}
}

// Sink consumes published events. Sinks must not block the publisher; slow
// consumers buffer or drop internally.
type Sink interface {
	Publish(e Event)
}

// Feed fans events out to attached sinks, sequentially per event, so every
// sink observes the same total order the exchange committed.
type Feed struct {
	mu    sync.RWMutex
	sinks []Sink
}

func NewFeed() *Feed {
	return &Feed{}
}

// Attach subscribes a sink to all subsequent events.
func (f *Feed) Attach(s Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

// Publish delivers e to every attached sink in attachment order.
func (f *Feed) Publish(e Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.sinks {
		s.Publish(e)
	}
}
