// Package order owns order creation and the immutable record plus terminal
// status of every order ever posted.
package order

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/etherdesk/etherdesk/pkg/exchange/asset"
	"github.com/etherdesk/etherdesk/pkg/storage"
	"github.com/etherdesk/etherdesk/pkg/util"
)

var (
	// ErrOrderNotFound flags an id that was never created.
	ErrOrderNotFound = errors.New("order not found")

	// ErrUnauthorized flags a non-creator attempting to cancel.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrOrderAlreadyFilled flags a mutation on a filled order.
	ErrOrderAlreadyFilled = errors.New("order already filled")

	// ErrOrderAlreadyCancelled flags a mutation on a cancelled order.
	ErrOrderAlreadyCancelled = errors.New("order already cancelled")

	// ErrInvalidAmount flags a nil or non-positive order amount.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Order is a standing offer: the creator receives AmountGet of AssetGet in
// exchange for AmountGive of AssetGive. Core fields are immutable once
// created; Filled and Cancelled are each settable exactly once and terminal.
type Order struct {
	ID         uint64
	Creator    common.Address
	AssetGet   asset.Asset
	AmountGet  *big.Int
	AssetGive  asset.Asset
	AmountGive *big.Int
	Timestamp  int64 // Unix milliseconds at creation

	Filled    bool
	Cancelled bool
}

// Terminal reports whether the order can no longer transition.
func (o *Order) Terminal() bool {
	return o.Filled || o.Cancelled
}

// terminalErr maps a terminal order to its rejection kind.
func (o *Order) terminalErr() error {
	if o.Filled {
		return ErrOrderAlreadyFilled
	}
	if o.Cancelled {
		return ErrOrderAlreadyCancelled
	}
	return nil
}

// Registry assigns sequential 1-based ids and stores every order for the
// lifetime of the process, write-through persisted.
type Registry struct {
	mu     sync.RWMutex
	orders map[uint64]*Order
	count  uint64 // also the id of the most recently created order
	store  storage.Store
	clock  util.Clock
}

// NewRegistry creates a registry and reloads persisted orders and the
// counter from the store.
func NewRegistry(store storage.Store, clock util.Clock) (*Registry, error) {
	r := &Registry{
		orders: make(map[uint64]*Order),
		store:  store,
		clock:  clock,
	}

	recs, err := store.LoadOrders()
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	for _, rec := range recs {
		r.orders[rec.ID] = &Order{
			ID:         rec.ID,
			Creator:    rec.Creator,
			AssetGet:   rec.AssetGet,
			AmountGet:  rec.AmountGet,
			AssetGive:  rec.AssetGive,
			AmountGive: rec.AmountGive,
			Timestamp:  rec.Timestamp,
			Filled:     rec.Filled,
			Cancelled:  rec.Cancelled,
		}
	}

	r.count, err = store.LoadOrderCount()
	if err != nil {
		return nil, fmt.Errorf("failed to load order count: %w", err)
	}
	return r, nil
}

// Create posts a new order. Amounts must be positive; beyond that it never
// checks balances: an order may be posted unbacked, and insufficiency only
// surfaces at fill time through the ledger.
func (r *Registry) Create(creator common.Address, assetGet asset.Asset, amountGet *big.Int, assetGive asset.Asset, amountGive *big.Int) (Order, error) {
	if err := checkAmount(amountGet); err != nil {
		return Order{}, fmt.Errorf("amountGet: %w", err)
	}
	if err := checkAmount(amountGive); err != nil {
		return Order{}, fmt.Errorf("amountGive: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.count++
	o := &Order{
		ID:         r.count,
		Creator:    creator,
		AssetGet:   assetGet,
		AmountGet:  new(big.Int).Set(amountGet),
		AssetGive:  assetGive,
		AmountGive: new(big.Int).Set(amountGive),
		Timestamp:  r.clock.Now().UnixMilli(),
	}
	r.orders[o.ID] = o

	if err := r.persist(o); err != nil {
		return Order{}, err
	}
	if err := r.store.SaveOrderCount(r.count); err != nil {
		return Order{}, fmt.Errorf("failed to persist order count: %w", err)
	}
	return *o, nil
}

// Cancel marks an open order cancelled. Only the creator may cancel, and a
// terminal order rejects the attempt.
func (r *Registry) Cancel(caller common.Address, id uint64) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, exists := r.orders[id]
	if !exists {
		return Order{}, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	if caller != o.Creator {
		return Order{}, fmt.Errorf("%w: %s is not the creator of order %d", ErrUnauthorized, caller.Hex(), id)
	}
	if err := o.terminalErr(); err != nil {
		return Order{}, fmt.Errorf("%w: id %d", err, id)
	}

	o.Cancelled = true
	if err := r.persist(o); err != nil {
		return Order{}, err
	}
	return *o, nil
}

// MarkFilled flips an open order to filled. Used by the settlement executor
// after the balance moves commit; terminal orders reject the attempt.
func (r *Registry) MarkFilled(id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, exists := r.orders[id]
	if !exists {
		return fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	if err := o.terminalErr(); err != nil {
		return fmt.Errorf("%w: id %d", err, id)
	}

	o.Filled = true
	return r.persist(o)
}

// Get returns a copy of the order record.
func (r *Registry) Get(id uint64) (Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, exists := r.orders[id]
	if !exists {
		return Order{}, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	return *o, nil
}

// Count returns the number of orders ever created.
func (r *Registry) Count() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Filled reports the filled flag; false for unknown ids to keep reads total.
func (r *Registry) Filled(id uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, exists := r.orders[id]
	return exists && o.Filled
}

// Cancelled reports the cancelled flag; false for unknown ids.
func (r *Registry) Cancelled(id uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, exists := r.orders[id]
	return exists && o.Cancelled
}

// Now reads the registry clock. The settlement executor stamps Trade events
// with the same clock that stamps order creation.
func (r *Registry) Now() int64 {
	return r.clock.Now().UnixMilli()
}

// persist assumes r.mu is held.
func (r *Registry) persist(o *Order) error {
	rec := storage.OrderRecord{
		ID:         o.ID,
		Creator:    o.Creator,
		AssetGet:   o.AssetGet,
		AmountGet:  o.AmountGet,
		AssetGive:  o.AssetGive,
		AmountGive: o.AmountGive,
		Timestamp:  o.Timestamp,
		Filled:     o.Filled,
		Cancelled:  o.Cancelled,
	}
	if err := r.store.SaveOrder(rec); err != nil {
		return fmt.Errorf("failed to persist order %d: %w", o.ID, err)
	}
	return nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	return nil
}
