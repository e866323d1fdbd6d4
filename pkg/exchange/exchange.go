// Package exchange assembles the ledger, the order registry and the
// settlement executor behind a single-writer façade. Every state-mutating
// call is serialized into one global total order; events are announced under
// the same lock, so observers see mutations and events in the same order.
package exchange

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/etherdesk/etherdesk/pkg/exchange/asset"
	"github.com/etherdesk/etherdesk/pkg/exchange/events"
	"github.com/etherdesk/etherdesk/pkg/exchange/ledger"
	"github.com/etherdesk/etherdesk/pkg/exchange/order"
	"github.com/etherdesk/etherdesk/pkg/exchange/settlement"
	"github.com/etherdesk/etherdesk/pkg/exchange/token"
	"github.com/etherdesk/etherdesk/pkg/storage"
	"github.com/etherdesk/etherdesk/pkg/util"
)

// Config fixes the operator account and fee percent at construction;
// immutable thereafter. Custody is the identity token contracts see as the
// exchange when value is pulled in.
type Config struct {
	FeeAccount common.Address
	FeePercent uint64 // e.g. 10 means 10%
	Custody    common.Address
}

// Exchange is the caller-facing core. There is exactly one writer at a time:
// each mutating operation runs start to finish under the exchange lock, so
// the debit-then-fail-aborts-everything semantics of settlement hold with no
// observable intermediate state.
type Exchange struct {
	mu       sync.Mutex
	cfg      Config
	ledger   *ledger.Ledger
	orders   *order.Registry
	executor *settlement.Executor
	feed     *events.Feed
	log      *zap.SugaredLogger
}

// New wires the core against a store, the token registry and a clock,
// reloading any persisted state.
func New(cfg Config, store storage.Store, tokens *token.Registry, clock util.Clock, feed *events.Feed, log *zap.SugaredLogger) (*Exchange, error) {
	l, err := ledger.New(store, tokens, cfg.Custody)
	if err != nil {
		return nil, err
	}
	r, err := order.NewRegistry(store, clock)
	if err != nil {
		return nil, err
	}

	return &Exchange{
		cfg:      cfg,
		ledger:   l,
		orders:   r,
		executor: settlement.NewExecutor(l, r, cfg.FeeAccount, cfg.FeePercent),
		feed:     feed,
		log:      log,
	}, nil
}

// DepositNative credits owner with attached native value. The transport layer
// guarantees amount equals the value actually received; there is no implicit
// deposit path anywhere else.
func (e *Exchange) DepositNative(owner common.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	balance, err := e.ledger.DepositNative(owner, amount)
	if err != nil {
		return err
	}

	e.log.Infow("deposit", "asset", asset.Native.String(), "user", owner.Hex(), "amount", amount.String())
	e.feed.Publish(events.Deposit{Asset: asset.Native, User: owner, Amount: amount, Balance: balance})
	return nil
}

// DepositToken pulls amount of the token from owner's external holdings and
// credits the ledger. Requires prior external authorization to the custody
// account.
func (e *Exchange) DepositToken(tok asset.Asset, owner common.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	balance, err := e.ledger.DepositToken(tok, owner, amount)
	if err != nil {
		return err
	}

	e.log.Infow("deposit", "asset", tok.String(), "user", owner.Hex(), "amount", amount.String())
	e.feed.Publish(events.Deposit{Asset: tok, User: owner, Amount: amount, Balance: balance})
	return nil
}

// Withdraw debits owner and releases the asset back out of custody.
func (e *Exchange) Withdraw(a asset.Asset, owner common.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	balance, err := e.ledger.Withdraw(a, owner, amount)
	if err != nil {
		return err
	}

	e.log.Infow("withdraw", "asset", a.String(), "user", owner.Hex(), "amount", amount.String())
	e.feed.Publish(events.Withdraw{Asset: a, User: owner, Amount: amount, Balance: balance})
	return nil
}

// CreateOrder posts a new order and announces it. No balance check happens
// here; an unbacked order is postable and only fails at fill time.
func (e *Exchange) CreateOrder(creator common.Address, assetGet asset.Asset, amountGet *big.Int, assetGive asset.Asset, amountGive *big.Int) (order.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.orders.Create(creator, assetGet, amountGet, assetGive, amountGive)
	if err != nil {
		return order.Order{}, err
	}

	e.log.Infow("order_posted", "id", o.ID, "creator", creator.Hex(),
		"assetGet", assetGet.String(), "amountGet", amountGet.String(),
		"assetGive", assetGive.String(), "amountGive", amountGive.String())
	e.feed.Publish(events.Order{
		ID: o.ID, User: o.Creator,
		AssetGet: o.AssetGet, AmountGet: o.AmountGet,
		AssetGive: o.AssetGive, AmountGive: o.AmountGive,
		Timestamp: o.Timestamp,
	})
	return o, nil
}

// CancelOrder marks the caller's own open order cancelled.
func (e *Exchange) CancelOrder(caller common.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.orders.Cancel(caller, id)
	if err != nil {
		return err
	}

	e.log.Infow("order_cancelled", "id", id, "caller", caller.Hex())
	e.feed.Publish(events.Cancel{
		ID: o.ID, User: o.Creator,
		AssetGet: o.AssetGet, AmountGet: o.AmountGet,
		AssetGive: o.AssetGive, AmountGive: o.AmountGive,
		Timestamp: e.orders.Now(),
	})
	return nil
}

// FillOrder settles the named order against the caller.
func (e *Exchange) FillOrder(caller common.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	trade, err := e.executor.Fill(caller, id)
	if err != nil {
		return err
	}

	o := trade.Order
	e.log.Infow("trade", "id", o.ID, "creator", o.Creator.Hex(), "filler", caller.Hex(),
		"fee", trade.Fee.String())
	e.feed.Publish(events.Trade{
		ID: o.ID, User: o.Creator,
		AssetGet: o.AssetGet, AmountGet: o.AmountGet,
		AssetGive: o.AssetGive, AmountGive: o.AmountGive,
		UserFill: caller, Timestamp: trade.Timestamp,
	})
	return nil
}

// BalanceOf returns the current (asset, owner) balance; zero if absent.
func (e *Exchange) BalanceOf(a asset.Asset, owner common.Address) *big.Int {
	return e.ledger.BalanceOf(a, owner)
}

// OrderCount returns the number of orders ever created.
func (e *Exchange) OrderCount() uint64 {
	return e.orders.Count()
}

// Order returns the full order record by id.
func (e *Exchange) Order(id uint64) (order.Order, error) {
	return e.orders.Get(id)
}

// OrderFilled reports the filled flag; false for unknown ids.
func (e *Exchange) OrderFilled(id uint64) bool {
	return e.orders.Filled(id)
}

// OrderCancelled reports the cancelled flag; false for unknown ids.
func (e *Exchange) OrderCancelled(id uint64) bool {
	return e.orders.Cancelled(id)
}

// FeeAccount returns the configured operator account.
func (e *Exchange) FeeAccount() common.Address {
	return e.cfg.FeeAccount
}

// FeePercent returns the configured fee percent.
func (e *Exchange) FeePercent() uint64 {
	return e.cfg.FeePercent
}
