// Package settlement validates and executes fills against the ledger and the
// order registry. The executor owns no state of its own; the operator account
// and fee percent are fixed at construction.
package settlement

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/etherdesk/etherdesk/pkg/exchange/ledger"
	"github.com/etherdesk/etherdesk/pkg/exchange/order"
)

// Executor settles fills: it moves value between ledger entries, routes the
// fee to the operator account and flips the order to filled.
type Executor struct {
	ledger     *ledger.Ledger
	orders     *order.Registry
	operator   common.Address
	feePercent uint64
}

// Trade describes a completed fill for event consumers.
type Trade struct {
	Order     order.Order
	Caller    common.Address
	Fee       *big.Int
	Timestamp int64 // Unix milliseconds
}

func NewExecutor(l *ledger.Ledger, r *order.Registry, operator common.Address, feePercent uint64) *Executor {
	return &Executor{ledger: l, orders: r, operator: operator, feePercent: feePercent}
}

// Operator returns the configured fee account.
func (e *Executor) Operator() common.Address { return e.operator }

// FeePercent returns the configured fee percent.
func (e *Executor) FeePercent() uint64 { return e.feePercent }

// Fee computes the taker fee on an acquisition amount: amountGet × feePercent
// / 100, truncating.
func (e *Executor) Fee(amountGet *big.Int) *big.Int {
	fee := new(big.Int).Mul(amountGet, new(big.Int).SetUint64(e.feePercent))
	return fee.Div(fee, big.NewInt(100))
}

// Fill settles order id against caller. The caller pays AmountGet plus the
// fee in AssetGet and receives AmountGive in AssetGive; the creator takes the
// other side; the operator takes the fee. All balance moves and the status
// flip are one unit: the first failing debit aborts everything and the order
// stays open.
func (e *Executor) Fill(caller common.Address, id uint64) (Trade, error) {
	o, err := e.orders.Get(id)
	if err != nil {
		return Trade{}, err
	}
	if o.Filled {
		return Trade{}, fmt.Errorf("%w: id %d", order.ErrOrderAlreadyFilled, id)
	}
	if o.Cancelled {
		return Trade{}, fmt.Errorf("%w: id %d", order.ErrOrderAlreadyCancelled, id)
	}

	fee := e.Fee(o.AmountGet)
	cost := new(big.Int).Add(o.AmountGet, fee)

	err = e.ledger.Transact(func(tx *ledger.Tx) error {
		// Caller pays the acquisition amount plus the fee in the asset the
		// creator wants to receive.
		if err := tx.Debit(o.AssetGet, caller, cost); err != nil {
			return fmt.Errorf("filling caller: %w", err)
		}
		tx.Credit(o.AssetGet, o.Creator, o.AmountGet)
		tx.Credit(o.AssetGet, e.operator, fee)

		// The creator's side is only checked now, at fill time: an unbacked
		// order fails here and stays open.
		if err := tx.Debit(o.AssetGive, o.Creator, o.AmountGive); err != nil {
			return fmt.Errorf("order creator: %w", err)
		}
		tx.Credit(o.AssetGive, caller, o.AmountGive)
		return nil
	})
	if err != nil {
		return Trade{}, err
	}

	if err := e.orders.MarkFilled(id); err != nil {
		return Trade{}, err
	}

	o.Filled = true
	return Trade{
		Order:     o,
		Caller:    caller,
		Fee:       fee,
		Timestamp: e.orders.Now(),
	}, nil
}
