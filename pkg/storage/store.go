// Package storage persists exchange state: balance entries, order records and
// the order counter. The exchange writes through on every mutation and
// reloads the full state on startup.
package storage

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/etherdesk/etherdesk/pkg/exchange/asset"
)

// BalanceRecord is one persisted (asset, owner) → amount entry.
type BalanceRecord struct {
	Asset  asset.Asset    `json:"asset"`
	Owner  common.Address `json:"owner"`
	Amount *big.Int       `json:"amount"`
}

// OrderRecord is one persisted order: the immutable core fields plus the
// terminal flags.
type OrderRecord struct {
	ID         uint64         `json:"id"`
	Creator    common.Address `json:"creator"`
	AssetGet   asset.Asset    `json:"assetGet"`
	AmountGet  *big.Int       `json:"amountGet"`
	AssetGive  asset.Asset    `json:"assetGive"`
	AmountGive *big.Int       `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"` // Unix milliseconds
	Filled     bool           `json:"filled"`
	Cancelled  bool           `json:"cancelled"`
}

// Store is the persistence contract. Implementations must make each call
// durable before returning; callers serialize writes.
type Store interface {
	SaveBalance(a asset.Asset, owner common.Address, amount *big.Int) error

	// SaveBalances persists a set of entries as one unit: after a crash or
	// an error, either every entry is durable or none is.
	SaveBalances(recs []BalanceRecord) error

	LoadBalances() ([]BalanceRecord, error)

	SaveOrder(rec OrderRecord) error
	LoadOrders() ([]OrderRecord, error)

	SaveOrderCount(n uint64) error
	LoadOrderCount() (uint64, error)

	Close() error
}
