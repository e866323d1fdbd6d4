// Package ledger owns the (asset, owner) → balance mapping and the custody
// boundary: native deposits credit directly, token deposits pull value from
// the external token contract into the exchange's custody before any credit.
package ledger

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/etherdesk/etherdesk/pkg/exchange/asset"
	"github.com/etherdesk/etherdesk/pkg/exchange/token"
	"github.com/etherdesk/etherdesk/pkg/storage"
)

type balanceKey struct {
	asset asset.Asset
	owner common.Address
}

// Ledger tracks per-user balances for every asset the exchange custodies.
// Entries are created implicitly on first credit and never deleted; a zero
// balance is a valid resting state. Balances never go negative.
type Ledger struct {
	mu       sync.RWMutex
	balances map[balanceKey]*big.Int
	store    storage.Store
	tokens   *token.Registry
	custody  common.Address // custodian identity passed to token pulls
}

// New creates a ledger and reloads persisted balances from the store.
func New(store storage.Store, tokens *token.Registry, custody common.Address) (*Ledger, error) {
	l := &Ledger{
		balances: make(map[balanceKey]*big.Int),
		store:    store,
		tokens:   tokens,
		custody:  custody,
	}

	recs, err := store.LoadBalances()
	if err != nil {
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}
	for _, rec := range recs {
		l.balances[balanceKey{asset: rec.Asset, owner: rec.Owner}] = rec.Amount
	}
	return l, nil
}

// DepositNative credits owner with native currency actually received by the
// transport layer. The amount must equal the attached value; carrying real
// incoming value is the caller's contract.
func (l *Ledger) DepositNative(owner common.Address, amount *big.Int) (*big.Int, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.credit(asset.Native, owner, amount)
}

// DepositToken pulls amount of the token from owner's external holdings into
// custody, then credits owner. Rejects the native sentinel. A failed pull
// leaves no trace.
func (l *Ledger) DepositToken(tok asset.Asset, owner common.Address, amount *big.Int) (*big.Int, error) {
	if tok.IsNative() {
		return nil, fmt.Errorf("%w: native currency cannot be deposited as a token", ErrInvalidAsset)
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}

	backend, err := l.tokens.Resolve(tok.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAsset, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Custody pull first: credit only value actually held.
	if err := backend.TransferFrom(owner, l.custody, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferRejected, err)
	}
	newBal, err := l.credit(tok, owner, amount)
	if err != nil {
		// Return the pulled value; the credit never happened.
		_ = backend.Transfer(owner, amount)
		return nil, err
	}
	return newBal, nil
}

// Withdraw debits owner and releases the asset back out of custody.
// The debit happens before the external release so a reentrant release can
// never observe a stale balance. A failed release restores the debit, leaving
// the operation without effect.
func (l *Ledger) Withdraw(a asset.Asset, owner common.Address, amount *big.Int) (*big.Int, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := balanceKey{asset: a, owner: owner}
	cur := l.balance(key)
	if cur.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, cur, amount)
	}

	var backend token.Backend
	if !a.IsNative() {
		b, err := l.tokens.Resolve(a.Address())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAsset, err)
		}
		backend = b
	}

	// Persist and debit before the external release: a store failure here
	// aborts with nothing moved, and a reentrant release can never observe
	// a stale balance.
	newBal := new(big.Int).Sub(cur, amount)
	if err := l.store.SaveBalance(a, owner, newBal); err != nil {
		return nil, fmt.Errorf("failed to persist balance: %w", err)
	}
	l.balances[key] = newBal

	if backend != nil {
		if err := backend.Transfer(owner, amount); err != nil {
			l.balances[key] = cur
			if perr := l.store.SaveBalance(a, owner, cur); perr != nil {
				return nil, fmt.Errorf("%w: %v (restore failed: %v)", ErrTransferRejected, err, perr)
			}
			return nil, fmt.Errorf("%w: %v", ErrTransferRejected, err)
		}
	}
	// Native release is the transport layer's side of the deposit contract:
	// it returns the attached value to the owner once the debit commits.

	return new(big.Int).Set(newBal), nil
}

// BalanceOf returns the current balance, zero for absent entries. Total read.
func (l *Ledger) BalanceOf(a asset.Asset, owner common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.balance(balanceKey{asset: a, owner: owner}))
}

// Transact runs fn against a staged view of the ledger. Credits and debits
// inside fn touch only the stage; they commit as one unit iff fn returns nil.
// Stage reads see earlier staged writes, so a sequence of moves between
// overlapping (asset, owner) entries behaves exactly as if applied one by
// one, with the whole sequence discarded on the first failure.
func (l *Ledger) Transact(fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &Tx{ledger: l, staged: make(map[balanceKey]*big.Int)}
	if err := fn(tx); err != nil {
		return err
	}

	// Durability first: the in-memory book changes only once every staged
	// entry is on disk, so a store failure leaves no mutation at all.
	recs := make([]storage.BalanceRecord, 0, len(tx.staged))
	for key, amount := range tx.staged {
		recs = append(recs, storage.BalanceRecord{Asset: key.asset, Owner: key.owner, Amount: amount})
	}
	if err := l.store.SaveBalances(recs); err != nil {
		return fmt.Errorf("failed to persist balances: %w", err)
	}
	for key, amount := range tx.staged {
		l.balances[key] = amount
	}
	return nil
}

// Tx is a staged balance view used for trade settlement. Never touches
// external custody; it only moves value between ledger entries.
type Tx struct {
	ledger *Ledger
	staged map[balanceKey]*big.Int
}

// Credit adds amount to (a, owner), creating the entry if absent.
func (tx *Tx) Credit(a asset.Asset, owner common.Address, amount *big.Int) {
	key := balanceKey{asset: a, owner: owner}
	tx.staged[key] = new(big.Int).Add(tx.read(key), amount)
}

// Debit removes amount from (a, owner), failing if the staged balance is short.
func (tx *Tx) Debit(a asset.Asset, owner common.Address, amount *big.Int) error {
	key := balanceKey{asset: a, owner: owner}
	cur := tx.read(key)
	if cur.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, cur, amount)
	}
	tx.staged[key] = new(big.Int).Sub(cur, amount)
	return nil
}

// BalanceOf reads through the stage.
func (tx *Tx) BalanceOf(a asset.Asset, owner common.Address) *big.Int {
	return new(big.Int).Set(tx.read(balanceKey{asset: a, owner: owner}))
}

func (tx *Tx) read(key balanceKey) *big.Int {
	if v, ok := tx.staged[key]; ok {
		return v
	}
	return tx.ledger.balance(key)
}

// credit assumes l.mu is held. It persists before applying, so a store
// failure leaves the in-memory book untouched.
func (l *Ledger) credit(a asset.Asset, owner common.Address, amount *big.Int) (*big.Int, error) {
	key := balanceKey{asset: a, owner: owner}
	newBal := new(big.Int).Add(l.balance(key), amount)

	if err := l.store.SaveBalance(a, owner, newBal); err != nil {
		return nil, fmt.Errorf("failed to persist balance: %w", err)
	}
	l.balances[key] = newBal
	return new(big.Int).Set(newBal), nil
}

// balance assumes l.mu is held (read or write).
func (l *Ledger) balance(key balanceKey) *big.Int {
	if b, ok := l.balances[key]; ok {
		return b
	}
	return new(big.Int)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	return nil
}
