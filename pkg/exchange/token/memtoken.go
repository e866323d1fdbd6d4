package token

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errInsufficientTokens    = errors.New("insufficient token balance")
	errInsufficientAllowance = errors.New("insufficient allowance")
)

// MemToken is an in-memory Backend with ERC20-shaped balance and allowance
// bookkeeping. It serves the dev node and tests; deployments against a real
// chain register a bridge-backed Backend instead.
type MemToken struct {
	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int // owner -> spender -> amount
}

// NewMemToken mints the initial supply to the issuer.
func NewMemToken(issuer common.Address, supply *big.Int) *MemToken {
	t := &MemToken{
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
	t.balances[issuer] = new(big.Int).Set(supply)
	return t
}

// Approve authorizes spender to pull up to amount from owner.
func (t *MemToken) Approve(owner, spender common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(amount)
}

// Mint credits freshly issued tokens to an address. Test/devnet helper.
func (t *MemToken) Mint(to common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(to, amount)
}

// TransferFrom moves amount from owner to custodian, consuming allowance.
// Fails without moving value if the owner's balance or the custodian's
// allowance is short.
func (t *MemToken) TransferFrom(owner, custodian common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := t.allowance(owner, custodian)
	if allowed.Cmp(amount) < 0 {
		return errInsufficientAllowance
	}
	if t.balance(owner).Cmp(amount) < 0 {
		return errInsufficientTokens
	}

	t.allowances[owner][custodian] = new(big.Int).Sub(allowed, amount)
	t.debit(owner, amount)
	t.credit(custodian, amount)
	return nil
}

// Transfer moves amount out of the custody account to the recipient.
// The custody account is implicit: MemToken tracks it like any holder, so the
// caller passes value it actually holds or the transfer fails.
func (t *MemToken) TransferAsCustodian(custodian, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.balance(custodian).Cmp(amount) < 0 {
		return errInsufficientTokens
	}
	t.debit(custodian, amount)
	t.credit(to, amount)
	return nil
}

// Transfer implements Backend assuming a single custody holder has been bound
// via Bind. See BoundToken for the custodian-aware wrapper.
func (t *MemToken) Transfer(to common.Address, amount *big.Int) error {
	return errors.New("memtoken: Transfer requires a bound custodian, use Bind")
}

// BalanceOf reports the external holding of owner.
func (t *MemToken) BalanceOf(owner common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balance(owner))
}

// Bind returns a Backend view of the token whose Transfer releases value from
// the given custody address. The ledger registers the bound view so its
// withdrawals debit the custody holding it accumulated via TransferFrom.
func (t *MemToken) Bind(custodian common.Address) Backend {
	return &BoundToken{token: t, custodian: custodian}
}

// BoundToken adapts MemToken to Backend for a fixed custody address.
type BoundToken struct {
	token     *MemToken
	custodian common.Address
}

func (b *BoundToken) TransferFrom(owner, custodian common.Address, amount *big.Int) error {
	return b.token.TransferFrom(owner, custodian, amount)
}

func (b *BoundToken) Transfer(to common.Address, amount *big.Int) error {
	return b.token.TransferAsCustodian(b.custodian, to, amount)
}

func (b *BoundToken) BalanceOf(owner common.Address) *big.Int {
	return b.token.BalanceOf(owner)
}

// callers hold t.mu for the unexported helpers below

func (t *MemToken) balance(addr common.Address) *big.Int {
	if b, ok := t.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

func (t *MemToken) allowance(owner, spender common.Address) *big.Int {
	if m, ok := t.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a
		}
	}
	return new(big.Int)
}

func (t *MemToken) credit(addr common.Address, amount *big.Int) {
	t.balances[addr] = new(big.Int).Add(t.balance(addr), amount)
}

func (t *MemToken) debit(addr common.Address, amount *big.Int) {
	t.balances[addr] = new(big.Int).Sub(t.balance(addr), amount)
}
