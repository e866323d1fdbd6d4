package exchange

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/etherdesk/etherdesk/pkg/exchange/asset"
	"github.com/etherdesk/etherdesk/pkg/exchange/events"
	"github.com/etherdesk/etherdesk/pkg/exchange/ledger"
	"github.com/etherdesk/etherdesk/pkg/exchange/order"
	"github.com/etherdesk/etherdesk/pkg/exchange/token"
	"github.com/etherdesk/etherdesk/pkg/storage"
	"github.com/etherdesk/etherdesk/pkg/util"
)

var (
	deployer   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	feeAccount = common.HexToAddress("0xFEE0000000000000000000000000000000000000")
	user1      = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	user2      = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	custody    = common.HexToAddress("0xEE00000000000000000000000000000000000000")
	tokenAddr  = common.HexToAddress("0x5AEDA56215b167893e80B4fE645BA6d5Bab767DE")
	tokAsset   = asset.Token(tokenAddr)
)

func unit(n int64) *big.Int {
	u := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return u.Mul(u, big.NewInt(n))
}

func tenthUnit(n int64) *big.Int {
	u := new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil)
	return u.Mul(u, big.NewInt(n))
}

type captureSink struct {
	got []events.Event
}

func (c *captureSink) Publish(e events.Event) { c.got = append(c.got, e) }

func (c *captureSink) last() events.Event {
	if len(c.got) == 0 {
		return nil
	}
	return c.got[len(c.got)-1]
}

type fixture struct {
	ex    *Exchange
	token *token.MemToken
	sink  *captureSink
	clock *util.ManualClock
}

func newFixture(t *testing.T) *fixture {
	store := storage.NewMemoryStore()
	clock := util.NewManualClock(time.UnixMilli(1_700_000_000_000))

	tok := token.NewMemToken(deployer, unit(1_000_000))
	tok.Mint(user1, unit(100))
	reg := token.NewRegistry()
	if err := reg.Register(tokenAddr, tok.Bind(custody)); err != nil {
		t.Fatalf("register token: %v", err)
	}

	sink := &captureSink{}
	feed := events.NewFeed()
	feed.Attach(sink)

	cfg := Config{FeeAccount: feeAccount, FeePercent: 10, Custody: custody}
	ex, err := New(cfg, store, reg, clock, feed, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("new exchange: %v", err)
	}
	return &fixture{ex: ex, token: tok, sink: sink, clock: clock}
}

func TestDeploymentConfig(t *testing.T) {
	f := newFixture(t)

	if f.ex.FeeAccount() != feeAccount {
		t.Errorf("fee account = %s, want %s", f.ex.FeeAccount().Hex(), feeAccount.Hex())
	}
	if f.ex.FeePercent() != 10 {
		t.Errorf("fee percent = %d, want 10", f.ex.FeePercent())
	}
}

func TestDepositNativeEmitsEvent(t *testing.T) {
	f := newFixture(t)

	if err := f.ex.DepositNative(user1, unit(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := f.ex.BalanceOf(asset.Native, user1); got.Cmp(unit(1)) != 0 {
		t.Errorf("balance = %s, want 1 unit", got)
	}

	dep, ok := f.sink.last().(events.Deposit)
	if !ok {
		t.Fatalf("last event = %T, want Deposit", f.sink.last())
	}
	if dep.Asset != asset.Native || dep.User != user1 {
		t.Errorf("event = %+v, want native deposit by user1", dep)
	}
	if dep.Amount.Cmp(unit(1)) != 0 || dep.Balance.Cmp(unit(1)) != 0 {
		t.Errorf("event amounts = %s/%s, want 1/1 unit", dep.Amount, dep.Balance)
	}
}

func TestDepositTokenEmitsEvent(t *testing.T) {
	f := newFixture(t)
	f.token.Approve(user1, custody, unit(10))

	if err := f.ex.DepositToken(tokAsset, user1, unit(10)); err != nil {
		t.Fatalf("deposit token: %v", err)
	}
	// Custody holds the pulled tokens and the ledger credits the owner
	if got := f.token.BalanceOf(custody); got.Cmp(unit(10)) != 0 {
		t.Errorf("custody holding = %s, want 10 units", got)
	}
	if got := f.ex.BalanceOf(tokAsset, user1); got.Cmp(unit(10)) != 0 {
		t.Errorf("balance = %s, want 10 units", got)
	}

	dep, ok := f.sink.last().(events.Deposit)
	if !ok || dep.Asset != tokAsset {
		t.Errorf("last event = %+v, want token deposit", f.sink.last())
	}
}

func TestDepositTokenRejections(t *testing.T) {
	f := newFixture(t)

	// Native sentinel is not a token
	err := f.ex.DepositToken(asset.Native, user1, unit(10))
	if !errors.Is(err, ledger.ErrInvalidAsset) {
		t.Errorf("got %v, want ErrInvalidAsset", err)
	}

	// No prior approval: rejected, no balance change, no event
	before := len(f.sink.got)
	err = f.ex.DepositToken(tokAsset, user1, unit(10))
	if !errors.Is(err, ledger.ErrTransferRejected) {
		t.Errorf("got %v, want ErrTransferRejected", err)
	}
	if got := f.ex.BalanceOf(tokAsset, user1); got.Sign() != 0 {
		t.Errorf("balance = %s, want 0", got)
	}
	if len(f.sink.got) != before {
		t.Error("event emitted for rejected deposit")
	}
}

func TestWithdrawNative(t *testing.T) {
	f := newFixture(t)
	f.ex.DepositNative(user1, unit(1))

	if err := f.ex.Withdraw(asset.Native, user1, unit(1)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := f.ex.BalanceOf(asset.Native, user1); got.Sign() != 0 {
		t.Errorf("balance = %s, want 0", got)
	}

	wd, ok := f.sink.last().(events.Withdraw)
	if !ok {
		t.Fatalf("last event = %T, want Withdraw", f.sink.last())
	}
	if wd.Balance.Sign() != 0 || wd.Amount.Cmp(unit(1)) != 0 {
		t.Errorf("event = %+v, want amount 1 unit, balance 0", wd)
	}
}

func TestWithdrawInsufficientLeavesBalance(t *testing.T) {
	f := newFixture(t)
	f.ex.DepositNative(user1, unit(1))

	err := f.ex.Withdraw(asset.Native, user1, unit(2))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	if got := f.ex.BalanceOf(asset.Native, user1); got.Cmp(unit(1)) != 0 {
		t.Errorf("balance = %s, want 1 unit", got)
	}
}

func TestWithdrawToken(t *testing.T) {
	f := newFixture(t)
	f.token.Approve(user1, custody, unit(10))
	f.ex.DepositToken(tokAsset, user1, unit(10))

	if err := f.ex.Withdraw(tokAsset, user1, unit(10)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := f.ex.BalanceOf(tokAsset, user1); got.Sign() != 0 {
		t.Errorf("ledger balance = %s, want 0", got)
	}
	if got := f.token.BalanceOf(user1); got.Cmp(unit(100)) != 0 {
		t.Errorf("external holding = %s, want 100 units", got)
	}
}

func TestMakeOrder(t *testing.T) {
	f := newFixture(t)

	o, err := f.ex.CreateOrder(user1, tokAsset, unit(1), asset.Native, unit(1))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if f.ex.OrderCount() != 1 {
		t.Errorf("order count = %d, want 1", f.ex.OrderCount())
	}

	got, err := f.ex.Order(1)
	if err != nil {
		t.Fatalf("order lookup: %v", err)
	}
	if got.ID != 1 || got.Creator != user1 {
		t.Errorf("order = id %d by %s, want id 1 by user1", got.ID, got.Creator.Hex())
	}
	if got.AssetGet != tokAsset || got.AmountGet.Cmp(unit(1)) != 0 {
		t.Errorf("get side = %v/%s", got.AssetGet, got.AmountGet)
	}
	if got.AssetGive != asset.Native || got.AmountGive.Cmp(unit(1)) != 0 {
		t.Errorf("give side = %v/%s", got.AssetGive, got.AmountGive)
	}
	if got.Timestamp == 0 {
		t.Error("timestamp not set")
	}

	ev, ok := f.sink.last().(events.Order)
	if !ok {
		t.Fatalf("last event = %T, want Order", f.sink.last())
	}
	if ev.ID != o.ID || ev.User != user1 || ev.Timestamp != o.Timestamp {
		t.Errorf("event = %+v, want posted order %d", ev, o.ID)
	}
}

// seedOrderActions mirrors the reference "order actions" setup: user1 deposits
// 1 native unit and posts an order for 1 token unit; user2 deposits 2 token
// units.
func seedOrderActions(t *testing.T, f *fixture) order.Order {
	if err := f.ex.DepositNative(user1, unit(1)); err != nil {
		t.Fatalf("deposit native: %v", err)
	}
	f.token.Mint(user2, unit(100))
	f.token.Approve(user2, custody, unit(2))
	if err := f.ex.DepositToken(tokAsset, user2, unit(2)); err != nil {
		t.Fatalf("deposit token: %v", err)
	}
	o, err := f.ex.CreateOrder(user1, tokAsset, unit(1), asset.Native, unit(1))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

// TestMakeOrderRejectsNegativeAmounts guards the settlement maths: a negative
// amount surviving to Fill would turn debits into credits and drive balances
// below zero, so creation is the choke point.
func TestMakeOrderRejectsNegativeAmounts(t *testing.T) {
	f := newFixture(t)
	seedOrderActions(t, f)
	before := len(f.sink.got)

	_, err := f.ex.CreateOrder(user1, tokAsset, unit(-1), asset.Native, unit(-1))
	if !errors.Is(err, order.ErrInvalidAmount) {
		t.Fatalf("negative create: got %v, want ErrInvalidAmount", err)
	}
	if f.ex.OrderCount() != 1 {
		t.Errorf("order count = %d, want 1", f.ex.OrderCount())
	}
	if len(f.sink.got) != before {
		t.Errorf("events published on rejected create: %d new", len(f.sink.got)-before)
	}

	// Nothing fillable exists beyond the seeded order, and filling it keeps
	// every balance non-negative.
	if err := f.ex.FillOrder(user2, 1); err != nil {
		t.Fatalf("fill: %v", err)
	}
	for _, a := range []asset.Asset{asset.Native, tokAsset} {
		for _, u := range []common.Address{user1, user2, feeAccount} {
			if bal := f.ex.BalanceOf(a, u); bal.Sign() < 0 {
				t.Errorf("balance of %s in %v = %s, negative", u.Hex(), a, bal)
			}
		}
	}
}

func TestFillOrderReferenceScenario(t *testing.T) {
	f := newFixture(t)
	o := seedOrderActions(t, f)
	f.clock.Advance(5 * time.Second)

	if err := f.ex.FillOrder(user2, o.ID); err != nil {
		t.Fatalf("fill: %v", err)
	}

	// creator token = 1, filler native = 1, creator native = 0,
	// filler token = 0.9, operator token = 0.1
	if got := f.ex.BalanceOf(tokAsset, user1); got.Cmp(unit(1)) != 0 {
		t.Errorf("creator token balance = %s, want 1 unit", got)
	}
	if got := f.ex.BalanceOf(asset.Native, user2); got.Cmp(unit(1)) != 0 {
		t.Errorf("filler native balance = %s, want 1 unit", got)
	}
	if got := f.ex.BalanceOf(asset.Native, user1); got.Sign() != 0 {
		t.Errorf("creator native balance = %s, want 0", got)
	}
	if got := f.ex.BalanceOf(tokAsset, user2); got.Cmp(tenthUnit(9)) != 0 {
		t.Errorf("filler token balance = %s, want 0.9 unit", got)
	}
	if got := f.ex.BalanceOf(tokAsset, feeAccount); got.Cmp(tenthUnit(1)) != 0 {
		t.Errorf("operator token balance = %s, want 0.1 unit", got)
	}
	if !f.ex.OrderFilled(o.ID) {
		t.Error("order not filled")
	}

	ev, ok := f.sink.last().(events.Trade)
	if !ok {
		t.Fatalf("last event = %T, want Trade", f.sink.last())
	}
	if ev.ID != o.ID || ev.User != user1 || ev.UserFill != user2 {
		t.Errorf("trade event = %+v", ev)
	}
	if ev.Timestamp != f.clock.Now().UnixMilli() {
		t.Errorf("trade timestamp = %d, want %d", ev.Timestamp, f.clock.Now().UnixMilli())
	}
}

func TestFillRejections(t *testing.T) {
	f := newFixture(t)
	o := seedOrderActions(t, f)

	// Unknown id
	if err := f.ex.FillOrder(user2, 9999); !errors.Is(err, order.ErrOrderNotFound) {
		t.Errorf("unknown id: got %v, want ErrOrderNotFound", err)
	}

	// Already filled: balances unchanged after the first fill
	if err := f.ex.FillOrder(user2, o.ID); err != nil {
		t.Fatalf("first fill: %v", err)
	}
	after := f.ex.BalanceOf(tokAsset, user2)
	if err := f.ex.FillOrder(user2, o.ID); !errors.Is(err, order.ErrOrderAlreadyFilled) {
		t.Errorf("refill: got %v, want ErrOrderAlreadyFilled", err)
	}
	if got := f.ex.BalanceOf(tokAsset, user2); got.Cmp(after) != 0 {
		t.Errorf("balance moved on rejected fill: %s != %s", got, after)
	}
}

func TestCancelThenThirdPartyFill(t *testing.T) {
	f := newFixture(t)
	o := seedOrderActions(t, f)

	if err := f.ex.CancelOrder(user1, o.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !f.ex.OrderCancelled(o.ID) {
		t.Error("order not cancelled")
	}
	if err := f.ex.FillOrder(user2, o.ID); !errors.Is(err, order.ErrOrderAlreadyCancelled) {
		t.Errorf("got %v, want ErrOrderAlreadyCancelled", err)
	}
}

func TestCancelEmitsEventWithOriginalFields(t *testing.T) {
	f := newFixture(t)
	o := seedOrderActions(t, f)
	f.clock.Advance(time.Minute)

	if err := f.ex.CancelOrder(user1, o.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	ev, ok := f.sink.last().(events.Cancel)
	if !ok {
		t.Fatalf("last event = %T, want Cancel", f.sink.last())
	}
	if ev.ID != o.ID || ev.User != user1 {
		t.Errorf("event = %+v", ev)
	}
	if ev.AmountGet.Cmp(o.AmountGet) != 0 || ev.AssetGive != o.AssetGive {
		t.Error("cancel event lost original order fields")
	}
	if ev.Timestamp != f.clock.Now().UnixMilli() {
		t.Errorf("cancel timestamp = %d, want current time %d", ev.Timestamp, f.clock.Now().UnixMilli())
	}
}

func TestCancelRejections(t *testing.T) {
	f := newFixture(t)
	o := seedOrderActions(t, f)

	if err := f.ex.CancelOrder(user1, 9999); !errors.Is(err, order.ErrOrderNotFound) {
		t.Errorf("unknown id: got %v, want ErrOrderNotFound", err)
	}
	if err := f.ex.CancelOrder(user2, o.ID); !errors.Is(err, order.ErrUnauthorized) {
		t.Errorf("non-creator: got %v, want ErrUnauthorized", err)
	}
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.ex.DepositNative(user1, unit(3))
	before := f.ex.BalanceOf(asset.Native, user1)

	f.ex.DepositNative(user1, unit(2))
	if err := f.ex.Withdraw(asset.Native, user1, unit(2)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := f.ex.BalanceOf(asset.Native, user1); got.Cmp(before) != 0 {
		t.Errorf("round trip balance = %s, want %s", got, before)
	}
}

func TestEventOrderMatchesMutationOrder(t *testing.T) {
	f := newFixture(t)
	o := seedOrderActions(t, f)
	f.ex.FillOrder(user2, o.ID)

	want := []string{"Deposit", "Deposit", "Order", "Trade"}
	if len(f.sink.got) != len(want) {
		t.Fatalf("saw %d events, want %d", len(f.sink.got), len(want))
	}
	for i, e := range f.sink.got {
		if e.EventType() != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, e.EventType(), want[i])
		}
	}
}
