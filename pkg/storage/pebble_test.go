package storage

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/etherdesk/etherdesk/pkg/exchange/asset"
)

var (
	testOwner = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	testToken = asset.Token(common.HexToAddress("0x5AEDA56215b167893e80B4fE645BA6d5Bab767DE"))
)

func newTestPebble(t *testing.T) *PebbleStore {
	s, err := OpenPebble(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open pebble store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPebbleBalanceRoundTrip(t *testing.T) {
	s := newTestPebble(t)

	amt := big.NewInt(1_000_000)
	if err := s.SaveBalance(testToken, testOwner, amt); err != nil {
		t.Fatalf("save balance: %v", err)
	}
	if err := s.SaveBalance(asset.Native, testOwner, big.NewInt(42)); err != nil {
		t.Fatalf("save balance: %v", err)
	}

	recs, err := s.LoadBalances()
	if err != nil {
		t.Fatalf("load balances: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}

	found := make(map[asset.Asset]*big.Int)
	for _, r := range recs {
		if r.Owner != testOwner {
			t.Errorf("owner = %s, want %s", r.Owner.Hex(), testOwner.Hex())
		}
		found[r.Asset] = r.Amount
	}
	if found[testToken].Cmp(amt) != 0 {
		t.Errorf("token balance = %s, want %s", found[testToken], amt)
	}
	if found[asset.Native].Cmp(big.NewInt(42)) != 0 {
		t.Errorf("native balance = %s, want 42", found[asset.Native])
	}
}

func TestPebbleBalanceBatch(t *testing.T) {
	s := newTestPebble(t)

	other := common.HexToAddress("0xBB00000000000000000000000000000000000000")
	err := s.SaveBalances([]BalanceRecord{
		{Asset: asset.Native, Owner: testOwner, Amount: big.NewInt(10)},
		{Asset: asset.Native, Owner: other, Amount: big.NewInt(20)},
		{Asset: testToken, Owner: testOwner, Amount: big.NewInt(30)},
	})
	if err != nil {
		t.Fatalf("save balances: %v", err)
	}

	recs, err := s.LoadBalances()
	if err != nil {
		t.Fatalf("load balances: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
}

func TestPebbleBalanceOverwrite(t *testing.T) {
	s := newTestPebble(t)

	s.SaveBalance(asset.Native, testOwner, big.NewInt(10))
	s.SaveBalance(asset.Native, testOwner, big.NewInt(7))

	recs, err := s.LoadBalances()
	if err != nil {
		t.Fatalf("load balances: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if recs[0].Amount.Cmp(big.NewInt(7)) != 0 {
		t.Errorf("balance = %s, want 7", recs[0].Amount)
	}
}

func TestPebbleOrdersOrdered(t *testing.T) {
	s := newTestPebble(t)

	for _, id := range []uint64{3, 1, 2} {
		rec := OrderRecord{
			ID:         id,
			Creator:    testOwner,
			AssetGet:   testToken,
			AmountGet:  big.NewInt(int64(id) * 100),
			AssetGive:  asset.Native,
			AmountGive: big.NewInt(1),
			Timestamp:  1700000000000 + int64(id),
		}
		if err := s.SaveOrder(rec); err != nil {
			t.Fatalf("save order %d: %v", id, err)
		}
	}

	recs, err := s.LoadOrders()
	if err != nil {
		t.Fatalf("load orders: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d orders, want 3", len(recs))
	}
	for i, rec := range recs {
		if rec.ID != uint64(i+1) {
			t.Errorf("order[%d].ID = %d, want %d", i, rec.ID, i+1)
		}
	}
	if recs[1].AmountGet.Cmp(big.NewInt(200)) != 0 {
		t.Errorf("order 2 amountGet = %s, want 200", recs[1].AmountGet)
	}
}

func TestPebbleOrderFlagsPersist(t *testing.T) {
	s := newTestPebble(t)

	rec := OrderRecord{ID: 1, Creator: testOwner, AssetGet: testToken, AmountGet: big.NewInt(1), AssetGive: asset.Native, AmountGive: big.NewInt(1)}
	s.SaveOrder(rec)
	rec.Filled = true
	s.SaveOrder(rec)

	recs, err := s.LoadOrders()
	if err != nil {
		t.Fatalf("load orders: %v", err)
	}
	if len(recs) != 1 || !recs[0].Filled || recs[0].Cancelled {
		t.Errorf("flags = filled:%v cancelled:%v, want filled only", recs[0].Filled, recs[0].Cancelled)
	}
}

func TestPebbleOrderCount(t *testing.T) {
	s := newTestPebble(t)

	n, err := s.LoadOrderCount()
	if err != nil {
		t.Fatalf("load count: %v", err)
	}
	if n != 0 {
		t.Errorf("fresh count = %d, want 0", n)
	}

	if err := s.SaveOrderCount(17); err != nil {
		t.Fatalf("save count: %v", err)
	}
	n, err = s.LoadOrderCount()
	if err != nil {
		t.Fatalf("load count: %v", err)
	}
	if n != 17 {
		t.Errorf("count = %d, want 17", n)
	}
}
