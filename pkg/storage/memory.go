package storage

import (
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/etherdesk/etherdesk/pkg/exchange/asset"
)

type balanceKey struct {
	asset asset.Asset
	owner common.Address
}

// MemoryStore is an in-process Store for tests and ephemeral nodes.
type MemoryStore struct {
	mu         sync.Mutex
	balances   map[balanceKey]*big.Int
	orders     map[uint64]OrderRecord
	orderCount uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[balanceKey]*big.Int),
		orders:   make(map[uint64]OrderRecord),
	}
}

func (s *MemoryStore) SaveBalance(a asset.Asset, owner common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[balanceKey{asset: a, owner: owner}] = new(big.Int).Set(amount)
	return nil
}

func (s *MemoryStore) SaveBalances(recs []BalanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		s.balances[balanceKey{asset: rec.Asset, owner: rec.Owner}] = new(big.Int).Set(rec.Amount)
	}
	return nil
}

func (s *MemoryStore) LoadBalances() ([]BalanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]BalanceRecord, 0, len(s.balances))
	for k, v := range s.balances {
		recs = append(recs, BalanceRecord{Asset: k.asset, Owner: k.owner, Amount: new(big.Int).Set(v)})
	}
	return recs, nil
}

func (s *MemoryStore) SaveOrder(rec OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[rec.ID] = rec
	return nil
}

func (s *MemoryStore) LoadOrders() ([]OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]OrderRecord, 0, len(s.orders))
	for _, rec := range s.orders {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, nil
}

func (s *MemoryStore) SaveOrderCount(n uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderCount = n
	return nil
}

func (s *MemoryStore) LoadOrderCount() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderCount, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
