package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/etherdesk/etherdesk/pkg/exchange/asset"
)

// Key schema:
//
//	bal:<asset>:<owner> → BalanceRecord (JSON)
//	ord:<id, 20 digits> → OrderRecord (JSON)
//	meta:ordercount     → uint64 (8 bytes, big-endian)
const (
	prefixBalance = "bal:"
	prefixOrder   = "ord:"
	keyOrderCount = "meta:ordercount"
)

// PebbleStore is the durable Store backed by a Pebble database.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a Pebble database at the given path.
func OpenPebble(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20),
		MemTableSize:          32 << 20,
		L0CompactionThreshold: 2,
		MaxOpenFiles:          1000,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func balanceDBKey(a asset.Asset, owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, a.String(), owner.Hex()))
}

func orderDBKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func (s *PebbleStore) SaveBalance(a asset.Asset, owner common.Address, amount *big.Int) error {
	rec := BalanceRecord{Asset: a, Owner: owner, Amount: amount}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal balance: %w", err)
	}
	if err := s.db.Set(balanceDBKey(a, owner), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

// SaveBalances stages every entry in one batch and commits it atomically.
func (s *PebbleStore) SaveBalances(recs []BalanceRecord) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal balance: %w", err)
		}
		if err := batch.Set(balanceDBKey(rec.Asset, rec.Owner), data, nil); err != nil {
			return fmt.Errorf("failed to stage balance: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit balances: %w", err)
	}
	return nil
}

func (s *PebbleStore) LoadBalances() ([]BalanceRecord, error) {
	return loadPrefix[BalanceRecord](s.db, []byte(prefixBalance))
}

func (s *PebbleStore) SaveOrder(rec OrderRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	if err := s.db.Set(orderDBKey(rec.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order %d: %w", rec.ID, err)
	}
	return nil
}

func (s *PebbleStore) LoadOrders() ([]OrderRecord, error) {
	// Keys are zero-padded so iteration order is id order.
	return loadPrefix[OrderRecord](s.db, []byte(prefixOrder))
}

func (s *PebbleStore) SaveOrderCount(n uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	if err := s.db.Set([]byte(keyOrderCount), buf[:], pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order count: %w", err)
	}
	return nil
}

func (s *PebbleStore) LoadOrderCount() (uint64, error) {
	data, closer, err := s.db.Get([]byte(keyOrderCount))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get order count: %w", err)
	}
	defer closer.Close()

	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt order count: %d bytes", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// loadPrefix scans all JSON records under a key prefix.
func loadPrefix[T any](db *pebble.DB, prefix []byte) ([]T, error) {
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var recs []T
	for iter.First(); iter.Valid(); iter.Next() {
		var rec T
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record at %s: %w", iter.Key(), err)
		}
		recs = append(recs, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iteration failed: %w", err)
	}
	return recs, nil
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

var _ Store = (*PebbleStore)(nil)
