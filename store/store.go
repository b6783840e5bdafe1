// Package store persists request lifecycle records. Records are append-only
// from the outside world's point of view: they are created once, transition
// along the legal lifecycle edges, and are never deleted.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/anycall-protocol/go-anycall/types"
)

var (
	ErrDuplicateRequest  = errors.New("store: a live record already exists for this request id")
	ErrNotFound          = errors.New("store: request not found")
	ErrInvalidTransition = errors.New("store: illegal status transition")
)

// cacheSize bounds the in-memory front of the leveldb store. Relay traffic
// is heavily skewed towards recently created requests.
const cacheSize = 4096

// recordPrefix namespaces request records inside the database.
var recordPrefix = []byte("req-")

// cursorKey holds the relay loop's journal position.
var cursorKey = []byte("relay-cursor")

// StateStore is the durable RequestID -> RequestState map, backed by
// leveldb with an LRU read cache in front.
type StateStore struct {
	mu    sync.Mutex
	db    *leveldb.DB
	cache *lru.Cache[types.RequestID, *types.RequestState]
	now   func() time.Time
}

// Open opens a file-backed store at the given path.
func Open(path string) (*StateStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return newStore(db)
}

// OpenMemory opens an in-memory store, used by tests and throwaway runs.
func OpenMemory() (*StateStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return newStore(db)
}

func newStore(db *leveldb.DB) (*StateStore, error) {
	cache, err := lru.New[types.RequestID, *types.RequestState](cacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &StateStore{db: db, cache: cache, now: time.Now}, nil
}

// Create inserts a fresh Sent record for the request. The digest written
// here is immutable for the life of the record.
func (s *StateStore) Create(id types.RequestID, digest common.Hash) error {
	return s.create(id, digest, types.StatusSent, nil)
}

// CreateFailed inserts a record directly in Fail state. Used on the
// destination side, where the failure of a never-before-seen request is the
// first thing this store learns about it.
func (s *StateStore) CreateFailed(id types.RequestID, digest common.Hash, reason []byte) error {
	return s.create(id, digest, types.StatusFail, reason)
}

func (s *StateStore) create(id types.RequestID, digest common.Hash, status types.Status, reason []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(id); err == nil {
		return ErrDuplicateRequest
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	now := uint64(s.now().Unix())
	rec := &types.RequestState{
		Status:    status,
		Digest:    digest,
		Reason:    reason,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.put(id, rec)
}

// Get returns the record for the request or ErrNotFound.
func (s *StateStore) Get(id types.RequestID) (*types.RequestState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.get(id)
	if err != nil {
		return nil, err
	}
	// Return a copy so callers cannot mutate the cached record.
	cp := *rec
	cp.Reason = append([]byte(nil), rec.Reason...)
	return &cp, nil
}

// Transition moves the record along a legal lifecycle edge, refreshing the
// failure reason when one is supplied. The stored digest never changes.
func (s *StateStore) Transition(id types.RequestID, next types.Status, reason []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.get(id)
	if err != nil {
		return err
	}
	if !rec.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, next)
	}
	upd := *rec
	upd.Status = next
	if reason != nil {
		upd.Reason = append([]byte(nil), reason...)
	}
	upd.UpdatedAt = uint64(s.now().Unix())
	return s.put(id, &upd)
}

// PutCursor persists the relay journal cursor. Submitted records must not be
// replayed after a restart, so the cursor lives next to the request records.
func (s *StateStore) PutCursor(index uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], index)
	return s.db.Put(cursorKey, buf[:], nil)
}

// Cursor returns the persisted relay journal cursor, zero when none was
// ever written.
func (s *StateStore) Cursor() (uint64, error) {
	data, err := s.db.Get(cursorKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("store: corrupt cursor entry, %d bytes", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

func (s *StateStore) Close() error {
	return s.db.Close()
}

// get must be called with the lock held.
func (s *StateStore) get(id types.RequestID) (*types.RequestState, error) {
	if rec, ok := s.cache.Get(id); ok {
		return rec, nil
	}
	data, err := s.db.Get(key(id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec := new(types.RequestState)
	if err := rlp.DecodeBytes(data, rec); err != nil {
		return nil, err
	}
	s.cache.Add(id, rec)
	return rec, nil
}

// put must be called with the lock held.
func (s *StateStore) put(id types.RequestID, rec *types.RequestState) error {
	data, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return err
	}
	if err := s.db.Put(key(id), data, nil); err != nil {
		return err
	}
	s.cache.Add(id, rec)
	return nil
}

func key(id types.RequestID) []byte {
	return append(append([]byte(nil), recordPrefix...), id.Bytes()...)
}
