package store

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/anycall-protocol/go-anycall/types"
)

func newTestStore(t *testing.T) *StateStore {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	id := types.ComputeRequestID(1, 1)
	digest := common.HexToHash("0xbeef")

	if err := s.Create(id, digest); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	rec, err := s.Get(id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if rec.Status != types.StatusSent {
		t.Fatalf("fresh record must be sent, got %s", rec.Status)
	}
	if rec.Digest != digest {
		t.Fatalf("digest mismatch")
	}
	if rec.CreatedAt == 0 || rec.CreatedAt != rec.UpdatedAt {
		t.Fatalf("timestamps not stamped: %+v", rec)
	}
}

func TestCreateDuplicate(t *testing.T) {
	s := newTestStore(t)
	id := types.ComputeRequestID(1, 1)

	if err := s.Create(id, common.Hash{}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := s.Create(id, common.Hash{}); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("want ErrDuplicateRequest, got %v", err)
	}
	// A terminal record still blocks re-creation: ids are never reused.
	if err := s.Transition(id, types.StatusFail, []byte("x")); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := s.Transition(id, types.StatusFallbackSuccess, nil); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := s.Create(id, common.Hash{}); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("terminal record must still be live for duplicate detection")
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(types.ComputeRequestID(9, 9)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := s.Transition(types.ComputeRequestID(9, 9), types.StatusFail, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("transition on missing record: want ErrNotFound, got %v", err)
	}
}

func TestTransitionEdges(t *testing.T) {
	s := newTestStore(t)
	id := types.ComputeRequestID(1, 2)
	if err := s.Create(id, common.Hash{}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Sent may only fail.
	if err := s.Transition(id, types.StatusFallbackSuccess, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("sent->fallback_success must be illegal, got %v", err)
	}
	if err := s.Transition(id, types.StatusFail, []byte("reason one")); err != nil {
		t.Fatalf("sent->fail failed: %v", err)
	}

	// Fail->Fail refreshes the reason.
	if err := s.Transition(id, types.StatusFail, []byte("reason two")); err != nil {
		t.Fatalf("fail->fail failed: %v", err)
	}
	rec, _ := s.Get(id)
	if string(rec.Reason) != "reason two" {
		t.Fatalf("reason not refreshed: %q", rec.Reason)
	}

	// Terminal states admit nothing.
	if err := s.Transition(id, types.StatusFallbackSuccess, nil); err != nil {
		t.Fatalf("fail->fallback_success failed: %v", err)
	}
	for _, next := range []types.Status{types.StatusSent, types.StatusFail, types.StatusFallbackSuccess, types.StatusRetrySuccess} {
		if err := s.Transition(id, next, nil); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("terminal record accepted transition to %s", next)
		}
	}
}

func TestDigestImmutable(t *testing.T) {
	s := newTestStore(t)
	id := types.ComputeRequestID(1, 3)
	digest := common.HexToHash("0xdead")

	if err := s.Create(id, digest); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := s.Transition(id, types.StatusFail, []byte("boom")); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	rec, _ := s.Get(id)
	if rec.Digest != digest {
		t.Fatalf("digest changed across transition")
	}
}

func TestCreateFailed(t *testing.T) {
	s := newTestStore(t)
	id := types.ComputeRequestID(4, 1)

	if err := s.CreateFailed(id, common.HexToHash("0x01"), []byte("remote failure")); err != nil {
		t.Fatalf("create failed-record: %v", err)
	}
	rec, err := s.Get(id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if rec.Status != types.StatusFail || string(rec.Reason) != "remote failure" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	// The failure path still allows recovery.
	if err := s.Transition(id, types.StatusFallbackSuccess, nil); err != nil {
		t.Fatalf("fail->fallback_success failed: %v", err)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Cursor()
	if err != nil {
		t.Fatalf("cursor read failed: %v", err)
	}
	if got != 0 {
		t.Fatalf("fresh store cursor %d, want 0", got)
	}
	if err := s.PutCursor(42); err != nil {
		t.Fatalf("cursor write failed: %v", err)
	}
	got, err = s.Cursor()
	if err != nil {
		t.Fatalf("cursor read failed: %v", err)
	}
	if got != 42 {
		t.Fatalf("cursor %d, want 42", got)
	}
	// The cursor key must not shadow a request record.
	if _, err := s.Get(types.ComputeRequestID(1, 42)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cursor write leaked into the record namespace: %v", err)
	}
}

// TestPersistsAcrossCache evicts through the LRU front by writing more
// records than the cache holds and re-reading the first one from disk.
func TestPersistsAcrossCache(t *testing.T) {
	s := newTestStore(t)
	first := types.ComputeRequestID(1, 0)
	if err := s.Create(first, common.HexToHash("0x42")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	for i := uint64(1); i <= cacheSize+16; i++ {
		if err := s.Create(types.ComputeRequestID(1, i), common.Hash{}); err != nil {
			t.Fatalf("create %d failed: %v", i, err)
		}
	}
	rec, err := s.Get(first)
	if err != nil {
		t.Fatalf("get after eviction failed: %v", err)
	}
	if rec.Digest != common.HexToHash("0x42") {
		t.Fatalf("record corrupted after eviction")
	}
}
