package state

import (
	"math/big"
	"testing"

	"juryledger/storage"
)

type record struct {
	ID     uint64
	Amount *big.Int
	Label  string
}

func TestManagerOverlayCommit(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	mgr := NewManager(db)
	if err := mgr.KVPut([]byte("rec/1"), record{ID: 1, Amount: big.NewInt(42), Label: "a"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	var got record
	ok, err := mgr.KVGet([]byte("rec/1"), &got)
	if err != nil || !ok {
		t.Fatalf("overlay read: ok=%v err=%v", ok, err)
	}
	if got.Amount.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("unexpected amount %s", got.Amount)
	}
	if db.Len() != 0 {
		t.Fatalf("write leaked to database before commit")
	}

	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if mgr.Dirty() {
		t.Fatalf("manager still dirty after commit")
	}

	fresh := NewManager(db)
	ok, err = fresh.KVGet([]byte("rec/1"), &got)
	if err != nil || !ok {
		t.Fatalf("committed read: ok=%v err=%v", ok, err)
	}
	if got.Label != "a" {
		t.Fatalf("unexpected label %q", got.Label)
	}
}

func TestManagerDiscard(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	if err := mgr.KVPut([]byte("k"), uint64(7)); err != nil {
		t.Fatalf("put: %v", err)
	}
	mgr.Discard()
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	var v uint64
	ok, err := NewManager(db).KVGet([]byte("k"), &v)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("discarded write should not be visible")
	}
}

func TestManagerDeleteShadowsDatabase(t *testing.T) {
	db := storage.NewMemDB()
	seed := NewManager(db)
	if err := seed.KVPut([]byte("k"), uint64(1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := seed.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	mgr := NewManager(db)
	if err := mgr.KVDelete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := mgr.KVGet([]byte("k"), nil); ok {
		t.Fatalf("deleted key still visible in overlay")
	}
	if ok, _ := NewManager(db).KVGet([]byte("k"), nil); !ok {
		t.Fatalf("delete leaked before commit")
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if ok, _ := NewManager(db).KVGet([]byte("k"), nil); ok {
		t.Fatalf("delete not applied on commit")
	}
}

func TestManagerKVAppendDeduplicates(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	key := []byte("index")
	for _, v := range [][]byte{{1}, {2}, {1}} {
		if err := mgr.KVAppend(key, v); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var list [][]byte
	if err := mgr.KVGetList(key, &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}

	var empty []uint64
	if err := mgr.KVGetList([]byte("missing"), &empty); err != nil {
		t.Fatalf("get empty list: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected non-nil empty slice")
	}
}
