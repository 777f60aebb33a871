package storage

import (
	"context"
	"testing"
)

func testKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := kv.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok %v, err %v; want not found", ok, err)
	}

	if err := kv.Set(ctx, "chatembed:session:b1", `{"a":1}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kv.Set(ctx, "chatembed:session:b2", "x"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kv.Set(ctx, "chatembed:config:b1", "y"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, ok, err := kv.Get(ctx, "chatembed:session:b1")
	if err != nil || !ok || v != `{"a":1}` {
		t.Errorf("Get = %q, %v, %v", v, ok, err)
	}

	if err := kv.Set(ctx, "chatembed:session:b1", "updated"); err != nil {
		t.Fatalf("Set (overwrite): %v", err)
	}
	if v, _, _ := kv.Get(ctx, "chatembed:session:b1"); v != "updated" {
		t.Errorf("after overwrite Get = %q, want updated", v)
	}

	keys, err := kv.Keys(ctx, "chatembed:session:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "chatembed:session:b1" || keys[1] != "chatembed:session:b2" {
		t.Errorf("Keys = %v", keys)
	}

	if err := kv.Delete(ctx, "chatembed:session:b1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "chatembed:session:b1"); ok {
		t.Error("key still present after Delete")
	}
	if err := kv.Delete(ctx, "never-set"); err != nil {
		t.Errorf("Delete of missing key: %v", err)
	}
}

func TestMemoryKV(t *testing.T) {
	testKV(t, NewMemoryKV())
}

func TestSQLiteKV(t *testing.T) {
	testKV(t, openTestStore(t).KV())
}

func TestSQLiteKV_Persists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.KV().Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if v, ok, _ := s2.KV().Get(ctx, "k"); !ok || v != "v" {
		t.Errorf("after reopen Get = %q, %v", v, ok)
	}
}
