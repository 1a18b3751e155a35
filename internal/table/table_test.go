package table

import (
	"testing"

	"emberlang/internal/object"
	"emberlang/internal/value"
)

func TestSetGetDelete(t *testing.T) {
	var tbl Table
	key := object.NewString("foo")

	if _, ok := tbl.Get(key); ok {
		t.Fatalf("Get on empty table found a value")
	}

	if !tbl.Set(key, value.NumberValue(1)) {
		t.Fatalf("Set on a fresh key should report isNewKey=true")
	}
	if tbl.Set(key, value.NumberValue(2)) {
		t.Fatalf("Set on an existing key should report isNewKey=false")
	}

	got, ok := tbl.Get(key)
	if !ok || got.AsNum != 2 {
		t.Fatalf("Get = %v, %v, want 2, true", got, ok)
	}

	if !tbl.Delete(key) {
		t.Fatalf("Delete on an existing key should succeed")
	}
	if _, ok := tbl.Get(key); ok {
		t.Fatalf("Get after Delete should fail")
	}
	if tbl.Delete(key) {
		t.Fatalf("Delete on an already-deleted key should report false")
	}
}

// TestTombstoneProbeChain checks that deleting a key doesn't break the
// probe chain for a different key that collided into the same bucket.
func TestTombstoneProbeChain(t *testing.T) {
	var tbl Table
	keys := make([]*object.String, 0, 32)
	for i := 0; i < 32; i++ {
		k := object.NewString(string(rune('a' + i)))
		keys = append(keys, k)
		tbl.Set(k, value.NumberValue(float64(i)))
	}

	// Delete every other key, then confirm the rest are still reachable.
	for i := 0; i < len(keys); i += 2 {
		if !tbl.Delete(keys[i]) {
			t.Fatalf("Delete(%v) failed", keys[i])
		}
	}
	for i := 1; i < len(keys); i += 2 {
		got, ok := tbl.Get(keys[i])
		if !ok || got.AsNum != float64(i) {
			t.Fatalf("Get(%v) = %v, %v, want %d, true", keys[i], got, ok, i)
		}
	}
}

func TestGrowthPreservesEntries(t *testing.T) {
	var tbl Table
	const n = 200
	keys := make([]*object.String, n)
	for i := 0; i < n; i++ {
		keys[i] = object.NewString(string(rune(i)) + "-key")
		tbl.Set(keys[i], value.NumberValue(float64(i)))
	}
	if tbl.Count() != n {
		t.Fatalf("Count() = %d, want %d", tbl.Count(), n)
	}
	for i, k := range keys {
		got, ok := tbl.Get(k)
		if !ok || got.AsNum != float64(i) {
			t.Fatalf("Get(%d) = %v, %v, want %d, true", i, got, ok, i)
		}
	}
}

func TestFindStringByContent(t *testing.T) {
	var tbl Table
	a := object.NewString("shared")
	tbl.Set(a, value.NilValue())

	found := tbl.FindString("shared", a.Hash)
	if found != a {
		t.Fatalf("FindString returned a different *object.String than the one stored")
	}

	if tbl.FindString("missing", object.HashBytes("missing")) != nil {
		t.Fatalf("FindString found a key that was never set")
	}
}

func TestAddAll(t *testing.T) {
	var src, dst Table
	a, b := object.NewString("a"), object.NewString("b")
	src.Set(a, value.NumberValue(1))
	src.Set(b, value.NumberValue(2))

	src.AddAll(&dst)

	if dst.Count() != 2 {
		t.Fatalf("dst.Count() = %d, want 2", dst.Count())
	}
	if v, ok := dst.Get(a); !ok || v.AsNum != 1 {
		t.Fatalf("dst.Get(a) = %v, %v", v, ok)
	}
}
