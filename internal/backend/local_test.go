package backend

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	return l
}

func TestLocalPutGet(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	if err := l.Put(ctx, "sessions/abc/item.rec", []byte("data")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := l.Get(ctx, "sessions/abc/item.rec")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("data mismatch: %q", got)
	}

	if err := l.Put(ctx, "sessions/abc/item.rec", []byte("replaced")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	got, _ = l.Get(ctx, "sessions/abc/item.rec")
	if string(got) != "replaced" {
		t.Errorf("overwrite not visible: %q", got)
	}
}

func TestLocalGetMissing(t *testing.T) {
	l := newTestLocal(t)

	_, err := l.Get(context.Background(), "sessions/nope")
	if err != ErrNotExist {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestLocalDelete(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	if err := l.Put(ctx, "k", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := l.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := l.Get(ctx, "k"); err != ErrNotExist {
		t.Errorf("expected ErrNotExist after delete, got %v", err)
	}
	// Deleting again is not an error.
	if err := l.Delete(ctx, "k"); err != nil {
		t.Errorf("repeated delete should be a no-op: %v", err)
	}
}

func TestLocalDeletePrefix(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	for _, key := range []string{"sessions/a/1", "sessions/a/2", "sessions/b/1"} {
		if err := l.Put(ctx, key, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	if err := l.DeletePrefix(ctx, "sessions/a/"); err != nil {
		t.Fatalf("DeletePrefix failed: %v", err)
	}

	keys, err := l.List(ctx, "sessions/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "sessions/b/1" {
		t.Errorf("expected only sessions/b/1, got %v", keys)
	}
}

func TestLocalList(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	want := []string{"sessions/a/meta.json", "sessions/a/r1.rec", "sessions/b/r2.rec"}
	for _, key := range want {
		if err := l.Put(ctx, key, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Put(ctx, "other/ignored", []byte("x")); err != nil {
		t.Fatal(err)
	}

	keys, err := l.List(ctx, "sessions/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != len(want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key %d: expected %q, got %q", i, want[i], keys[i])
		}
	}
}

func TestLocalKeyEscapeRejected(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	if err := l.Put(ctx, "../outside", []byte("x")); err == nil {
		t.Error("expected a rejected write outside the root")
	}
	if _, err := l.Get(ctx, "../../etc/passwd"); err == nil {
		t.Error("expected a rejected read outside the root")
	}
}

func TestLocalAtomicWriteLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := l.Put(ctx, "sessions/a/item.rec", []byte("data")); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "sessions", "a"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}
