package storage

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return store
}

func TestLocalStorePutGetRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	meta := ObjectMeta{
		ContentType: "application/gzip",
		Digest:      "abc123",
		Truncated:   true,
		Metadata:    map[string]string{"package_name": "left-pad"},
	}
	if err := store.Put(ctx, NamespacePrimary, "pkgs/left-pad-1.0.0.tgz", []byte("payload"), meta); err != nil {
		t.Fatalf("Put: %v", err)
	}

	data, got, err := store.Get(ctx, NamespacePrimary, "pkgs/left-pad-1.0.0.tgz")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("data = %q", data)
	}
	if got.Key != "pkgs/left-pad-1.0.0.tgz" {
		t.Errorf("key = %q", got.Key)
	}
	if got.Namespace != NamespacePrimary {
		t.Errorf("namespace = %q", got.Namespace)
	}
	if got.Size != int64(len("payload")) {
		t.Errorf("size = %d", got.Size)
	}
	if got.ContentType != "application/gzip" || got.Digest != "abc123" || !got.Truncated {
		t.Errorf("side metadata lost: %+v", got)
	}
	if got.Metadata["package_name"] != "left-pad" {
		t.Errorf("custom metadata lost: %v", got.Metadata)
	}
	if got.StoredAt.IsZero() {
		t.Error("StoredAt must be populated")
	}
}

func TestLocalStoreNamespacesAreIsolated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, NamespaceQuarantine, "evil.tgz", []byte("x"), ObjectMeta{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, _, err := store.Get(ctx, NamespacePrimary, "evil.tgz"); err == nil {
		t.Error("quarantined object must not be readable from the primary namespace")
	}
	if _, _, err := store.Get(ctx, NamespaceQuarantine, "evil.tgz"); err != nil {
		t.Errorf("quarantine Get: %v", err)
	}
}

func TestLocalStoreList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"pkgs/b.tgz", "pkgs/a.tgz", "other/c.tgz"} {
		if err := store.Put(ctx, NamespacePrimary, key, []byte("x"), ObjectMeta{}); err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}

	all, err := store.List(ctx, NamespacePrimary, "", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	// Sorted by key.
	if all[0].Key != "other/c.tgz" || all[1].Key != "pkgs/a.tgz" || all[2].Key != "pkgs/b.tgz" {
		t.Errorf("order = %v", []string{all[0].Key, all[1].Key, all[2].Key})
	}

	scoped, err := store.List(ctx, NamespacePrimary, "pkgs/", 0)
	if err != nil {
		t.Fatalf("List prefix: %v", err)
	}
	if len(scoped) != 2 {
		t.Errorf("prefix len = %d, want 2", len(scoped))
	}

	capped, err := store.List(ctx, NamespacePrimary, "", 1)
	if err != nil {
		t.Fatalf("List capped: %v", err)
	}
	if len(capped) != 1 {
		t.Errorf("capped len = %d, want 1", len(capped))
	}
}

func TestLocalStoreDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, NamespacePrimary, "gone.tgz", []byte("x"), ObjectMeta{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete(ctx, NamespacePrimary, "gone.tgz"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := store.Get(ctx, NamespacePrimary, "gone.tgz"); err == nil {
		t.Error("deleted object must not be readable")
	}
	// Deleting a missing key is not an error.
	if err := store.Delete(ctx, NamespacePrimary, "gone.tgz"); err != nil {
		t.Errorf("second Delete: %v", err)
	}

	listed, err := store.List(ctx, NamespacePrimary, "", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 0 {
		t.Errorf("metadata side file survived deletion: %v", listed)
	}
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"", "..", "../outside.txt", "/etc/passwd"} {
		if err := store.Put(ctx, NamespacePrimary, key, []byte("x"), ObjectMeta{}); err == nil {
			t.Errorf("key %q must be rejected", key)
		}
	}
}

func TestLocalStoreOverwriteReplacesContent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, NamespacePrimary, "pkg.tgz", []byte("v1"), ObjectMeta{}); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	later := time.Now().UTC().Add(time.Minute)
	if err := store.Put(ctx, NamespacePrimary, "pkg.tgz", []byte("v2-longer"), ObjectMeta{StoredAt: later}); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	data, meta, err := store.Get(ctx, NamespacePrimary, "pkg.tgz")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "v2-longer" {
		t.Errorf("data = %q", data)
	}
	if meta.Size != int64(len("v2-longer")) {
		t.Errorf("size = %d", meta.Size)
	}
}
