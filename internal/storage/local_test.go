package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir(), "/objects")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	return store
}

func TestLocalStorePutGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	data := []byte("hello object store")
	url, err := store.Put(ctx, "media/abc.jpg", bytes.NewReader(data), int64(len(data)), "image/jpeg")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if url != "/objects/media/abc.jpg" {
		t.Errorf("Put returned URL %q, want /objects/media/abc.jpg", url)
	}

	rc, err := store.Get(ctx, "media/abc.jpg")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get returned %q, want %q", got, data)
	}
}

func TestLocalStoreGetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "media/missing.jpg")
	if err != ErrNotExist {
		t.Errorf("Get of missing object = %v, want ErrNotExist", err)
	}
}

func TestLocalStoreExists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Put(ctx, "media/x.png", strings.NewReader("x"), 1, "image/png"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err := store.Exists(ctx, "media/x.png")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("Exists = false for stored object")
	}

	exists, err = store.Exists(ctx, "media/y.png")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("Exists = true for missing object")
	}
}

func TestLocalStoreDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Put(ctx, "media/gone.gif", strings.NewReader("gif"), 3, "image/gif"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Delete(ctx, "media/gone.gif"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if exists, _ := store.Exists(ctx, "media/gone.gif"); exists {
		t.Error("object still exists after Delete")
	}

	// Deleting a missing object is not an error
	if err := store.Delete(ctx, "media/gone.gif"); err != nil {
		t.Errorf("Delete of missing object = %v, want nil", err)
	}
}

func TestLocalStoreList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	keys := []string{"media/a.jpg", "media/sub/b.mp4", "thumbs/c.jpg"}
	for _, k := range keys {
		if _, err := store.Put(ctx, k, strings.NewReader("data"), 4, ""); err != nil {
			t.Fatalf("Put(%s) failed: %v", k, err)
		}
	}

	objects, err := store.List(ctx, "media")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(objects) != 2 {
		t.Fatalf("List(media) returned %d objects, want 2", len(objects))
	}
	for _, obj := range objects {
		if obj.Size != 4 {
			t.Errorf("object %s has size %d, want 4", obj.Key, obj.Size)
		}
		if time.Since(obj.ModTime) > time.Minute {
			t.Errorf("object %s has stale mod time %v", obj.Key, obj.ModTime)
		}
	}

	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("List(all) failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List(all) returned %d objects, want 3", len(all))
	}
}

func TestLocalStoreKeyFromURL(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		url     string
		wantKey string
		wantOK  bool
	}{
		{"/objects/media/a.jpg", "media/a.jpg", true},
		{"/objects/thumbs/x/y.jpg", "thumbs/x/y.jpg", true},
		{"/other/media/a.jpg", "", false},
		{"https://cdn.example.com/media/a.jpg", "", false},
	}

	for _, tt := range tests {
		key, ok := store.KeyFromURL(tt.url)
		if ok != tt.wantOK || key != tt.wantKey {
			t.Errorf("KeyFromURL(%q) = (%q, %v), want (%q, %v)", tt.url, key, ok, tt.wantKey, tt.wantOK)
		}
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Put(context.Background(), "../escape.txt", strings.NewReader("x"), 1, "")
	if err == nil {
		t.Error("Put with traversal key succeeded, want error")
	}
}
