package reconcile

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"media-pipeline/internal/database"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/storage"
)

func newTestReconciler(t *testing.T) (*Reconciler, *database.Database, *storage.LocalStore) {
	t.Helper()
	d, err := database.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	store, err := storage.NewLocalStore(t.TempDir(), "/objects")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	return New(d, store, 0, DefaultOptions()), d, store
}

func putObject(t *testing.T, store *storage.LocalStore, key string, size int) string {
	t.Helper()
	payload := bytes.Repeat([]byte("x"), size)
	url, err := store.Put(context.Background(), key, bytes.NewReader(payload), int64(size), "application/octet-stream")
	if err != nil {
		t.Fatalf("store.Put %s failed: %v", key, err)
	}
	return url
}

func insertMediaForURL(t *testing.T, d *database.Database, id, url string) {
	t.Helper()
	ctx := context.Background()
	if _, err := d.RecordHashSeen(ctx, "hash-"+id, id+".jpg", "image/jpeg", 100, url); err != nil {
		t.Fatalf("RecordHashSeen failed: %v", err)
	}
	rec := &database.MediaRecord{
		ID: id, OwnerID: "owner-1", Filename: id + ".jpg", OriginalName: id + ".jpg",
		MimeType: "image/jpeg", ByteSize: 100, Hash: "hash-" + id,
		Kind: mediatypes.KindImage, URL: url,
		ProcessingStatus: database.StatusCompleted,
	}
	if err := d.InsertMedia(ctx, rec); err != nil {
		t.Fatalf("InsertMedia failed: %v", err)
	}
}

func TestDryRunReportsWithoutDeleting(t *testing.T) {
	r, d, store := newTestReconciler(t)
	ctx := context.Background()

	// 7 referenced objects, 3 orphans.
	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("m%d", i)
		url := putObject(t, store, id+".jpg", 100)
		insertMediaForURL(t, d, id, url)
	}
	orphans := []string{"orphan1.jpg", "orphan2.png", "orphan3.mp4"}
	for _, key := range orphans {
		putObject(t, store, key, 100)
	}

	report, err := r.Run(ctx, Options{DryRun: true, MinAge: 0})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Scanned != 10 {
		t.Errorf("scanned %d, want 10", report.Scanned)
	}
	if report.Orphans != 3 {
		t.Errorf("found %d orphans, want 3", report.Orphans)
	}
	if report.Deleted != 0 || report.BytesReclaimed != 0 {
		t.Errorf("dry run deleted objects: %+v", report)
	}

	for _, key := range orphans {
		if exists, _ := store.Exists(ctx, key); !exists {
			t.Errorf("dry run removed %s", key)
		}
	}
}

func TestLiveSweepDeletesOnlyOrphans(t *testing.T) {
	r, d, store := newTestReconciler(t)
	ctx := context.Background()

	kept := putObject(t, store, "kept.jpg", 100)
	insertMediaForURL(t, d, "m1", kept)
	putObject(t, store, "orphan.jpg", 250)

	report, err := r.Run(ctx, Options{MinAge: 0})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Deleted != 1 {
		t.Errorf("deleted %d, want 1", report.Deleted)
	}
	if report.BytesReclaimed != 250 {
		t.Errorf("reclaimed %d bytes, want 250", report.BytesReclaimed)
	}

	if exists, _ := store.Exists(ctx, "kept.jpg"); !exists {
		t.Errorf("referenced object deleted")
	}
	if exists, _ := store.Exists(ctx, "orphan.jpg"); exists {
		t.Errorf("orphan survived live sweep")
	}
}

func TestDerivedURLsShieldObjects(t *testing.T) {
	r, d, store := newTestReconciler(t)
	ctx := context.Background()

	original := putObject(t, store, "a.jpg", 100)
	thumbURL := putObject(t, store, "a-thumb.jpg", 10)

	if _, err := d.RecordHashSeen(ctx, "h1", "a.jpg", "image/jpeg", 100, original); err != nil {
		t.Fatalf("RecordHashSeen failed: %v", err)
	}
	rec := &database.MediaRecord{
		ID: "m1", OwnerID: "owner-1", Filename: "a.jpg", OriginalName: "a.jpg",
		MimeType: "image/jpeg", ByteSize: 100, Hash: "h1",
		Kind: mediatypes.KindImage, URL: original, ThumbnailURL: &thumbURL,
		ProcessingStatus: database.StatusCompleted,
	}
	if err := d.InsertMedia(ctx, rec); err != nil {
		t.Fatalf("InsertMedia failed: %v", err)
	}

	report, err := r.Run(ctx, Options{MinAge: 0})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Orphans != 0 {
		t.Errorf("derived object counted as orphan")
	}
	if exists, _ := store.Exists(ctx, "a-thumb.jpg"); !exists {
		t.Errorf("thumbnail deleted despite being referenced")
	}
}

func TestAgeGateProtectsYoungObjects(t *testing.T) {
	r, _, store := newTestReconciler(t)
	ctx := context.Background()

	// Freshly written orphan: may be an upload whose record has not
	// committed yet.
	putObject(t, store, "fresh-orphan.jpg", 100)

	report, err := r.Run(ctx, Options{MinAge: time.Hour})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Orphans != 0 || report.Deleted != 0 {
		t.Errorf("young object treated as orphan: %+v", report)
	}
	if exists, _ := store.Exists(ctx, "fresh-orphan.jpg"); !exists {
		t.Errorf("young object deleted")
	}
}

func TestSizeGateFlagsInsteadOfDeleting(t *testing.T) {
	r, _, store := newTestReconciler(t)
	ctx := context.Background()

	putObject(t, store, "huge-orphan.mp4", 5000)

	report, err := r.Run(ctx, Options{MinAge: 0, MaxSize: 1000})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Deleted != 0 {
		t.Errorf("size-gated object deleted")
	}
	if len(report.Flagged) != 1 || report.Flagged[0] != "huge-orphan.mp4" {
		t.Errorf("object not flagged: %v", report.Flagged)
	}
	if exists, _ := store.Exists(ctx, "huge-orphan.mp4"); !exists {
		t.Errorf("flagged object removed")
	}
}

func TestUnmanagedExtensionsAreNeverCandidates(t *testing.T) {
	r, _, store := newTestReconciler(t)
	ctx := context.Background()

	putObject(t, store, "notes.txt", 100)
	putObject(t, store, "backup.db", 100)

	report, err := r.Run(ctx, Options{MinAge: 0})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Orphans != 0 || report.Deleted != 0 {
		t.Errorf("unmanaged files treated as orphans: %+v", report)
	}
	for _, key := range []string{"notes.txt", "backup.db"} {
		if exists, _ := store.Exists(ctx, key); !exists {
			t.Errorf("unmanaged file %s deleted", key)
		}
	}
}
