package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"

	"media-pipeline/internal/convert"
	"media-pipeline/internal/database"
	"media-pipeline/internal/ingest"
	"media-pipeline/internal/reconcile"
	"media-pipeline/internal/registry"
	"media-pipeline/internal/stats"
	"media-pipeline/internal/storage"
	"media-pipeline/internal/transcode"
)

// passthroughEncoder returns a fixed smaller payload.
type passthroughEncoder struct{}

func (passthroughEncoder) Encode(src []byte, params convert.EncodeParams) ([]byte, string, string, error) {
	return []byte("webp"), "image/webp", ".webp", nil
}

// noopRunner completes every transcode with no outputs.
type noopRunner struct{}

func (noopRunner) Transcode(ctx context.Context, job *database.TranscodeJob, media *database.MediaRecord) (database.TranscodeOutputs, error) {
	return database.TranscodeOutputs{Codec: "h264"}, nil
}

func newTestRouter(t *testing.T) (*mux.Router, *database.Database) {
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

	reg := registry.New(d)
	transcoder := transcode.New(d, noopRunner{}, transcode.Config{})
	converter := convert.New(d, store, passthroughEncoder{}, convert.DefaultConfig())
	processor := ingest.NewProcessor(d, reg, store, transcoder, converter)
	reconciler := reconcile.New(d, store, 0, reconcile.DefaultOptions())
	reporter := stats.New(d)

	r := mux.NewRouter()
	New(d, processor, reg, transcoder, converter, reconciler, reporter).Register(r)
	return r, d
}

func multipartUpload(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("failed to create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("failed to write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func pngPayload(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 10, 10))); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestUploadRequiresIdentity(t *testing.T) {
	router, _ := newTestRouter(t)

	body, contentType := multipartUpload(t, "a.png", "image/png", pngPayload(t))
	req := httptest.NewRequest(http.MethodPost, "/api/media", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestUploadAndFetch(t *testing.T) {
	router, _ := newTestRouter(t)

	body, contentType := multipartUpload(t, "a.png", "image/png", pngPayload(t))
	req := httptest.NewRequest(http.MethodPost, "/api/media", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Owner-Id", "u1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.MediaID == "" || resp.Hash == "" {
		t.Errorf("incomplete response: %+v", resp)
	}
	if resp.Duplicate {
		t.Errorf("fresh upload reported duplicate")
	}
	if resp.TaskID == "" {
		t.Errorf("image upload did not queue a convert task")
	}

	// Owner can fetch it.
	get := httptest.NewRequest(http.MethodGet, "/api/media/"+resp.MediaID, nil)
	get.Header.Set("X-Owner-Id", "u1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, get)
	if rec.Code != http.StatusOK {
		t.Errorf("owner fetch status = %d", rec.Code)
	}

	// A stranger cannot.
	get = httptest.NewRequest(http.MethodGet, "/api/media/"+resp.MediaID, nil)
	get.Header.Set("X-Owner-Id", "u2")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, get)
	if rec.Code != http.StatusForbidden {
		t.Errorf("stranger fetch status = %d, want 403", rec.Code)
	}

	// An admin can.
	get = httptest.NewRequest(http.MethodGet, "/api/media/"+resp.MediaID, nil)
	get.Header.Set("X-Owner-Id", "ops")
	get.Header.Set("X-Admin", "true")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, get)
	if rec.Code != http.StatusOK {
		t.Errorf("admin fetch status = %d, want 200", rec.Code)
	}
}

func TestUploadDuplicateDetection(t *testing.T) {
	router, _ := newTestRouter(t)
	payload := pngPayload(t)

	upload := func(name string) UploadResponse {
		body, contentType := multipartUpload(t, name, "image/png", payload)
		req := httptest.NewRequest(http.MethodPost, "/api/media", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("X-Owner-Id", "u1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("upload status = %d", rec.Code)
		}
		var resp UploadResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		return resp
	}

	first := upload("a.png")
	second := upload("b.png")
	if !second.Duplicate {
		t.Errorf("identical bytes not detected as duplicate")
	}
	if second.URL != first.URL {
		t.Errorf("duplicate got different URL")
	}
	if second.Status != string(database.StatusCompleted) {
		t.Errorf("duplicate status = %s, want COMPLETED", second.Status)
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	router, _ := newTestRouter(t)

	body, contentType := multipartUpload(t, "doc.pdf", "application/pdf", []byte("%PDF-1.4"))
	req := httptest.NewRequest(http.MethodPost, "/api/media", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Owner-Id", "u1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var s stats.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if s.DedupFactor != 1.0 {
		t.Errorf("empty registry dedup factor = %f", s.DedupFactor)
	}
}

func TestReconcileRequiresAdmin(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/reconcile", nil)
	req.Header.Set("X-Owner-Id", "u1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-admin status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/admin/reconcile?dryRun=true", nil)
	req.Header.Set("X-Owner-Id", "ops")
	req.Header.Set("X-Admin", "true")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d", rec.Code)
	}

	var report reconcile.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if !report.DryRun {
		t.Errorf("dry run flag not honored")
	}
}

func TestSubmitConvertForExistingMedia(t *testing.T) {
	router, _ := newTestRouter(t)

	body, contentType := multipartUpload(t, "a.png", "image/png", pngPayload(t))
	req := httptest.NewRequest(http.MethodPost, "/api/media", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Owner-Id", "u1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d", rec.Code)
	}
	var resp UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	submit := httptest.NewRequest(http.MethodPost, "/api/convert",
		bytes.NewBufferString(fmt.Sprintf(`{"mediaId":%q}`, resp.MediaID)))
	submit.Header.Set("X-Owner-Id", "u1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, submit)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d, body %s", rec.Code, rec.Body.String())
	}

	var task database.ConvertTask
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("failed to decode task: %v", err)
	}
	if task.MediaID != resp.MediaID || task.Status != database.TaskPending {
		t.Errorf("unexpected task: %+v", task)
	}
}

func TestPurgeHashRequiresAdminAndZeroReferences(t *testing.T) {
	router, _ := newTestRouter(t)

	body, contentType := multipartUpload(t, "a.png", "image/png", pngPayload(t))
	req := httptest.NewRequest(http.MethodPost, "/api/media", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Owner-Id", "u1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d", rec.Code)
	}
	var resp UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	// Non-admin callers cannot purge.
	del := httptest.NewRequest(http.MethodDelete, "/api/admin/hashes/"+resp.Hash, nil)
	del.Header.Set("X-Owner-Id", "u1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, del)
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-admin purge status = %d, want 403", rec.Code)
	}

	// Referenced hashes cannot be purged even by admins.
	del = httptest.NewRequest(http.MethodDelete, "/api/admin/hashes/"+resp.Hash, nil)
	del.Header.Set("X-Owner-Id", "ops")
	del.Header.Set("X-Admin", "true")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, del)
	if rec.Code != http.StatusConflict {
		t.Errorf("referenced purge status = %d, want 409", rec.Code)
	}

	// Delete the media record, then purge succeeds.
	del = httptest.NewRequest(http.MethodDelete, "/api/media/"+resp.MediaID, nil)
	del.Header.Set("X-Owner-Id", "u1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, del)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("media delete status = %d", rec.Code)
	}

	del = httptest.NewRequest(http.MethodDelete, "/api/admin/hashes/"+resp.Hash, nil)
	del.Header.Set("X-Owner-Id", "ops")
	del.Header.Set("X-Admin", "true")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, del)
	if rec.Code != http.StatusNoContent {
		t.Errorf("unreferenced purge status = %d, want 204", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, path := range []string{"/healthz", "/readyz", "/api/version"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}
