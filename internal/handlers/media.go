package handlers

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"media-pipeline/internal/ingest"
)

// maxMultipartMemory bounds how much of an upload stays in memory before
// spilling to disk during multipart parsing.
const maxMultipartMemory = 32 << 20

// UploadResponse is the ingestion result returned to the client.
type UploadResponse struct {
	MediaID   string `json:"mediaId"`
	URL       string `json:"url"`
	Hash      string `json:"hash"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
	JobID     string `json:"jobId,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
}

// Upload ingests one multipart upload. Form fields: file (required),
// tags, parentId.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeJSONError(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, "failed to read upload", http.StatusBadRequest)
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	params := ingest.UploadParams{
		OriginalName: header.Filename,
		MimeType:     mimeType,
		Data:         data,
		Tags:         r.FormValue("tags"),
	}
	if parentID := r.FormValue("parentId"); parentID != "" {
		params.ParentID = &parentID
	}

	result, err := h.processor.Process(r.Context(), caller, params)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := UploadResponse{
		MediaID:   result.Media.ID,
		URL:       result.Media.URL,
		Hash:      result.Media.Hash,
		Kind:      string(result.Media.Kind),
		Status:    string(result.Media.ProcessingStatus),
		Duplicate: result.Duplicate,
	}
	if result.Job != nil {
		resp.JobID = result.Job.JobID
	}
	if result.Task != nil {
		resp.TaskID = result.Task.ID
	}

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, resp)
}

// GetMedia returns one media record.
func (h *Handlers) GetMedia(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	media, err := h.db.GetMedia(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !caller.CanAccess(media.OwnerID) {
		writeJSONError(w, "forbidden", http.StatusForbidden)
		return
	}
	writeJSON(w, media)
}

// DeleteMedia removes a media record and, when unreferenced, its objects.
func (h *Handlers) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	if err := h.processor.Delete(r.Context(), caller, mux.Vars(r)["id"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
