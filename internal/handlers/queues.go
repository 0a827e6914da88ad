package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"media-pipeline/internal/transcode"
)

// TranscodeRequest is the submission body for a transcode job.
type TranscodeRequest struct {
	MediaID          string   `json:"mediaId"`
	Priority         int      `json:"priority"`
	TargetFormats    []string `json:"targetFormats"`
	ExtractThumbnail bool     `json:"extractThumbnail"`
	ThumbnailCount   int      `json:"thumbnailCount"`
}

// SubmitTranscode queues a video transcode job.
func (h *Handlers) SubmitTranscode(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req TranscodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MediaID == "" {
		writeJSONError(w, "mediaId is required", http.StatusBadRequest)
		return
	}

	job, err := h.transcoder.Submit(r.Context(), caller, transcode.SubmitParams{
		MediaID:          req.MediaID,
		Priority:         req.Priority,
		TargetFormats:    req.TargetFormats,
		ExtractThumbnail: req.ExtractThumbnail,
		ThumbnailCount:   req.ThumbnailCount,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, job)
}

// TranscodeStatus returns one job.
func (h *Handlers) TranscodeStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	job, err := h.transcoder.GetStatus(r.Context(), caller, mux.Vars(r)["jobId"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, job)
}

// CancelTranscode aborts a job.
func (h *Handlers) CancelTranscode(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	if err := h.transcoder.Cancel(r.Context(), caller, mux.Vars(r)["jobId"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConvertRequest is the submission body for an image re-encode task.
type ConvertRequest struct {
	MediaID string `json:"mediaId"`
}

// SubmitConvert queues a re-encode task for an already-ingested image.
func (h *Handlers) SubmitConvert(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MediaID == "" {
		writeJSONError(w, "mediaId is required", http.StatusBadRequest)
		return
	}

	media, err := h.db.GetMedia(r.Context(), req.MediaID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !caller.CanAccess(media.OwnerID) {
		writeJSONError(w, "forbidden", http.StatusForbidden)
		return
	}

	task, err := h.converter.Enqueue(r.Context(), media)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, task)
}

// ConvertStatus returns one re-encode task.
func (h *Handlers) ConvertStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCaller(w, r); !ok {
		return
	}

	task, err := h.converter.GetStatus(r.Context(), mux.Vars(r)["taskId"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, task)
}

// CancelConvert aborts a pending re-encode task.
func (h *Handlers) CancelConvert(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	if err := h.converter.Cancel(r.Context(), caller, mux.Vars(r)["taskId"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
