// Package httpapi exposes MCQ jobs over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-mcq/internal/jobs"
)

const (
	maxBodyBytes       = 1 << 20
	streamWriteTimeout = 10 * time.Second
	readyTimeout       = 3 * time.Second

	contentTypeCSV  = "text/csv; charset=utf-8"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Jobs is the job service the handlers call.
type Jobs interface {
	Submit(ctx context.Context, p jobs.Payload) (jobs.View, error)
	Status(ctx context.Context, id string) (jobs.View, error)
	Result(id string) ([]byte, string, error)
	ResultXLSX(id string) ([]byte, string, error)
	Subscribe(id string) (<-chan jobs.View, func(), error)
}

// Check is a named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Handler serves the job API.
type Handler struct {
	jobs    Jobs
	retrier jobs.Retrier
	checks  []Check
}

// New creates a Handler.
func New(j Jobs, r jobs.Retrier, checks ...Check) *Handler {
	return &Handler{jobs: j, retrier: r, checks: checks}
}

// Routes returns the HTTP router.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", h.handleReadyz)

	mux.HandleFunc("POST /api/mcq-jobs", h.handleCreate)
	mux.HandleFunc("GET /api/mcq-jobs/{id}", h.handleStatus)
	mux.HandleFunc("GET /api/mcq-jobs/{id}/result", h.handleResult)
	mux.HandleFunc("GET /api/mcq-jobs/{id}/result.xlsx", h.handleResultXLSX)
	mux.HandleFunc("POST /api/mcq-jobs/{id}/retry-validation", h.handleRetry(h.retrier.RetryValidation))
	mux.HandleFunc("POST /api/mcq-jobs/{id}/retry-persistence", h.handleRetry(h.retrier.RetryPersistence))
	mux.HandleFunc("GET /api/mcq-jobs/{id}/stream", h.handleStream)
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	for _, c := range h.checks {
		if err := c.Fn(ctx); err != nil {
			slog.Warn("readiness check failed", "check", c.Name, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  fmt.Sprintf("%s: %v", c.Name, err),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createRequest struct {
	ChapterNumber   int                 `json:"chapterNumber"`
	ChapterTitle    string              `json:"chapterTitle"`
	Topics          []jobs.TopicSummary `json:"topics"`
	VectorStoreID   string              `json:"vectorStoreId"`
	SourceRef       string              `json:"sourceRef"`
	ClassLevel      string              `json:"classLevel"`
	Subject         jobs.Ref            `json:"subject"`
	Syllabus        jobs.Ref            `json:"syllabus"`
	BookFingerprint string              `json:"bookFingerprint"`
}

func (c createRequest) payload() jobs.Payload {
	source := c.VectorStoreID
	if source == "" {
		source = c.SourceRef
	}
	return jobs.Payload{
		ChapterNumber:   c.ChapterNumber,
		ChapterTitle:    c.ChapterTitle,
		ClassLevel:      c.ClassLevel,
		Subject:         c.Subject,
		Syllabus:        c.Syllabus,
		Topics:          c.Topics,
		SourceRef:       source,
		BookFingerprint: c.BookFingerprint,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(fmt.Sprintf("invalid request body: %v", err)))
		return
	}

	v, err := h.jobs.Submit(r.Context(), req.payload())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": v.JobID})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	v, err := h.jobs.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	data, name, err := h.jobs.Result(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeAttachment(w, contentTypeCSV, name, data)
}

func (h *Handler) handleResultXLSX(w http.ResponseWriter, r *http.Request) {
	data, name, err := h.jobs.ResultXLSX(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeAttachment(w, contentTypeXLSX, name, data)
}

type retryResponse struct {
	JobID                 string      `json:"jobId"`
	Status                jobs.Status `json:"status"`
	Error                 string      `json:"error"`
	AllowValidationRetry  bool        `json:"allowValidationRetry"`
	AllowPersistenceRetry bool        `json:"allowPersistenceRetry"`
}

func (h *Handler) handleRetry(retry func(context.Context, string) (jobs.View, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := retry(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, retryResponse{
			JobID:                 v.JobID,
			Status:                v.Status,
			Error:                 v.Error,
			AllowValidationRetry:  v.AllowValidationRetry,
			AllowPersistenceRetry: v.AllowPersistenceRetry,
		})
	}
}

// handleStream pushes the status document on every update and closes once
// the job reaches a terminal status.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	updates, cancel, err := h.jobs.Subscribe(id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "job_id", id, "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "stream closed")
				return
			}
			writeCtx, done := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(writeCtx, conn, v)
			done()
			if err != nil {
				slog.Debug("websocket write failed", "job_id", id, "error", err)
				return
			}
			if v.Status.Terminal() {
				conn.Close(websocket.StatusNormalClosure, string(v.Status))
				return
			}
		}
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrInvalidPayload), errors.Is(err, jobs.ErrNoSnapshot):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrRetryNotAllowed), errors.Is(err, jobs.ErrNotReady), errors.Is(err, jobs.ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorBody(err.Error()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response failed", "error", err)
	}
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
