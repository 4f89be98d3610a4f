package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"hitscribe/internal/artifacts"
	"hitscribe/internal/jobs"
	"hitscribe/internal/logging"
	"hitscribe/internal/notation"
	"hitscribe/internal/services"
	"hitscribe/internal/textutil"
)

// Download formats.
const (
	FormatMusicXML = "musicxml"
	FormatPDF      = "pdf"
)

const (
	minTempo = 40
	maxTempo = 300
	// multipartMemory bounds how much of an upload is held in memory.
	multipartMemory = 8 << 20
)

var formatMediaTypes = map[string]string{
	FormatMusicXML: "application/vnd.recordare.musicxml+xml",
	FormatPDF:      "application/pdf",
}

// validationError is reported to the client verbatim with status 422.
type validationError struct{ msg string }

func (e validationError) Error() string { return e.msg }

func invalid(format string, args ...any) error {
	return validationError{msg: fmt.Sprintf(format, args...)}
}

type createRequest struct {
	title      string
	tempo      *int
	webhookURL string
	fetchURL   string
	filename   string
	ext        string
	data       []byte
}

func (h *handlers) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := h.parseCreate(w, r)
	if err != nil {
		var verr validationError
		if errors.As(err, &verr) {
			h.writeError(w, http.StatusUnprocessableEntity, verr.msg)
			return
		}
		h.logger.Error("parse job request", logging.Error(err))
		h.writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	user := userIdentifier(r)
	decision, err := h.admission.Allow(ctx, user)
	if err != nil {
		h.logger.Error("admission check failed", logging.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "admission check unavailable")
		return
	}
	if !decision.Allowed {
		h.logger.Info("job rejected by admission",
			logging.String(logging.FieldEventType, "admission_rejected"),
			logging.String("user", user),
			logging.Int("active", decision.Active),
			logging.Int("limit", decision.Limit),
		)
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds()))
		h.writeError(w, http.StatusTooManyRequests, fmt.Sprintf(
			"Too many active jobs (%d/%d). Please wait for existing jobs to complete.", decision.Active, decision.Limit))
		return
	}

	title := req.title
	if title == "" {
		title = h.defaultTitle()
	}
	job := &jobs.Job{
		ID:             uuid.NewString(),
		Title:          title,
		UserTempo:      req.tempo,
		WebhookURL:     req.webhookURL,
		UserIdentifier: user,
	}
	if req.fetchURL != "" {
		job.InputType = jobs.InputFetch
		job.FetchURL = req.fetchURL
	} else {
		job.InputType = jobs.InputUpload
		job.UploadFilename = req.filename
		loc, err := h.artifacts.Save(ctx, job.ID, artifacts.SourceFile(req.ext), req.data)
		if err != nil {
			h.logger.Error("store upload", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
			h.writeError(w, http.StatusInternalServerError, "failed to store upload")
			return
		}
		job.SourceFile = loc.Path()
	}

	if _, err := h.store.Create(ctx, job); err != nil {
		h.discard(ctx, job.ID)
		if errors.Is(err, jobs.ErrInvalidInput) {
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.logger.Error("create job", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if _, err := h.pipeline.Dispatch(ctx, job.ID); err != nil {
		logging.ErrorWithContext(h.logger, "dispatch failed; removing job", "dispatch_failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the task queue connection"),
		)
		if cerr := h.pipeline.Cancel(context.WithoutCancel(ctx), job.ID); cerr != nil {
			h.logger.Warn("cleanup after dispatch failure", logging.Error(cerr))
		}
		h.writeError(w, http.StatusServiceUnavailable, "job queue unavailable")
		return
	}

	h.logger.Info("job created",
		logging.String(logging.FieldEventType, "job_created"),
		logging.String(logging.FieldJobID, job.ID),
		logging.String("input_type", string(job.InputType)),
		logging.String("user", user),
	)
	h.writeJSON(w, http.StatusCreated, JobCreateResponse{ID: job.ID, Status: string(jobs.StatusQueued)})
}

func (h *handlers) discard(ctx context.Context, jobID string) {
	if _, err := h.artifacts.DeleteAll(context.WithoutCancel(ctx), jobID); err != nil {
		h.logger.Warn("discard upload", logging.String(logging.FieldJobID, jobID), logging.Error(err))
	}
}

// parseCreate validates the form. Validation problems are returned as
// validationError; anything else is a transport failure.
func (h *handlers) parseCreate(w http.ResponseWriter, r *http.Request) (createRequest, error) {
	maxBytes := h.cfg.MaxUploadBytes()
	tooLarge := invalid("File exceeds maximum size of %d MB.", h.cfg.API.MaxUploadMB)

	// Allow room for the other form fields and multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
	err := r.ParseMultipartForm(multipartMemory)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err != nil {
		if bodyTooLarge(err) {
			return createRequest{}, tooLarge
		}
		return createRequest{}, err
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	var req createRequest
	req.title = strings.TrimSpace(r.FormValue("title"))
	req.fetchURL = strings.TrimSpace(r.FormValue("youtube_url"))
	if req.fetchURL == "" {
		req.fetchURL = strings.TrimSpace(r.FormValue("fetch_url"))
	}

	var (
		file   multipart.File
		header *multipart.FileHeader
	)
	if r.MultipartForm != nil {
		file, header, err = r.FormFile("file")
		switch {
		case errors.Is(err, http.ErrMissingFile):
			file = nil
		case err != nil:
			return createRequest{}, err
		default:
			defer file.Close()
		}
	}

	if file == nil && req.fetchURL == "" {
		return createRequest{}, invalid("Must provide either a file upload or a youtube_url.")
	}
	if file != nil && req.fetchURL != "" {
		return createRequest{}, invalid("Provide either a file upload or a youtube_url, not both.")
	}

	if req.tempo, err = parseTempo(r); err != nil {
		return createRequest{}, err
	}
	if raw := strings.TrimSpace(r.FormValue("webhook_url")); raw != "" {
		if !isHTTPURL(raw) {
			return createRequest{}, invalid("webhook_url must be an http or https URL.")
		}
		req.webhookURL = raw
	}

	if req.fetchURL != "" {
		if !isHTTPURL(req.fetchURL) {
			return createRequest{}, invalid("youtube_url must be an http or https URL.")
		}
		return req, nil
	}

	req.filename = filepath.Base(header.Filename)
	req.ext = strings.ToLower(strings.TrimPrefix(filepath.Ext(req.filename), "."))
	if !slices.Contains(h.cfg.API.AllowedExtension, req.ext) {
		return createRequest{}, invalid("Unsupported file type '.%s'. Allowed: %s",
			req.ext, "."+strings.Join(h.cfg.API.AllowedExtension, ", ."))
	}
	if header.Size > maxBytes {
		return createRequest{}, tooLarge
	}
	if req.data, err = readUpload(file, maxBytes); err != nil {
		return createRequest{}, err
	}
	if len(req.data) == 0 {
		return createRequest{}, invalid("Uploaded file is empty.")
	}
	return req, nil
}

func (h *handlers) defaultTitle() string {
	if t := strings.TrimSpace(h.cfg.Pipeline.DefaultTitle); t != "" {
		return t
	}
	return "Untitled"
}

func bodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

func readUpload(file multipart.File, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, invalid("File exceeds maximum size of %d MB.", maxBytes>>20)
	}
	return data, nil
}

func parseTempo(r *http.Request) (*int, error) {
	raw := strings.TrimSpace(r.FormValue("tempo"))
	if raw == "" {
		raw = strings.TrimSpace(r.FormValue("bpm"))
	}
	if raw == "" {
		return nil, nil
	}
	tempo, err := strconv.Atoi(raw)
	if err != nil || tempo < minTempo || tempo > maxTempo {
		return nil, invalid("BPM must be between %d and %d.", minTempo, maxTempo)
	}
	return &tempo, nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// loadJob writes the 404 or 500 response itself and returns nil on failure.
func (h *handlers) loadJob(w http.ResponseWriter, r *http.Request) *jobs.Job {
	id := chi.URLParam(r, "jobID")
	job, err := h.store.Get(r.Context(), id)
	if errors.Is(err, jobs.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "Job not found")
		return nil
	}
	if err != nil {
		h.logger.Error("load job", logging.String(logging.FieldJobID, id), logging.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to load job")
		return nil
	}
	return job
}

func (h *handlers) requireCompleted(w http.ResponseWriter, job *jobs.Job) bool {
	if job.Status == jobs.StatusCompleted {
		return true
	}
	h.writeError(w, http.StatusConflict, "Job is not completed. Current status: "+string(job.Status))
	return false
}

func (h *handlers) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job := h.loadJob(w, r)
	if job == nil {
		return
	}
	h.writeJSON(w, http.StatusOK, FromJob(job))
}

func (h *handlers) handleGetResult(w http.ResponseWriter, r *http.Request) {
	job := h.loadJob(w, r)
	if job == nil || !h.requireCompleted(w, job) {
		return
	}

	var hits []notation.Hit
	data, err := h.artifacts.Read(r.Context(), h.artifacts.PathFor(job.ID, artifacts.HitsFile))
	switch {
	case errors.Is(err, services.ErrNotFound):
		logging.WarnWithContext(h.logger, "hit list missing for completed job", "hits_missing",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldImpact, "result served without hits"),
		)
	case err != nil:
		h.logger.Error("read hit list", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to read result")
		return
	default:
		list, err := notation.DecodeHitList(data)
		if err != nil {
			h.logger.Error("decode hit list", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
			h.writeError(w, http.StatusInternalServerError, "failed to read result")
			return
		}
		hits = list.Hits
	}

	summary := job.HitSummary
	if summary == nil {
		summary = notation.Summary(hits)
	}
	warnings := job.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	h.writeJSON(w, http.StatusOK, JobResultResponse{
		ID:              job.ID,
		DetectedTempo:   job.DetectedTempo,
		TempoUnreliable: job.TempoUnreliable,
		DurationSeconds: job.DurationSeconds,
		ConfidenceScore: job.ConfidenceScore,
		Warnings:        warnings,
		ComputeTimeMs:   job.ComputeTimeMs,
		ModelVersion:    job.ModelVersion,
		HitSummary:      summary,
		Hits:            hitData(hits),
		DownloadURLs:    DownloadURLs(job),
	})
}

func (h *handlers) handleDownload(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(chi.URLParam(r, "format"))
	mediaType, ok := formatMediaTypes[format]
	if !ok {
		h.writeError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("Invalid format. Must be one of: %s, %s", FormatMusicXML, FormatPDF))
		return
	}
	job := h.loadJob(w, r)
	if job == nil || !h.requireCompleted(w, job) {
		return
	}

	path := job.NotationPath
	if format == FormatPDF {
		path = job.SecondaryPath
	}
	notFound := fmt.Sprintf("%s file not found", format)
	if path == "" {
		h.writeError(w, http.StatusNotFound, notFound)
		return
	}
	data, err := h.artifacts.Read(r.Context(), artifacts.Locator(path))
	if errors.Is(err, services.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, notFound)
		return
	}
	if err != nil {
		h.logger.Error("read artifact", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to read artifact")
		return
	}

	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(job, h.cfg.Pipeline.DefaultTitle, format)))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func downloadName(job *jobs.Job, fallback, format string) string {
	title := textutil.SanitizeFileName(job.Title)
	if title == "" {
		title = textutil.SanitizeFileName(fallback)
	}
	if title == "" {
		title = job.ID
	}
	return title + "." + format
}

func (h *handlers) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	err := h.pipeline.Cancel(r.Context(), id)
	if errors.Is(err, jobs.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		h.logger.Error("delete job", logging.String(logging.FieldJobID, id), logging.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}
	h.writeJSON(w, http.StatusOK, JobDeleteResponse{ID: id, Message: "Job deleted successfully"})
}
