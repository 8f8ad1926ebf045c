package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"photoyarn/internal/ratelimit"
	"photoyarn/internal/util"
	"photoyarn/pkg/archive"
	"photoyarn/pkg/artifact"
	"photoyarn/pkg/domain"
	"photoyarn/pkg/storage"
	"photoyarn/pkg/story"
	"photoyarn/services/story/internal/app"
)

const (
	defaultMaxUploadBytes = 500 << 20
	multipartMemory       = 32 << 20
)

type storyApp interface {
	CreateStory(ctx context.Context, req app.Request) (app.Result, error)
	GetStory(ctx context.Context, id string) (domain.StoryArtifact, error)
	OpenImage(ctx context.Context, id, name string) (storage.Object, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App storyApp

	// UploadLimiter gates POST /upload per client IP. Nil disables the quota.
	UploadLimiter      ratelimit.Limiter
	TrustedProxies     []string
	MaxUploadBytes     int64
	CORSAllowedOrigins []string
}

// Server exposes HTTP endpoints for the story service.
type Server struct {
	app            storyApp
	limiter        ratelimit.Limiter
	trusted        *util.TrustedProxies
	mux            *http.ServeMux
	maxUploadBytes int64
	corsOrigins    []string
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("story app required")
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	s := &Server{
		app:            cfg.App,
		limiter:        cfg.UploadLimiter,
		trusted:        trusted,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
		corsOrigins:    cfg.CORSAllowedOrigins,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithMetrics(util.WithSecurityHeaders(util.WithCORS(s.corsOrigins, s.mux)))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/upload", s.handleUpload)
	s.mux.HandleFunc("/stories/", s.handleStoryByID)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type uploadResponse struct {
	Success bool                  `json:"success"`
	StoryID string                `json:"story_id"`
	Story   string                `json:"story"`
	Slides  []domain.Slide        `json:"slides"`
	Images  []domain.ImageSummary `json:"images"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowUpload(w, r) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := make([]*multipart.FileHeader, 0, len(r.MultipartForm.File["files"]))
	for _, fh := range r.MultipartForm.File["files"] {
		if strings.TrimSpace(fh.Filename) != "" {
			headers = append(headers, fh)
		}
	}
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	uploads := make([]archive.Upload, 0, len(headers))
	defer func() {
		for _, up := range uploads {
			if c, ok := up.Reader.(io.Closer); ok {
				_ = c.Close()
			}
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid form data")
			return
		}
		uploads = append(uploads, archive.Upload{Name: fh.Filename, Reader: f})
	}

	req := app.Request{
		Uploads: uploads,
		Options: story.Options{
			Guidance: strings.TrimSpace(r.FormValue("story_prompt")),
			MaxWords: story.ParseMaxWords(r.FormValue("max_words")),
			MaxBeats: story.ParseMaxBeats(r.FormValue("max_beats")),
			APIKey:   strings.TrimSpace(r.FormValue("api_key")),
		},
	}
	res, err := s.app.CreateStory(r.Context(), req)
	if err != nil {
		s.writeStoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		Success: true,
		StoryID: res.StoryID,
		Story:   res.Story,
		Slides:  res.Slides,
		Images:  res.Images,
	})
}

func (s *Server) writeStoryError(w http.ResponseWriter, r *http.Request, err error) {
	logger := util.LoggerFromContext(r.Context())
	switch {
	case errors.Is(err, archive.ErrNoImagesFound):
		writeError(w, http.StatusBadRequest, "no images found in upload")
	case errors.Is(err, archive.ErrInvalidArchive):
		logger.Warn("invalid archive upload", "err", err)
		writeError(w, http.StatusBadRequest, "invalid archive")
	case errors.Is(err, archive.ErrTooManyImages):
		writeError(w, http.StatusBadRequest, "too many images in upload")
	case errors.Is(err, app.ErrNoValidImages):
		writeError(w, http.StatusBadRequest, "no valid images could be processed")
	case errors.Is(err, app.ErrStoryGeneration):
		logger.Error("story generation failed", "err", err)
		writeError(w, http.StatusInternalServerError, "story generation failed")
	default:
		logger.Error("story request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// allowUpload applies the per-IP daily quota. The limiter fails closed.
func (s *Server) allowUpload(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	ip := util.ClientIP(r, s.trusted)
	decision, err := s.limiter.Allow(r.Context(), "upload|"+util.QuotaKey(ip))
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("upload quota check failed", "ip", ip, "err", err)
		writeError(w, http.StatusInternalServerError, "rate limit check failed")
		return false
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	if decision.Allowed {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision.ResetAt)))
	util.LoggerFromContext(r.Context()).Warn("upload quota exceeded", "ip", ip, "reset_at", decision.ResetAt)
	writeError(w, http.StatusTooManyRequests, "daily upload limit exceeded")
	return false
}

func retryAfterSeconds(resetAt time.Time) int {
	secs := int(math.Ceil(time.Until(resetAt).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// /stories/{id} or /stories/{id}/images/{name}
func (s *Server) handleStoryByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/stories/")
	parts := strings.SplitN(path, "/", 3)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	switch {
	case len(parts) == 1:
		s.handleGetStory(w, r, id)
	case len(parts) == 3 && parts[1] == "images" && parts[2] != "":
		s.handleGetImage(w, r, id, parts[2])
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleGetStory(w http.ResponseWriter, r *http.Request, id string) {
	record, err := s.app.GetStory(r.Context(), id)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			notFound(w, "story not found")
			return
		}
		util.LoggerFromContext(r.Context()).Error("story lookup failed", "story_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request, id, name string) {
	obj, err := s.app.OpenImage(r.Context(), id, name)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) || errors.Is(err, artifact.ErrInvalidName) {
			notFound(w, "image not found")
			return
		}
		util.LoggerFromContext(r.Context()).Error("image lookup failed", "story_id", id, "image", name, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer obj.Body.Close()
	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, obj.Body); err != nil {
		util.LoggerFromContext(r.Context()).Warn("image stream interrupted", "story_id", id, "image", name, "err", err)
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForStory(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForStory(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "no files uploaded":
		return "STORY_NO_FILES"
	case message == "no images found in upload", message == "no valid images could be processed":
		return "STORY_NO_IMAGES"
	case message == "invalid archive":
		return "STORY_INVALID_ARCHIVE"
	case message == "too many images in upload":
		return "STORY_TOO_MANY_IMAGES"
	case message == "upload too large":
		return "STORY_UPLOAD_TOO_LARGE"
	case message == "invalid form data":
		return "STORY_INVALID_UPLOAD_FORM"
	case message == "story generation failed":
		return "STORY_GENERATION_FAILED"
	case message == "story not found", message == "image not found":
		return "STORY_NOT_FOUND"
	case message == "daily upload limit exceeded":
		return "SYSTEM_RATE_LIMITED"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "STORY_INVALID_REQUEST"
	case http.StatusNotFound:
		return "STORY_NOT_FOUND"
	case http.StatusTooManyRequests:
		return "SYSTEM_RATE_LIMITED"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
