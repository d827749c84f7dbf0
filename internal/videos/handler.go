package videos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-vod/backend/internal/models"
	"github.com/aura-vod/backend/pkg/response"
	"github.com/aura-vod/backend/pkg/storage"
)

// multipartOverhead is the slack allowed on top of the file size limit for form fields and boundaries.
const multipartOverhead = 1 << 20

// Presigner issues temporary download links for stored objects.
type Presigner interface {
	GeneratePresignedDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error)
	PresignExpire() time.Duration
}

// Handler handles video and HLS HTTP endpoints.
type Handler struct {
	svc       *Service
	objects   storage.ObjectStore
	presigner Presigner // optional
	baseURL   string
	maxBytes  int64
	logger    *zap.Logger
}

// NewHandler creates a videos handler. baseURL prefixes streaming URLs.
func NewHandler(svc *Service, objects storage.ObjectStore, baseURL string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		svc:      svc,
		objects:  objects,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: svc.maxBytes,
		logger:   logger,
	}
}

// SetPresigner enables GET /videos/:id/download-url.
func (h *Handler) SetPresigner(p Presigner) { h.presigner = p }

// Register mounts read routes on public and mutating routes on protected.
func (h *Handler) Register(public, protected gin.IRoutes) {
	public.GET("/videos", h.List)
	public.GET("/videos/:id", h.Get)
	public.GET("/hls/:id/:filename", h.ServeHLS)
	protected.POST("/videos", h.Create)
	protected.POST("/videos/:id", h.Update)
	protected.DELETE("/videos/:id", h.Delete)
	protected.GET("/videos/:id/download-url", h.DownloadURL)
}

// VideoView is the JSON representation of a video.
type VideoView struct {
	ID            uuid.UUID          `json:"id"`
	Title         string             `json:"title"`
	Description   string             `json:"description"`
	Status        models.VideoStatus `json:"status"`
	Renditions    []string           `json:"renditions"`
	FailureReason string             `json:"failure_reason,omitempty"`
	StreamingURL  string             `json:"streaming_url,omitempty"`
	SizeBytes     int64              `json:"size_bytes"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func (h *Handler) view(v *models.Video) VideoView {
	out := VideoView{
		ID:            v.ID,
		Title:         v.Title,
		Description:   v.Description,
		Status:        v.Status,
		Renditions:    v.Renditions,
		FailureReason: v.FailureReason,
		SizeBytes:     v.SizeBytes,
		CreatedAt:     v.CreatedAt,
		UpdatedAt:     v.UpdatedAt,
	}
	if out.Renditions == nil {
		out.Renditions = []string{}
	}
	if v.Status == models.VideoStatusReady {
		out.StreamingURL = h.baseURL + "/" + storage.MasterKey(v.ID)
	}
	return out
}

// ListView is one page of videos.
type ListView struct {
	Data        []VideoView `json:"data"`
	CurrentPage int         `json:"current_page"`
	LastPage    int         `json:"last_page"`
	PerPage     int         `json:"per_page"`
	Total       int         `json:"total"`
}

// List handles GET /videos?page=&per_page=.
func (h *Handler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))
	p, err := h.svc.List(c.Request.Context(), page, perPage)
	if err != nil {
		h.logger.Error("list videos failed", zap.Error(err))
		response.Internal(c, "failed to list videos")
		return
	}
	out := ListView{Data: make([]VideoView, 0, len(p.Data)), CurrentPage: p.CurrentPage, LastPage: p.LastPage, PerPage: p.PerPage, Total: p.Total}
	for i := range p.Data {
		out.Data = append(out.Data, h.view(&p.Data[i]))
	}
	response.OK(c, out)
}

// Get handles GET /videos/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	v, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "failed to load video")
		return
	}
	response.OK(c, h.view(v))
}

// Create handles POST /videos (multipart: file, title, description).
func (h *Handler) Create(c *gin.Context) {
	h.limitBody(c)
	up, closeFile, err := h.formUpload(c)
	if err != nil {
		h.fail(c, err, "failed to read upload")
		return
	}
	defer closeFile()

	v, err := h.svc.Create(c.Request.Context(), c.PostForm("title"), c.PostForm("description"), up)
	if err != nil {
		h.fail(c, err, "failed to create video")
		return
	}
	response.Accepted(c, gin.H{"id": v.ID, "status": v.Status})
}

type updateRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

// Update handles POST /videos/:id. Multipart requests may carry a replacement file; JSON requests only
// metadata. Omitted fields keep their value.
func (h *Handler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	v, err := h.svc.Get(ctx, id)
	if err != nil {
		h.fail(c, err, "failed to load video")
		return
	}

	title, description := v.Title, v.Description
	var up *Upload
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		h.limitBody(c)
		if t, ok := c.GetPostForm("title"); ok {
			title = t
		}
		if d, ok := c.GetPostForm("description"); ok {
			description = d
		}
		var closeFile func()
		up, closeFile, err = h.formUpload(c)
		if err != nil {
			h.fail(c, err, "failed to read upload")
			return
		}
		defer closeFile()
	} else {
		var req updateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body")
			return
		}
		if req.Title != nil {
			title = *req.Title
		}
		if req.Description != nil {
			description = *req.Description
		}
	}

	if title != v.Title || description != v.Description {
		if v, err = h.svc.UpdateMetadata(ctx, id, title, description); err != nil {
			h.fail(c, err, "failed to update video")
			return
		}
	}
	if up != nil {
		if v, err = h.svc.Replace(ctx, id, up); err != nil {
			h.fail(c, err, "failed to replace video file")
			return
		}
		response.Accepted(c, h.view(v))
		return
	}
	response.OK(c, h.view(v))
}

// Delete handles DELETE /videos/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err, "failed to delete video")
		return
	}
	response.NoContent(c)
}

// DownloadURL handles GET /videos/:id/download-url. Returns a presigned URL of the original upload.
func (h *Handler) DownloadURL(c *gin.Context) {
	if h.presigner == nil {
		response.ServiceUnavailable(c, "downloads not configured")
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}
	v, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "failed to load video")
		return
	}
	expire := h.presigner.PresignExpire()
	url, err := h.presigner.GeneratePresignedDownloadURL(c.Request.Context(), v.OriginalPath, expire)
	if err != nil {
		h.logger.Error("presign original download failed", zap.Error(err), zap.String("video_id", id.String()))
		response.Internal(c, "failed to generate download URL")
		return
	}
	response.OK(c, gin.H{"download_url": url, "expires_in": int(expire.Seconds())})
}

// ServeHLS handles GET /hls/:id/:filename. Serves playlists and segments from the object store, honoring a
// single byte range.
func (h *Handler) ServeHLS(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	name := c.Param("filename")
	if err != nil || !storage.IsHLSFilename(name) {
		response.NotFound(c, "not found")
		return
	}
	key := storage.HLSKey(id, name)

	offset, length, ranged := parseRange(c.GetHeader("Range"))
	var (
		body io.ReadCloser
		info storage.ObjectInfo
	)
	if ranged {
		body, info, err = h.objects.GetRange(c.Request.Context(), key, offset, length)
	} else {
		body, info, err = h.objects.Get(c.Request.Context(), key)
	}
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			response.NotFound(c, "not found")
		case errors.Is(err, storage.ErrInvalidRange):
			response.RangeNotSatisfiable(c, "range not satisfiable")
		default:
			h.logger.Error("hls fetch failed", zap.String("key", key), zap.Error(err))
			response.Internal(c, "failed to fetch object")
		}
		return
	}
	defer body.Close()

	headers := map[string]string{
		"Accept-Ranges": "bytes",
		"Cache-Control": "no-cache",
	}
	if storage.ContentTypeForKey(key) == storage.ContentTypeSegment {
		headers["Cache-Control"] = "public, max-age=300"
	}
	status := http.StatusOK
	if ranged {
		status = http.StatusPartialContent
		headers["Content-Range"] = fmt.Sprintf("bytes %d-%d/%d", info.Offset, info.Offset+info.Size-1, info.TotalSize)
	}
	c.DataFromReader(status, info.Size, storage.ContentTypeForKey(key), body, headers)
}

// parseRange accepts a single "bytes=start-" or "bytes=start-end" range. Anything else is ignored and the
// whole object is served.
func parseRange(header string) (offset, length int64, ok bool) {
	rng, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found || strings.Contains(rng, ",") {
		return 0, 0, false
	}
	startStr, endStr, found := strings.Cut(rng, "-")
	if !found || startStr == "" {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false
	}
	if endStr == "" {
		return start, 0, true
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return 0, 0, false
	}
	return start, end - start + 1, true
}

func (h *Handler) limitBody(c *gin.Context) {
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)
	}
}

// formUpload opens the "file" form field. A missing file yields a nil upload.
func (h *Handler) formUpload(c *gin.Context) (*Upload, func(), error) {
	noop := func() {}
	fh, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, noop, nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, noop, &ValidationError{Field: "file", Message: fmt.Sprintf("must be at most %d bytes", h.maxBytes)}
		}
		if errors.Is(err, multipart.ErrMessageTooLarge) {
			return nil, noop, &ValidationError{Field: "file", Message: "form too large"}
		}
		return nil, noop, &ValidationError{Field: "file", Message: "invalid multipart form"}
	}
	f, err := fh.Open()
	if err != nil {
		return nil, noop, fmt.Errorf("open upload: %w", err)
	}
	return &Upload{Body: f, Size: fh.Size}, func() { _ = f.Close() }, nil
}

// fail maps service errors to responses.
func (h *Handler) fail(c *gin.Context, err error, msg string) {
	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		response.BadRequest(c, vErr.Error())
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "video not found")
	case errors.Is(err, ErrConflict):
		response.Conflict(c, "video was modified concurrently, retry")
	default:
		h.logger.Error(msg, zap.Error(err), zap.String("path", c.FullPath()))
		response.Internal(c, msg)
	}
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid video id")
		return uuid.Nil, false
	}
	return id, true
}
