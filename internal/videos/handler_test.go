package videos_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-vod/backend/internal/models"
	"github.com/aura-vod/backend/internal/testsupport"
	"github.com/aura-vod/backend/internal/videos"
	"github.com/aura-vod/backend/pkg/queue"
	"github.com/aura-vod/backend/pkg/storage"
)

var (
	mp4Bytes = append([]byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2"), bytes.Repeat([]byte{0}, 256)...)
	movBytes = append([]byte("\x00\x00\x00\x14ftypqt  \x00\x00\x00\x00qt  "), bytes.Repeat([]byte{0}, 256)...)
)

type stubEnqueuer struct {
	mu   sync.Mutex
	jobs []queue.TranscodePayload
}

func (s *stubEnqueuer) EnqueueTranscode(_ context.Context, p queue.TranscodePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, p)
	return nil
}

type stubPresigner struct{ key string }

func (s *stubPresigner) PresignExpire() time.Duration { return 15 * time.Minute }

func (s *stubPresigner) GeneratePresignedDownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	s.key = key
	return "https://bucket.example.com/" + key + "?sig=x", nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type fixture struct {
	router  *gin.Engine
	records *testsupport.VideoStore
	objects *testsupport.ObjectStore
	jobs    *stubEnqueuer
}

func newFixture(t *testing.T, maxBytes int64) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{
		records: testsupport.NewVideoStore(),
		objects: testsupport.NewObjectStore(),
		jobs:    &stubEnqueuer{},
	}
	svc := videos.NewService(f.records, f.objects, f.jobs, maxBytes, nil)
	h := videos.NewHandler(svc, f.objects, "https://vod.example.com/", nil)
	f.router = gin.New()
	h.Register(f.router, f.router)
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func multipartRequest(t *testing.T, method, url string, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "upload.bin")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	if into != nil {
		require.NoError(t, json.Unmarshal(env.Data, into))
	}
	return env
}

// seedReady stores a video that already went through the pipeline.
func (f *fixture) seedReady(t *testing.T) *models.Video {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	key := storage.OriginalKey(id, "mp4")
	f.objects.Seed(key, "video/mp4", mp4Bytes)
	v := models.NewVideo(id, "launch", "keynote", models.SourceFile{Path: key, SizeBytes: int64(len(mp4Bytes)), ContentType: "video/mp4"})
	require.NoError(t, f.records.Create(ctx, v))
	require.NoError(t, v.StartProcessing())
	require.NoError(t, v.Complete(storage.MasterKey(id), []string{"1080p", "720p", "480p"}))
	require.NoError(t, f.records.UpdateState(ctx, v, v.Version))
	f.objects.Seed(storage.MasterKey(id), storage.ContentTypePlaylist, []byte("#EXTM3U\n"))
	f.objects.Seed(storage.HLSKey(id, "720p_000.ts"), storage.ContentTypeSegment, []byte("0123456789"))
	return v
}

func TestCreateVideo(t *testing.T) {
	f := newFixture(t, 0)
	w := f.do(multipartRequest(t, http.MethodPost, "/videos", map[string]string{"title": " Demo ", "description": "first"}, mp4Bytes))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var out struct {
		ID     uuid.UUID          `json:"id"`
		Status models.VideoStatus `json:"status"`
	}
	decode(t, w, &out)
	assert.Equal(t, models.VideoStatusQueued, out.Status)

	v, err := f.records.GetByID(context.Background(), out.ID)
	require.NoError(t, err)
	assert.Equal(t, "Demo", v.Title)
	assert.Equal(t, storage.OriginalKey(out.ID, "mp4"), v.OriginalPath)
	assert.Equal(t, int64(len(mp4Bytes)), v.SizeBytes)
	assert.Equal(t, mp4Bytes, f.objects.Bytes(v.OriginalPath))
	assert.Equal(t, "video/mp4", f.objects.ContentType(v.OriginalPath))
	assert.Equal(t, []queue.TranscodePayload{{VideoID: out.ID, Version: 1}}, f.jobs.jobs)
}

func TestCreateVideoValidation(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]string
		file     []byte
		maxBytes int64
		want     string
	}{
		{name: "missing file", want: "file: is required"},
		{name: "not a video", file: []byte("hello, plain text"), want: "file: must be an mp4, mov or mkv video"},
		{name: "title too long", fields: map[string]string{"title": strings.Repeat("é", 151)}, file: mp4Bytes, want: "title"},
		{name: "description too long", fields: map[string]string{"description": strings.Repeat("a", 1001)}, file: mp4Bytes, want: "description"},
		{name: "too large", file: mp4Bytes, maxBytes: 64, want: "file: must be at most 64 bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.maxBytes)
			w := f.do(multipartRequest(t, http.MethodPost, "/videos", tt.fields, tt.file))
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			env := decode(t, w, nil)
			assert.False(t, env.Success)
			assert.Contains(t, env.Error, tt.want)
			assert.Empty(t, f.objects.Puts())
			assert.Empty(t, f.jobs.jobs)
		})
	}
}

func TestTitleLimitCountsCharacters(t *testing.T) {
	assert.NoError(t, videos.ValidateMetadata(strings.Repeat("é", 150), strings.Repeat("ü", 1000)))
	assert.ErrorIs(t, videos.ValidateMetadata(strings.Repeat("x", 151), ""), videos.ErrValidation)
}

func TestGetVideo(t *testing.T) {
	f := newFixture(t, 0)
	ready := f.seedReady(t)

	var view videos.VideoView
	w := f.do(httptest.NewRequest(http.MethodGet, "/videos/"+ready.ID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &view)
	assert.Equal(t, models.VideoStatusReady, view.Status)
	assert.Equal(t, []string{"1080p", "720p", "480p"}, view.Renditions)
	assert.Equal(t, "https://vod.example.com/hls/"+ready.ID.String()+"/master.m3u8", view.StreamingURL)

	queued := models.NewVideo(uuid.New(), "", "", models.SourceFile{Path: "originals/x/source.mp4"})
	require.NoError(t, f.records.Create(context.Background(), queued))
	w = f.do(httptest.NewRequest(http.MethodGet, "/videos/"+queued.ID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"renditions":[]`)
	assert.NotContains(t, w.Body.String(), "streaming_url")

	w = f.do(httptest.NewRequest(http.MethodGet, "/videos/"+uuid.New().String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(httptest.NewRequest(http.MethodGet, "/videos/nope", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListVideos(t *testing.T) {
	f := newFixture(t, 0)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		f.records.SetClock(func() time.Time { return at })
		v := models.NewVideo(uuid.New(), "", "", models.SourceFile{Path: "originals/x/source.mp4"})
		require.NoError(t, f.records.Create(context.Background(), v))
		ids = append(ids, v.ID)
	}

	var page videos.ListView
	w := f.do(httptest.NewRequest(http.MethodGet, "/videos?page=1&per_page=2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &page)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.LastPage)
	assert.Equal(t, 2, page.PerPage)
	assert.Equal(t, 1, page.CurrentPage)
	require.Len(t, page.Data, 2)
	assert.Equal(t, ids[2], page.Data[0].ID)

	w = f.do(httptest.NewRequest(http.MethodGet, "/videos?page=2&per_page=2", nil))
	decode(t, w, &page)
	require.Len(t, page.Data, 1)
	assert.Equal(t, ids[0], page.Data[0].ID)

	w = f.do(httptest.NewRequest(http.MethodGet, "/videos?per_page=500", nil))
	decode(t, w, &page)
	assert.Equal(t, 100, page.PerPage)

	empty := newFixture(t, 0)
	w = empty.do(httptest.NewRequest(http.MethodGet, "/videos", nil))
	decode(t, w, &page)
	assert.Equal(t, 12, page.PerPage)
	assert.Equal(t, 1, page.LastPage)
	assert.NotNil(t, page.Data)
	assert.Empty(t, page.Data)
}

func TestReplaceSourceRequeuesReadyVideo(t *testing.T) {
	f := newFixture(t, 0)
	v := f.seedReady(t)
	oldKey := v.OriginalPath

	w := f.do(multipartRequest(t, http.MethodPost, "/videos/"+v.ID.String(), nil, movBytes))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	got, err := f.records.GetByID(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusQueued, got.Status)
	assert.Empty(t, got.Renditions)
	assert.Empty(t, got.HLSPath)
	assert.Empty(t, got.FailureReason)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "launch", got.Title)

	newKey := storage.OriginalKey(v.ID, "mov")
	assert.Equal(t, newKey, got.OriginalPath)
	assert.False(t, f.objects.Has(oldKey))
	assert.Equal(t, movBytes, f.objects.Bytes(newKey))
	assert.Equal(t, "video/quicktime", got.ContentType)
	assert.Equal(t, []queue.TranscodePayload{{VideoID: v.ID, Version: 2}}, f.jobs.jobs)
}

func TestReplaceRejectsInvalidFile(t *testing.T) {
	f := newFixture(t, 0)
	v := f.seedReady(t)

	w := f.do(multipartRequest(t, http.MethodPost, "/videos/"+v.ID.String(), nil, []byte("not a video at all")))
	require.Equal(t, http.StatusBadRequest, w.Code)

	got, err := f.records.GetByID(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusReady, got.Status)
	assert.True(t, f.objects.Has(v.OriginalPath))
	assert.Empty(t, f.jobs.jobs)
}

func TestUpdateMetadataJSON(t *testing.T) {
	f := newFixture(t, 0)
	v := f.seedReady(t)

	req := httptest.NewRequest(http.MethodPost, "/videos/"+v.ID.String(), strings.NewReader(`{"title":"renamed"}`))
	req.Header.Set("Content-Type", "application/json")
	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var view videos.VideoView
	decode(t, w, &view)
	assert.Equal(t, "renamed", view.Title)
	assert.Equal(t, "keynote", view.Description)
	assert.Equal(t, models.VideoStatusReady, view.Status)
	assert.Empty(t, f.jobs.jobs)

	req = httptest.NewRequest(http.MethodPost, "/videos/"+v.ID.String(), strings.NewReader(`{"title":"`+strings.Repeat("t", 151)+`"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, f.do(req).Code)
}

func TestDeleteVideo(t *testing.T) {
	f := newFixture(t, 0)
	v := f.seedReady(t)

	w := f.do(httptest.NewRequest(http.MethodDelete, "/videos/"+v.ID.String(), nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	_, err := f.records.GetByID(context.Background(), v.ID)
	assert.ErrorIs(t, err, videos.ErrNotFound)
	assert.False(t, f.objects.Has(v.OriginalPath))
	assert.Empty(t, f.objects.Keys(storage.HLSPrefix(v.ID)))

	w = f.do(httptest.NewRequest(http.MethodDelete, "/videos/"+v.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServeHLS(t *testing.T) {
	f := newFixture(t, 0)
	v := f.seedReady(t)
	base := "/hls/" + v.ID.String() + "/"

	w := f.do(httptest.NewRequest(http.MethodGet, base+"master.m3u8", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, storage.ContentTypePlaylist, w.Header().Get("Content-Type"))
	assert.Equal(t, "#EXTM3U\n", w.Body.String())

	w = f.do(httptest.NewRequest(http.MethodGet, base+"720p_000.ts", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, storage.ContentTypeSegment, w.Header().Get("Content-Type"))
	assert.Equal(t, "bytes", w.Header().Get("Accept-Ranges"))

	req := httptest.NewRequest(http.MethodGet, base+"720p_000.ts", nil)
	req.Header.Set("Range", "bytes=2-5")
	w = f.do(req)
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "2345", w.Body.String())
	assert.Equal(t, "bytes 2-5/10", w.Header().Get("Content-Range"))

	req = httptest.NewRequest(http.MethodGet, base+"720p_000.ts", nil)
	req.Header.Set("Range", "bytes=7-")
	w = f.do(req)
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "789", w.Body.String())
	assert.Equal(t, "bytes 7-9/10", w.Header().Get("Content-Range"))

	req = httptest.NewRequest(http.MethodGet, base+"720p_000.ts", nil)
	req.Header.Set("Range", "bytes=50-")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, f.do(req).Code)

	assert.Equal(t, http.StatusNotFound, f.do(httptest.NewRequest(http.MethodGet, base+"1080p.m3u8", nil)).Code)
	assert.Equal(t, http.StatusNotFound, f.do(httptest.NewRequest(http.MethodGet, base+"notes.txt", nil)).Code)
	assert.Equal(t, http.StatusNotFound, f.do(httptest.NewRequest(http.MethodGet, "/hls/bogus/master.m3u8", nil)).Code)
}

func TestDownloadURL(t *testing.T) {
	f := newFixture(t, 0)
	v := f.seedReady(t)
	url := "/videos/" + v.ID.String() + "/download-url"

	assert.Equal(t, http.StatusServiceUnavailable, f.do(httptest.NewRequest(http.MethodGet, url, nil)).Code)

	gin.SetMode(gin.TestMode)
	presigner := &stubPresigner{}
	svc := videos.NewService(f.records, f.objects, f.jobs, 0, nil)
	h := videos.NewHandler(svc, f.objects, "", nil)
	h.SetPresigner(presigner)
	r := gin.New()
	h.Register(r, r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		DownloadURL string `json:"download_url"`
		ExpiresIn   int    `json:"expires_in"`
	}
	decode(t, w, &out)
	assert.Equal(t, v.OriginalPath, presigner.key)
	assert.Equal(t, 900, out.ExpiresIn)
	assert.Contains(t, out.DownloadURL, v.OriginalPath)
}
