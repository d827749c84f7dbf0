package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aura-vod/backend/internal/auth"
)

func guarded(svc *auth.JWTService, roles ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append(Protect(svc, roles...), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextOperator))
	})
	r.POST("/videos", handlers...)
	return r
}

func TestProtect(t *testing.T) {
	svc := auth.NewJWTService("s3cret", 1)
	editor, err := svc.Generate("alice", auth.RoleEditor)
	require.NoError(t, err)
	admin, err := svc.Generate("root", auth.RoleAdmin)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		roles  []string
		want   int
	}{
		{name: "missing header", roles: []string{auth.RoleEditor}, want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + editor, roles: []string{auth.RoleEditor}, want: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer nope", roles: []string{auth.RoleEditor}, want: http.StatusUnauthorized},
		{name: "editor allowed", header: "Bearer " + editor, roles: []string{auth.RoleAdmin, auth.RoleEditor}, want: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + admin, roles: []string{auth.RoleAdmin}, want: http.StatusOK},
		{name: "editor forbidden", header: "Bearer " + editor, roles: []string{auth.RoleAdmin}, want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/videos", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			guarded(svc, tt.roles...).ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestProtectDisabled(t *testing.T) {
	assert.Empty(t, Protect(nil, auth.RoleAdmin))

	w := httptest.NewRecorder()
	guarded(nil, auth.RoleAdmin).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/videos", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireRoleWithoutJWT(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", RequireRole(auth.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("http://a.test, http://b.test"))
	r.GET("/hls/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/hls/x", nil)
	req.Header.Set("Origin", "http://b.test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://b.test", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Range")
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Content-Range")

	req = httptest.NewRequest(http.MethodGet, "/hls/x", nil)
	req.Header.Set("Origin", "http://evil.test")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggerLevels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	r := gin.New()
	r.Use(Logger(zap.New(core), "/health"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "hi") })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for _, p := range []string{"/health", "/ok", "/missing", "/boom"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "/ok", entries[0].ContextMap()["path"])
	assert.Equal(t, int64(2), entries[0].ContextMap()["bytes"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}
