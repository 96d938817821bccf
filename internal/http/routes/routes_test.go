package routes

import (
	"bytes"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zip"
	"github.com/phambaophuc/brushset-converter/internal/config"
	"github.com/phambaophuc/brushset-converter/internal/http/handlers"
	"github.com/phambaophuc/brushset-converter/internal/services/converter"
	"github.com/phambaophuc/brushset-converter/internal/services/verification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Conversion.MinDimension = 8
	cfg.Staging = config.StagingConfig{Backend: config.BackendMemory}

	logger := zaptest.NewLogger(t)
	gw := verification.Disabled{}
	h := handlers.NewBrushsetHandler(converter.NewServiceFromConfig(cfg, gw, logger), gw, logger, cfg)
	return NewRouter(h, logger).SetupRoutes()
}

func TestRoot(t *testing.T) {
	rec := httptest.NewRecorder()
	newEngine(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Brushset converter is running")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHealthRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	newEngine(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestConvertRoute(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 12, 12))
	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, img))

	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	w, err := zw.Create("Shape.png")
	require.NoError(t, err)
	_, err = w.Write(pngBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("files", "Set.brushset")
	require.NoError(t, err)
	_, err = fw.Write(archive.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/convert", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	engine := newEngine(t)
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("X-Brush-Count"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rejected := httptest.NewRecorder()
	jsonReq := httptest.NewRequest(http.MethodPost, "/api/v1/convert", strings.NewReader(`{}`))
	jsonReq.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rejected, jsonReq)
	assert.Equal(t, http.StatusUnsupportedMediaType, rejected.Code)
}
