package server

import (
	"bytes"
	"encoding/json"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MeKo-Tech/pathsense/internal/analysis"
	"github.com/MeKo-Tech/pathsense/internal/depth"
	"github.com/MeKo-Tech/pathsense/internal/guidance"
	"github.com/MeKo-Tech/pathsense/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sceneSize = 20

// wallScene has a wall at 1m across the middle columns.
func wallScene() testutil.Scene {
	return testutil.FloorScene(sceneSize, sceneSize, 5).
		WithBlock(4, 0, 16, sceneSize, testutil.ClassWall, 1)
}

func testEngine(t *testing.T, seg analysis.Segmenter, opts ...analysis.Option) *analysis.Engine {
	t.Helper()
	cfg := analysis.DefaultConfig()
	cfg.Width = sceneSize
	cfg.Height = sceneSize
	cfg.SourceAspectRatio = 1
	cfg.ProximityRadius = 3
	e, err := analysis.NewEngine(cfg, seg, opts...)
	require.NoError(t, err)
	return e
}

func newTestServer(t *testing.T, seg analysis.Segmenter, cfg Config) (*Server, *http.ServeMux) {
	t.Helper()
	s, err := NewServer(testEngine(t, seg), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return s, mux
}

type formFile struct {
	field, name string
	data        []byte
}

func multipartRequest(t *testing.T, fields map[string]string, files ...formFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = fw.Write(f.data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func imageFile(t *testing.T) formFile {
	t.Helper()
	return formFile{"image", "frame.png", testutil.EncodePNG(t, testutil.SolidImage(40, 40, color.Gray{Y: 128}))}
}

func depthFile(t *testing.T, s testutil.Scene) formFile {
	t.Helper()
	return formFile{"depth", "depth.png", testutil.DepthPNG(t, s.Depth)}
}

func TestNewServerRequiresEngine(t *testing.T) {
	_, err := NewServer(nil, Config{})
	assert.Error(t, err)
}

func TestHealthHandler(t *testing.T) {
	_, mux := newTestServer(t, testutil.NewStaticSegmenter(wallScene()), Config{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.NotEmpty(t, resp.Version)
	assert.False(t, resp.Runner.Busy)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestZonesHandler(t *testing.T) {
	_, mux := newTestServer(t, testutil.NewStaticSegmenter(wallScene()), Config{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/zones", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "top_mid")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/zones?aspect=0.5", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/zones?aspect=wide", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeHandlerJSON(t *testing.T) {
	scene := wallScene()
	_, mux := newTestServer(t, testutil.NewStaticSegmenter(scene), Config{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, multipartRequest(t, nil, imageFile(t), depthFile(t, scene)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NotNil(t, resp.Result)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, resp.RequestID, resp.Result.RequestID)
	assert.Equal(t, "frame.png", resp.Result.SourceFilename)
	assert.Equal(t, guidance.MoveLeft, resp.Result.Directive.Kind)
	assert.Equal(t, "Wall ahead, move left.", resp.Result.Message)
	assert.Equal(t, "sensor", resp.Result.DepthSource)
	require.NotNil(t, resp.Result.Proximity)
	assert.InDelta(t, 1.0, *resp.Result.Proximity, 1e-3)
	assert.Equal(t, guidance.Medium, resp.Result.Feedback.Level)
}

func TestAnalyzeHandlerRawDepth(t *testing.T) {
	scene := wallScene()
	_, mux := newTestServer(t, testutil.NewStaticSegmenter(scene), Config{})

	var raw bytes.Buffer
	require.NoError(t, depth.EncodeRaw(&raw, scene.Depth))
	fields := map[string]string{"depth_width": "20", "depth_height": "20", "format": "text"}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, multipartRequest(t, fields, imageFile(t), formFile{"depth", "depth.f32", raw.Bytes()}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Wall ahead, move left.\n", rec.Body.String())
}

func TestAnalyzeHandlerImageFormats(t *testing.T) {
	scene := wallScene()
	_, mux := newTestServer(t, testutil.NewStaticSegmenter(scene), Config{OverlayOpacity: 0.5})

	for _, format := range []string{"mask", "overlay"} {
		t.Run(format, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, multipartRequest(t, map[string]string{"format": format}, imageFile(t), depthFile(t, scene)))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

			img, err := png.Decode(rec.Body)
			require.NoError(t, err)
			want := sceneSize
			if format == "overlay" {
				want = 40
			}
			assert.Equal(t, want, img.Bounds().Dx())
		})
	}
}

func TestAnalyzeHandlerErrors(t *testing.T) {
	scene := wallScene()
	_, mux := newTestServer(t, testutil.NewStaticSegmenter(scene), Config{})

	tests := []struct {
		name   string
		req    func() *http.Request
		status int
	}{
		{
			name:   "wrong method",
			req:    func() *http.Request { return httptest.NewRequest(http.MethodGet, "/analyze", nil) },
			status: http.StatusMethodNotAllowed,
		},
		{
			name:   "no image",
			req:    func() *http.Request { return multipartRequest(t, nil, depthFile(t, scene)) },
			status: http.StatusBadRequest,
		},
		{
			name: "unsupported extension",
			req: func() *http.Request {
				return multipartRequest(t, nil, formFile{"image", "frame.gif", []byte("GIF89a")})
			},
			status: http.StatusBadRequest,
		},
		{
			name: "bad format",
			req: func() *http.Request {
				return multipartRequest(t, map[string]string{"format": "xml"}, imageFile(t), depthFile(t, scene))
			},
			status: http.StatusBadRequest,
		},
		{
			name: "bad depth width",
			req: func() *http.Request {
				return multipartRequest(t, map[string]string{"depth_width": "-3"}, imageFile(t), depthFile(t, scene))
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "no depth and no estimator",
			req:    func() *http.Request { return multipartRequest(t, nil, imageFile(t)) },
			status: http.StatusUnprocessableEntity,
		},
		{
			name: "all invalid depth",
			req: func() *http.Request {
				return multipartRequest(t, nil, imageFile(t), depthFile(t, testutil.FloorScene(4, 4, 0)))
			},
			status: http.StatusUnprocessableEntity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, tt.req())
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestAnalyzeHandlerBusy(t *testing.T) {
	scene := wallScene()
	seg := testutil.NewStaticSegmenter(scene)
	seg.Delay = 300 * time.Millisecond
	_, mux := newTestServer(t, seg, Config{})

	firstReq := multipartRequest(t, nil, imageFile(t), depthFile(t, scene))
	first := make(chan int, 1)
	go func() {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, firstReq)
		first <- rec.Code
	}()

	require.Eventually(t, func() bool { return seg.Calls() == 1 }, time.Second, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, multipartRequest(t, nil, imageFile(t), depthFile(t, scene)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "busy", resp.ErrorType)

	assert.Equal(t, http.StatusOK, <-first)
}

func TestAnalyzeHandlerTimeout(t *testing.T) {
	scene := wallScene()
	seg := testutil.NewStaticSegmenter(scene)
	seg.Delay = 2 * time.Second
	s, mux := newTestServer(t, seg, Config{})
	s.timeoutSec = 1

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, multipartRequest(t, nil, imageFile(t), depthFile(t, scene)))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	_, mux := newTestServer(t, testutil.NewStaticSegmenter(wallScene()), Config{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pathsense_http_requests_total")
}
