package server

import (
	"bytes"
	"encoding/json"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"artvault/internal/layout"
	"artvault/internal/lifecycle"
	"artvault/internal/logger"
	"artvault/internal/models"
	"artvault/internal/naming"
	"artvault/internal/processing"
	"artvault/internal/queue"
	"artvault/internal/storage"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func testConfig(t *testing.T) *models.Config {
	t.Helper()
	return &models.Config{
		ServerAddr:     ":0",
		BaseDir:        t.TempDir(),
		MaxUploadBytes: 10 << 20,
		OperatorUser:   "operator",
		TokenTTL:       time.Hour,
	}
}

func newTestServer(t *testing.T, cfg *models.Config) *Server {
	t.Helper()
	paths := layout.NewPaths(cfg.BaseDir)
	require.NoError(t, paths.Ensure())
	for i := 1; i <= layout.MockupCount; i++ {
		name := filepath.Join(paths.Mockups, "room-"+strconv.Itoa(i)+".jpg")
		require.NoError(t, imaging.Save(imaging.New(40, 30, color.White), name))
	}

	log := logger.Nop()
	opts := processing.DefaultOptions()
	opts.PreviewLongEdge = 30
	wm, err := processing.NewWatermarker(opts)
	require.NoError(t, err)

	inline := queue.NewInline(log)
	svc := lifecycle.NewService(lifecycle.Deps{
		Paths:       paths,
		Tracker:     naming.NewTracker(filepath.Join(paths.Settings, "sku_tracker.json"), "RJC", 5),
		Registry:    storage.NewRegistry(filepath.Join(paths.Settings, "artwork-master-listing.json"), log),
		Jobs:        inline,
		Deriver:     processing.NewDeriver(opts, log),
		Compositor:  processing.NewCompositor(paths, opts, log),
		Watermarker: wm,
		Log:         log,
	})
	inline.SetHandler(svc.HandleJob)
	return NewServer(cfg, svc, log)
}

func uploadRequest(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func pngData(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(40, 30, color.NRGBA{R: 200, A: 255}), imaging.PNG))
	return buf.Bytes()
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestRecordLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	// the sniffed type wins over the client's file name
	w := serve(s, uploadRequest(t, "Harbour Lights.jpeg", pngData(t)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct{ Record models.Record }
	decode(t, w, &created)
	assert.Equal(t, "harbour-lights", created.Record.Slug)
	assert.Equal(t, "harbour-lights.png", created.Record.OriginalFile)

	w = serve(s, jsonRequest(http.MethodGet, "/records/harbour-lights/events", ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"events":[]}`, w.Body.String())

	w = serve(s, jsonRequest(http.MethodGet, "/records", ""))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct{ Records []models.RegistryEntry }
	decode(t, w, &list)
	require.Len(t, list.Records, 1)
	assert.Equal(t, "RJC-00001", list.Records[0].SKU)

	w = serve(s, jsonRequest(http.MethodPost, "/records/harbour-lights/analysis", `{"title":"Harbour at Night","description":"Lights on water."}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &created)
	assert.Equal(t, "harbour-at-night", created.Record.Slug)

	w = serve(s, jsonRequest(http.MethodGet, "/records/harbour-lights", ""))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(s, jsonRequest(http.MethodPost, "/records/harbour-at-night/lock", ""))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = serve(s, jsonRequest(http.MethodPost, "/records/harbour-at-night/mockups", ""))
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(s, jsonRequest(http.MethodPost, "/records/harbour-at-night/finalise", ""))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var fin struct{ Listing models.Listing }
	decode(t, w, &fin)
	assert.Equal(t, "Harbour at Night", fin.Listing.Title)

	w = serve(s, jsonRequest(http.MethodGet, "/validate", ""))
	require.Equal(t, http.StatusOK, w.Code)
	var report struct {
		OK       bool
		Problems []string
	}
	decode(t, w, &report)
	assert.True(t, report.OK, report.Problems)

	files := layout.RecordFiles{Slug: "harbour-at-night", SKU: "RJC-00001"}
	w = serve(s, jsonRequest(http.MethodGet, "/files/art-processing/finalised-artwork/harbour-at-night/"+files.Preview(), ""))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(s, jsonRequest(http.MethodPost, "/records/harbour-at-night/lock", ""))
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(s, jsonRequest(http.MethodDelete, "/records/harbour-at-night", ""))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "record is locked")

	w = serve(s, jsonRequest(http.MethodGet, "/records/harbour-at-night", ""))
	assert.Equal(t, http.StatusOK, w.Code, "a refused delete leaves the record in place")
}

func TestUploadRejects(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxUploadBytes = 1024
	s := newTestServer(t, cfg)

	w := serve(s, uploadRequest(t, "notes.png", []byte("plain text, not an image")))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	w = serve(s, uploadRequest(t, "big.png", bytes.Repeat([]byte{0}, 4096)))
	assert.Contains(t, []int{http.StatusBadRequest, http.StatusRequestEntityTooLarge}, w.Code)

	w = serve(s, jsonRequest(http.MethodPost, "/upload", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerErrors(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	w := serve(s, jsonRequest(http.MethodPost, "/records/missing/analysis", `{"title":"x"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(s, jsonRequest(http.MethodPost, "/records/missing/analysis", `{bad json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(s, jsonRequest(http.MethodDelete, "/records/missing", ""))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(s, jsonRequest(http.MethodGet, "/validate?stage=archived", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(s, jsonRequest(http.MethodPost, "/login", `{"username":"a","password":"b"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(s, jsonRequest(http.MethodGet, "/metrics", ""))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg := testConfig(t)
	cfg.OperatorPasswordHash = string(hash)
	cfg.JWTSecret = "test-secret"
	s := newTestServer(t, cfg)

	w := serve(s, jsonRequest(http.MethodGet, "/records", ""))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(s, jsonRequest(http.MethodGet, "/metrics", ""))
	assert.Equal(t, http.StatusOK, w.Code, "metrics stay public")

	w = serve(s, jsonRequest(http.MethodPost, "/login", `{"username":"operator","password":"wrong"}`))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(s, jsonRequest(http.MethodPost, "/login", `{"username":"operator","password":"s3cret"}`))
	require.Equal(t, http.StatusOK, w.Code)
	var login struct{ Token string }
	decode(t, w, &login)
	require.NotEmpty(t, login.Token)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := jsonRequest(http.MethodGet, "/records", "")
	req.Header.Set("Authorization", "Bearer "+login.Token)
	assert.Equal(t, http.StatusOK, serve(s, req).Code)

	req = jsonRequest(http.MethodGet, "/records", "")
	req.AddCookie(cookies[0])
	assert.Equal(t, http.StatusOK, serve(s, req).Code)

	req = jsonRequest(http.MethodGet, "/records", "")
	req.Header.Set("Authorization", "Bearer "+login.Token+"x")
	assert.Equal(t, http.StatusUnauthorized, serve(s, req).Code)

	expired, err := s.issueToken("operator", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	req = jsonRequest(http.MethodGet, "/records", "")
	req.Header.Set("Authorization", "Bearer "+expired)
	assert.Equal(t, http.StatusUnauthorized, serve(s, req).Code)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc"))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken("Bearer"))
}
