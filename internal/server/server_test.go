package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ivlev/slideshow/internal/audio"
	"github.com/ivlev/slideshow/internal/config"
	"github.com/ivlev/slideshow/internal/engine"
	"github.com/ivlev/slideshow/internal/schedule"
	"github.com/ivlev/slideshow/internal/video"
)

type nopRecorder struct{}

func (nopRecorder) Start(context.Context) error           { return nil }
func (nopRecorder) WriteFrame(*image.RGBA) error          { return nil }
func (nopRecorder) Stop(done func(video.Artifact, error)) { done(video.Artifact{}, nil) }
func (nopRecorder) Abort()                                {}

func newTestServer(t *testing.T) (*Server, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Width, cfg.Height = 32, 18
	cfg.SpoolDir = t.TempDir()
	cfg.OutputDir = t.TempDir()

	loop := schedule.NewLoop(0)
	ctx, stop := context.WithCancel(context.Background())
	go loop.Run(ctx)

	ctrl, err := engine.New(cfg, engine.Deps{
		Scheduler: loop,
		Player:    audio.NewClockPlayer(nil, nil),
		Factory:   func(string) (video.Recorder, error) { return nopRecorder{}, nil },
	})
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	t.Cleanup(func() {
		ctrl.Close()
		stop()
	})
	return New(cfg, ctrl), cfg
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.SetRGBA(0, 0, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func upload(t *testing.T, field string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range files {
		part, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(data)
	}
	mw.Close()
	return &body, mw.FormDataContentType()
}

func do(t *testing.T, s *Server, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) engine.Snapshot {
	t.Helper()
	var snap engine.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("Decode state: %v", err)
	}
	return snap
}

func TestStateInitiallyEmpty(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/state", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	snap := decodeState(t, rec)
	if len(snap.Images) != 0 || snap.CanExport || len(snap.Transitions) != 4 {
		t.Errorf("Unexpected initial state: %+v", snap)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS headers")
	}
}

func TestPreflight(t *testing.T) {
	s, _ := newTestServer(t)
	for _, path := range []string{"/api/images", "/api/images/abc", "/api/transition", "/api/export"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
		if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), http.MethodDelete) {
			t.Errorf("%s: missing allowed methods", path)
		}
	}
}

func TestUploadAndRemoveImages(t *testing.T) {
	s, _ := newTestServer(t)
	body, ct := upload(t, "images", map[string][]byte{"a.png": pngBytes(t)})
	rec := do(t, s, http.MethodPost, "/api/images", body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var added []engine.ImageInfo
	if err := json.NewDecoder(rec.Body).Decode(&added); err != nil || len(added) != 1 {
		t.Fatalf("Unexpected response: %v, %v", added, err)
	}

	if rec := do(t, s, http.MethodDelete, "/api/images/missing", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown id, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodDelete, "/api/images/"+added[0].ID, nil, ""); rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}
	if snap := decodeState(t, do(t, s, http.MethodGet, "/api/state", nil, "")); len(snap.Images) != 0 {
		t.Errorf("Expected no images, got %d", len(snap.Images))
	}
}

func TestUploadRejectsNonImages(t *testing.T) {
	s, _ := newTestServer(t)
	body, ct := upload(t, "images", map[string][]byte{"notes.txt": []byte("hi")})
	if rec := do(t, s, http.MethodPost, "/api/images", body, ct); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}

	body, ct = upload(t, "audio", map[string][]byte{"cover.png": pngBytes(t)})
	if rec := do(t, s, http.MethodPut, "/api/audio", body, ct); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a non-audio file, got %d", rec.Code)
	}
}

func TestSetAudio(t *testing.T) {
	s, _ := newTestServer(t)
	body, ct := upload(t, "audio", map[string][]byte{"song.mp3": []byte("id3")})
	rec := do(t, s, http.MethodPut, "/api/audio", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body)
	}
	snap := decodeState(t, do(t, s, http.MethodGet, "/api/state", nil, ""))
	if snap.Audio == nil || snap.Audio.Name != "song.mp3" {
		t.Errorf("Expected song.mp3 as the track, got %+v", snap.Audio)
	}
}

func TestSetTransition(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodPut, "/api/transition", strings.NewReader(`{"transition":"Zoom"}`), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if snap := decodeState(t, rec); snap.Transition != "zoom" {
		t.Errorf("Expected zoom, got %s", snap.Transition)
	}

	rec = do(t, s, http.MethodPut, "/api/transition", strings.NewReader(`{"transition":"wipe"}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestActionPreconditions(t *testing.T) {
	s, _ := newTestServer(t)
	tests := []struct {
		path     string
		expected int
	}{
		{"/api/play", http.StatusConflict},
		{"/api/toggle", http.StatusConflict},
		{"/api/pause", http.StatusOK},
		{"/api/export", http.StatusConflict},
	}
	for _, tt := range tests {
		if rec := do(t, s, http.MethodPost, tt.path, nil, ""); rec.Code != tt.expected {
			t.Errorf("POST %s: expected %d, got %d", tt.path, tt.expected, rec.Code)
		}
	}
}

func TestPreviewJPEG(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/preview.jpg", nil, "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("Unexpected response %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	img, err := jpeg.Decode(rec.Body)
	if err != nil {
		t.Fatalf("Invalid JPEG: %v", err)
	}
	if img.Bounds().Dx() != 32 {
		t.Errorf("Expected width 32, got %d", img.Bounds().Dx())
	}
}

func TestArtifactDownload(t *testing.T) {
	s, cfg := newTestServer(t)
	if err := os.WriteFile(filepath.Join(cfg.OutputDir, "VividEdit_x.mp4"), []byte("video"), 0644); err != nil {
		t.Fatal(err)
	}

	rec := do(t, s, http.MethodGet, "/artifacts/VividEdit_x.mp4", nil, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "video" {
		t.Errorf("Unexpected response %d %q", rec.Code, rec.Body.String())
	}
	for _, name := range []string{"missing.mp4", ".hidden"} {
		if rec := do(t, s, http.MethodGet, "/artifacts/"+name, nil, ""); rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", name, rec.Code)
		}
	}
}

func TestEventsStream(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var snap engine.Snapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("Read initial state: %v", err)
	}
	if len(snap.Images) != 0 {
		t.Fatalf("Expected an empty initial state, got %d images", len(snap.Images))
	}

	body, ct := upload(t, "images", map[string][]byte{"a.png": pngBytes(t)})
	resp, err := http.Post(ts.URL+"/api/images", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	for len(snap.Images) == 0 {
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("Expected a state event with the new image: %v", err)
		}
	}
	if snap.Images[0].Name != "a.png" {
		t.Errorf("Expected a.png, got %s", snap.Images[0].Name)
	}
}
