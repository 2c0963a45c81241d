package web

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"rgblcd/internal/config"
	"rgblcd/internal/panel"
	"rgblcd/internal/rgb"
)

func newSimServer(t *testing.T, cfg *config.Config) (*Server, *panel.Handle) {
	t.Helper()
	b, board := panel.NewSim(rgb.Single, nil, nil)
	board.Streamer.FreeRun = false
	h, err := panel.BringUp(b)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.Close() })
	if cfg == nil {
		cfg = config.DefaultConfig()
		cfg.Backend = config.BackendSim
	}
	s := NewServer(cfg)
	s.SetPanel(h, nil)
	return s, h
}

func do(t *testing.T, h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := NewServer(config.DefaultConfig())
	rec := do(t, s.Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestPanelStatus(t *testing.T) {
	s, _ := newSimServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/api/panel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp panelResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Ready || resp.Stats == nil || resp.Stats.State != "displaying" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Timing.PixelClockHz != 16_000_000 || resp.Timing.LineTotal != 548 {
		t.Errorf("timing = %+v", resp.Timing)
	}
}

func TestPanelStatusAfterFailedBringUp(t *testing.T) {
	s := NewServer(config.DefaultConfig())
	s.SetPanel(nil, errors.New("expander: not responding"))

	rec := do(t, s.Handler(), http.MethodGet, "/api/panel", nil)
	var resp panelResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Ready || resp.Error == "" {
		t.Errorf("resp = %+v", resp)
	}
	if rec := do(t, s.Handler(), http.MethodGet, "/preview.png", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("preview = %d, want 503", rec.Code)
	}
}

func encodePNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFrameUploadAndPreview(t *testing.T) {
	s, h := newSimServer(t, nil)
	body := encodePNG(t, 20, 10, color.RGBA{255, 0, 0, 255})

	rec := do(t, s.Handler(), http.MethodPost, "/api/frame?x=100&y=50", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("frame = %d %s", rec.Code, rec.Body.String())
	}
	if h.Stats().Flushes != 1 {
		t.Errorf("flushes = %d", h.Stats().Flushes)
	}

	rec = do(t, s.Handler(), http.MethodGet, "/preview.png", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("preview = %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 480 {
		t.Errorf("preview width %d", img.Bounds().Dx())
	}
	if r, _, _, _ := img.At(105, 55).RGBA(); r>>8 != 255 {
		t.Errorf("uploaded pixel red = %d", r>>8)
	}
	if r, _, _, _ := img.At(10, 10).RGBA(); r != 0 {
		t.Error("pixel outside the upload changed")
	}
}

func TestFrameRejected(t *testing.T) {
	s, h := newSimServer(t, nil)

	rec := do(t, s.Handler(), http.MethodPost, "/api/frame?x=470", encodePNG(t, 20, 20, color.White))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("out of bounds upload = %d", rec.Code)
	}
	rec = do(t, s.Handler(), http.MethodPost, "/api/frame", []byte("not an image"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("garbage upload = %d", rec.Code)
	}
	rec = do(t, s.Handler(), http.MethodGet, "/api/frame", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET frame = %d", rec.Code)
	}
	if h.Stats().Flushes != 0 {
		t.Error("rejected upload flushed")
	}
}

// hugePNG returns a tiny PNG whose header declares a w x h image.
func hugePNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	data := encodePNG(t, 1, 1, color.Gray{Y: 0x80})
	// Signature (8), IHDR length (4) and type (4), then width and height.
	binary.BigEndian.PutUint32(data[16:], w)
	binary.BigEndian.PutUint32(data[20:], h)
	binary.BigEndian.PutUint32(data[29:], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestFrameRejectedBeforeDecode(t *testing.T) {
	s, h := newSimServer(t, nil)
	small := encodePNG(t, 20, 20, color.White)

	for _, tc := range []struct {
		name   string
		target string
		body   []byte
	}{
		{"oversized image", "/api/frame", hugePNG(t, 8000, 8000)},
		{"wider than panel", "/api/frame", hugePNG(t, 481, 1)},
		{"offset overflows", "/api/frame?x=" + strconv.Itoa(math.MaxInt) + "&y=" + strconv.Itoa(math.MaxInt), small},
		{"negative offset", "/api/frame?x=-5", small},
		{"offset past edge", "/api/frame?y=480", small},
	} {
		rec := do(t, s.Handler(), http.MethodPost, tc.target, tc.body)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: status %d, want 422 (%s)", tc.name, rec.Code, rec.Body.String())
		}
	}
	if h.Stats().Flushes != 0 {
		t.Error("rejected upload flushed")
	}
}

func TestPlaceRect(t *testing.T) {
	b := image.Rect(0, 0, 480, 480)
	for _, tc := range []struct {
		x, y, w, h int
		ok         bool
	}{
		{0, 0, 480, 480, true},
		{470, 470, 10, 10, true},
		{470, 470, 11, 10, false},
		{0, 0, 0, 10, false},
		{-1, 0, 10, 10, false},
		{math.MaxInt, 0, 10, 10, false},
		{0, math.MaxInt - 5, 1, 10, false},
		{10, 10, math.MaxInt, 1, false},
	} {
		r, ok := placeRect(b, tc.x, tc.y, tc.w, tc.h)
		if ok != tc.ok {
			t.Errorf("placeRect(%d,%d,%d,%d) ok = %v, want %v", tc.x, tc.y, tc.w, tc.h, ok, tc.ok)
			continue
		}
		if ok && (r.Dx() != tc.w || r.Dy() != tc.h || !r.In(b)) {
			t.Errorf("placeRect(%d,%d,%d,%d) = %v", tc.x, tc.y, tc.w, tc.h, r)
		}
	}
}

func TestPattern(t *testing.T) {
	s, h := newSimServer(t, nil)
	if rec := do(t, s.Handler(), http.MethodPost, "/api/pattern?name=solid&color=001F", nil); rec.Code != http.StatusOK {
		t.Fatalf("solid = %d %s", rec.Code, rec.Body.String())
	}
	if px := h.Snapshot(); px[0] != 0x001F || px[len(px)-1] != 0x001F {
		t.Errorf("solid pattern not drawn: %04X", px[0])
	}
	if rec := do(t, s.Handler(), http.MethodPost, "/api/pattern?name=bars", nil); rec.Code != http.StatusOK {
		t.Fatalf("bars = %d", rec.Code)
	}
	if px := h.Snapshot(); px[0] != 0xFFFF {
		t.Errorf("bars first pixel %04X", px[0])
	}
	if rec := do(t, s.Handler(), http.MethodPost, "/api/pattern?name=solid&color=zz", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad colour = %d", rec.Code)
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	s, _ := newSimServer(t, cfg)
	h := s.Handler()

	if rec := do(t, h, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health behind auth: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/panel", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no credentials = %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/panel", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with credentials = %d", rec.Code)
	}
}
