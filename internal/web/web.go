package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"

	"rgblcd/internal/config"
	"rgblcd/internal/convert"
	appLog "rgblcd/internal/log"
	"rgblcd/internal/panel"
	"rgblcd/internal/rgb"
)

// Panel is what the server needs from a brought-up panel.
type Panel interface {
	Bounds() image.Rectangle
	Flush(r image.Rectangle, pix []uint16) error
	Snapshot() []uint16
	Stats() panel.Stats
}

// maxFrameBytes bounds POST /api/frame bodies.
const maxFrameBytes = 8 << 20

// Server provides the diagnostics HTTP API.
type Server struct {
	cfg *config.Config
	mux *http.ServeMux

	mu         sync.RWMutex
	panel      Panel
	bringUpErr error

	// In-memory cache for /preview.png so repeated polling does not
	// re-encode an unchanged frame.
	previewMu    sync.Mutex
	previewCache *previewCache
}

// NewServer constructs a new Server. The panel is attached later with
// SetPanel, once bring-up has finished one way or the other.
func NewServer(cfg *config.Config) *Server {
	s := &Server{
		cfg: cfg,
		mux: http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// SetPanel records the outcome of bring-up. p is nil when err is not.
func (s *Server) SetPanel(p Panel, err error) {
	s.mu.Lock()
	s.panel, s.bringUpErr = p, err
	s.mu.Unlock()
}

func (s *Server) current() (Panel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.panel, s.bringUpErr
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="rgblcd", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/panel", s.handlePanel)
	s.mux.HandleFunc("/api/frame", s.handleFrame)
	s.mux.HandleFunc("/api/pattern", s.handlePattern)
	s.mux.HandleFunc("/preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// timingDTO is the fixed scanout timing as reported by /api/panel.
type timingDTO struct {
	PixelClockHz int64   `json:"pixel_clock_hz"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	LineTotal    int     `json:"line_total"`
	FrameTotal   int     `json:"frame_total"`
	RefreshHz    float64 `json:"refresh_hz"`
}

// panelResponse is the JSON response shape for /api/panel.
type panelResponse struct {
	Backend string       `json:"backend"`
	Ready   bool         `json:"ready"`
	Error   string       `json:"error,omitempty"`
	Timing  timingDTO    `json:"timing"`
	Stats   *panel.Stats `json:"stats,omitempty"`
}

// handlePanel reports bring-up outcome, timing and flush counters.
//
// GET /api/panel
func (s *Server) handlePanel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	t := rgb.Indicator
	resp := panelResponse{
		Backend: s.cfg.Backend,
		Timing: timingDTO{
			PixelClockHz: int64(t.PixelClock / physic.Hertz),
			Width:        t.HRes,
			Height:       t.VRes,
			LineTotal:    t.LineTotal(),
			FrameTotal:   t.FrameTotal(),
			RefreshHz:    t.RefreshRate(),
		},
	}
	p, err := s.current()
	if err != nil {
		resp.Error = err.Error()
	}
	if p != nil {
		st := p.Stats()
		resp.Ready = !st.Closed
		resp.Backend = st.Backend
		resp.Stats = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// frameResponse is the JSON response shape for /api/frame and /api/pattern.
type frameResponse struct {
	Rect    string `json:"rect"`
	Flushes uint64 `json:"flushes"`
}

// handleFrame draws an uploaded image through Flush.
//
// POST /api/frame?x=0&y=0  (body: PNG, JPEG or GIF)
//   - x, y: top-left corner on the panel (default 0)
//
// The image is drawn at its own size; it must fit on the panel.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	p, ok := s.readyPanel(w)
	if !ok {
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body: "+err.Error())
		return
	}
	// Check the declared size before decoding so an oversized image is
	// never allocated.
	ic, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot decode image: "+err.Error())
		return
	}
	q := r.URL.Query()
	x := parseIntDefault(q.Get("x"), 0)
	y := parseIntDefault(q.Get("y"), 0)
	rect, ok := placeRect(p.Bounds(), x, y, ic.Width, ic.Height)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("%v: %dx%d image at (%d,%d) does not fit %v", panel.ErrOutOfBounds, ic.Width, ic.Height, x, y, p.Bounds()))
		return
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot decode image: "+err.Error())
		return
	}
	if b := img.Bounds(); b.Dx() != rect.Dx() || b.Dy() != rect.Dy() {
		writeError(w, http.StatusBadRequest, "decoded image size differs from its header")
		return
	}

	s.flush(w, p, rect, convert.PackImage(img))
}

// placeRect returns the w x h rect at (x, y) if it is non-empty and lies
// inside bounds. The comparisons never add to x or y, so huge offsets
// cannot wrap around.
func placeRect(bounds image.Rectangle, x, y, w, h int) (image.Rectangle, bool) {
	if w <= 0 || h <= 0 {
		return image.Rectangle{}, false
	}
	if x < bounds.Min.X || y < bounds.Min.Y || x >= bounds.Max.X || y >= bounds.Max.Y {
		return image.Rectangle{}, false
	}
	if w > bounds.Max.X-x || h > bounds.Max.Y-y {
		return image.Rectangle{}, false
	}
	return image.Rect(x, y, x+w, y+h), true
}

// handlePattern fills the panel with a test pattern.
//
// POST /api/pattern?name=bars
// POST /api/pattern?name=solid&color=F800   (RGB565, hex)
func (s *Server) handlePattern(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	p, ok := s.readyPanel(w)
	if !ok {
		return
	}
	b := p.Bounds()
	q := r.URL.Query()
	switch q.Get("name") {
	case "", "bars":
		s.flush(w, p, b, convert.ColorBars(b.Dx(), b.Dy()))
	case "solid":
		c, err := strconv.ParseUint(q.Get("color"), 16, 16)
		if err != nil {
			writeError(w, http.StatusBadRequest, "color must be a 16-bit hex RGB565 value")
			return
		}
		s.flush(w, p, b, convert.Solid(b.Dx()*b.Dy(), uint16(c)))
	default:
		writeError(w, http.StatusBadRequest, "unknown pattern")
	}
}

func (s *Server) readyPanel(w http.ResponseWriter) (Panel, bool) {
	p, err := s.current()
	if p == nil {
		msg := "panel not brought up"
		if err != nil {
			msg += ": " + err.Error()
		}
		writeError(w, http.StatusServiceUnavailable, msg)
		return nil, false
	}
	return p, true
}

func (s *Server) flush(w http.ResponseWriter, p Panel, rect image.Rectangle, pix []uint16) {
	err := p.Flush(rect, pix)
	switch {
	case err == nil:
	case errors.Is(err, panel.ErrOutOfBounds), errors.Is(err, panel.ErrShortBuffer):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, panel.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	default:
		appLog.Error("api frame: flush failed", err, "rect", rect)
		writeError(w, http.StatusInternalServerError, "flush failed")
		return
	}
	appLog.Debug("api frame: flushed", "rect", rect)
	writeJSON(w, http.StatusOK, frameResponse{Rect: rect.String(), Flushes: p.Stats().Flushes})
}

// previewCache holds the last encoded preview and the counters it was
// encoded at.
type previewCache struct {
	png     []byte
	flushes uint64
	flips   uint64
}

// handlePreview serves the visible frame as PNG.
func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	p, ok := s.readyPanel(w)
	if !ok {
		return
	}
	st := p.Stats()

	s.previewMu.Lock()
	defer s.previewMu.Unlock()
	if pc := s.previewCache; pc == nil || pc.flushes != st.Flushes || pc.flips != st.Flips {
		pix := p.Snapshot()
		if pix == nil {
			writeError(w, http.StatusServiceUnavailable, "panel closed")
			return
		}
		img, err := convert.Image(pix, st.Width, st.Height)
		if err != nil {
			appLog.Error("preview: convert failed", err)
			writeError(w, http.StatusInternalServerError, "preview unavailable")
			return
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			appLog.Error("preview: encode failed", err)
			writeError(w, http.StatusInternalServerError, "preview unavailable")
			return
		}
		s.previewCache = &previewCache{png: buf.Bytes(), flushes: st.Flushes, flips: st.Flips}
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(s.previewCache.png)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
