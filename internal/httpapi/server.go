// Package httpapi implements the remote HTTP adapter (spec.md §4.8):
// CIDR-gated access, intent submission, read-only telemetry endpoints,
// arbitrated MJPEG streaming, and a log tail endpoint. It owns its own
// HTTP state and never acquires the IPC loop's lock; telemetry reads
// come from a periodically refreshed, copy-on-read snapshot.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roverfleet/roverd/internal/buildinfo"
	"github.com/roverfleet/roverd/internal/ipc"
	"github.com/roverfleet/roverd/internal/paths"
	"github.com/roverfleet/roverd/internal/schema"
	"github.com/roverfleet/roverd/internal/session"
	"github.com/roverfleet/roverd/internal/telemetry"
	"github.com/roverfleet/roverd/internal/vision"
)

// writeJSON encodes v as JSON, logging (not failing) write errors —
// they typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("failed to write JSON response", "err", err)
	}
}

// Config configures the adapter's listen endpoint and access policy.
type Config struct {
	Bind       string
	Port       int
	AllowCIDRs []string
	LogDir     string
}

// CameraSettings is the read/write camera configuration served by
// GET/POST /settings/camera (spec.md §6). Applying a change is a
// follow-up concern for the vision worker; the adapter only stores
// and echoes back the operator's requested values.
type CameraSettings struct {
	Resolution  string `json:"resolution,omitempty"`
	FPS         int    `json:"fps,omitempty"`
	RotationDeg int    `json:"rotation_deg,omitempty"`
}

// Server is the remote HTTP adapter.
type Server struct {
	cfg      Config
	log      *slog.Logger
	sessions *session.Manager
	up       *ipc.Client
	tel      *telemetry.Store
	vision   *vision.Controller
	server   *http.Server
	nets     []*net.IPNet
	paths    *paths.Resolver

	snapMu sync.RWMutex
	snap   telemetry.Snapshot

	cameraMu sync.RWMutex
	camera   CameraSettings
}

// New constructs a Server. It does not start listening until Run is called.
func New(cfg Config, sessions *session.Manager, up *ipc.Client, tel *telemetry.Store, vc *vision.Controller, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	nets, err := parseCIDRs(cfg.AllowCIDRs)
	if err != nil {
		return nil, err
	}
	var resolver *paths.Resolver
	if cfg.LogDir != "" {
		resolver = paths.New(map[string]string{"logs": cfg.LogDir})
	}
	s := &Server{cfg: cfg, log: log, sessions: sessions, up: up, tel: tel, vision: vc, nets: nets, paths: resolver}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.withAccessControl(s.handleHealth))
	mux.HandleFunc("GET /status", s.withAccessControl(s.handleStatus))
	mux.HandleFunc("GET /telemetry", s.withAccessControl(s.handleTelemetry))
	mux.HandleFunc("POST /intent", s.withAccessControl(s.handleIntent))
	mux.HandleFunc("GET /stream/mjpeg", s.withAccessControl(s.handleStream))
	mux.HandleFunc("GET /logs", s.withAccessControl(s.handleLogs))
	mux.HandleFunc("GET /settings/camera", s.withAccessControl(s.handleGetCameraSettings))
	mux.HandleFunc("POST /settings/camera", s.withAccessControl(s.handlePostCameraSettings))

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func parseCIDRs(cidrs []string) ([]*net.IPNet, error) {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("httpapi: invalid allow_cidrs entry %q: %w", c, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// withAccessControl gates every request against the CIDR allow-list
// (spec.md §4.8) and refreshes the remote session heartbeat on every
// accepted request.
func (s *Server) withAccessControl(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		s.sessions.Heartbeat(time.Now())
		next(w, r)
	}
}

func (s *Server) allowed(r *http.Request) bool {
	if len(s.nets) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range s.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Run starts the HTTP server and a background ticker that refreshes
// the telemetry snapshot, blocking until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	go s.refreshLoop(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- s.server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := s.sessions.State()
			streamURL := ""
			if s.vision.StreamActive() {
				streamURL = "/stream/mjpeg"
			}
			snap := s.tel.Aggregate(state.Active, state.LastSeen, s.vision.Mode(), streamURL)
			s.snapMu.Lock()
			s.snap = snap
			s.snapMu.Unlock()
		}
	}
}

func (s *Server) snapshot() telemetry.Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"ok": true, "version": buildinfo.Version}, s.log)
}

// telemetryResponse is the wire shape /status and /telemetry share
// (spec.md §6): the raw telemetry.Snapshot plus the derived
// blocking_reason spec.md §7 calls for on the operator-facing surface.
type telemetryResponse struct {
	telemetry.Snapshot
	BlockingReason string `json:"blocking_reason,omitempty"`
}

func (s *Server) telemetryResponse() telemetryResponse {
	snap := s.snapshot()
	return telemetryResponse{Snapshot: snap, BlockingReason: snap.BlockingReason()}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.telemetryResponse(), s.log)
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.telemetryResponse(), s.log)
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Intent     string            `json:"intent"`
		Direction  schema.Direction  `json:"direction,omitempty"`
		Text       string            `json:"text,omitempty"`
		Speed      int               `json:"speed,omitempty"`
		DurationMs int               `json:"duration_ms,omitempty"`
		Extras     map[string]string `json:"extras,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Intent == "" {
		http.Error(w, "intent is required", http.StatusBadRequest)
		return
	}

	intent := schema.RemoteIntent{
		Timestamp:  time.Now().Unix(),
		Intent:     body.Intent,
		Direction:  body.Direction,
		Text:       body.Text,
		Speed:      schema.ClampSpeed(body.Speed),
		DurationMs: body.DurationMs,
		Extras:     body.Extras,
	}
	raw, err := schema.Encode(intent)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.up.Publish(schema.TopicRemoteIntent, raw)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	frames, release, err := s.vision.AcquireStream()
	if err != nil {
		http.Error(w, "stream already in use", http.StatusConflict)
		return
	}
	defer release()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=roverd-frame")
	flusher, _ := w.(http.Flusher)

	for {
		select {
		case <-r.Context().Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			fmt.Fprintf(w, "--roverd-frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(f.Source))
			w.Write(f.Source)
			fmt.Fprint(w, "\r\n")
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// logsResponse is the /logs wire shape (spec.md §6):
// {service, lines:[…], sources, ts}.
type logsResponse struct {
	Service string   `json:"service"`
	Lines   []string `json:"lines"`
	Sources []string `json:"sources"`
	TS      int64    `json:"ts"`
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	if service == "" {
		http.Error(w, "service is required", http.StatusBadRequest)
		return
	}
	lines := 100
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err == nil && n > 0 && n <= 10000 {
			lines = n
		}
	}

	path, err := s.paths.Resolve("logs:" + filepath.Base(service) + ".log")
	if err != nil {
		http.Error(w, "log not found", http.StatusNotFound)
		return
	}
	tail, err := tailLines(path, lines)
	if err != nil {
		http.Error(w, "log not found", http.StatusNotFound)
		return
	}
	writeJSON(w, logsResponse{
		Service: service,
		Lines:   tail,
		Sources: []string{path},
		TS:      time.Now().Unix(),
	}, s.log)
}

// tailLines returns the last n lines of path, split on '\n' with the
// trailing empty element (from a final newline) dropped. Only the last
// 4 MiB of the file are scanned for lines; the whole file is still read
// into memory first.
func tailLines(path string, n int) ([]string, error) {
	const maxRead = 4 << 20
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > maxRead {
		data = data[len(data)-maxRead:]
	}

	lineStarts := []int{0}
	for i, b := range data {
		if b == '\n' {
			lineStarts = append(lineStarts, i+1)
		}
	}
	start := 0
	if len(lineStarts) > n {
		start = lineStarts[len(lineStarts)-n-1]
	}
	tail := string(data[start:])
	lines := strings.Split(tail, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}

func (s *Server) handleGetCameraSettings(w http.ResponseWriter, r *http.Request) {
	s.cameraMu.RLock()
	settings := s.camera
	s.cameraMu.RUnlock()
	writeJSON(w, settings, s.log)
}

func (s *Server) handlePostCameraSettings(w http.ResponseWriter, r *http.Request) {
	var body CameraSettings
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.cameraMu.Lock()
	s.camera = body
	s.cameraMu.Unlock()
	writeJSON(w, body, s.log)
}
