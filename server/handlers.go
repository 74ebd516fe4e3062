package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/zeebo/blake3"

	"github.com/MoriEdan/libvtsoffscreen/snapper"
)

var contentTypes = map[snapper.Format]string{
	snapper.PNG:  "image/png",
	snapper.TIFF: "image/tiff",
	snapper.BMP:  "image/bmp",
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats := s.capturer.Stats()
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Workers:       len(stats.Workers),
		Queued:        stats.Queued,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.capturer.Stats()
	resp := StatsResponse{
		Workers: make([]WorkerStatResponse, 0, len(stats.Workers)),
		Queued:  stats.Queued,
	}
	for _, ws := range stats.Workers {
		resp.Workers = append(resp.Workers, WorkerStatResponse{
			ID:              ws.Id,
			Device:          ws.Device,
			Requests:        ws.Requests,
			Failures:        ws.Failures,
			LastSnapTimeMs:  float64(ws.LastSnapTime.Nanoseconds()) / 1e6,
			TotalSnapTimeMs: float64(ws.TotalSnapTime.Nanoseconds()) / 1e6,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	req, snap, elapsed, ok := s.capture(w, r)
	if !ok {
		return
	}

	format, _ := parseFormat(req.Format)
	var buf bytes.Buffer
	if err := snap.Image.Encode(&buf, format); err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	resp := SnapshotResponse{
		ID:        RequestID(r.Context()),
		Name:      req.Name,
		Width:     snap.Image.Width,
		Height:    snap.Image.Height,
		Format:    format.String(),
		Image:     buf.Bytes(),
		Digest:    digest(snap.Image.Pix),
		Keypoints: make([]KeypointResponse, 0, len(snap.Keypoints)),
		ElapsedMs: elapsed.Milliseconds(),
	}
	for _, kp := range snap.Keypoints {
		resp.Keypoints = append(resp.Keypoints, KeypointResponse{
			Image: [2]float64(kp.Image),
			World: [3]float64(kp.World),
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSnapshotImage(w http.ResponseWriter, r *http.Request) {
	req, snap, _, ok := s.capture(w, r)
	if !ok {
		return
	}

	format, _ := parseFormat(req.Format)
	var buf bytes.Buffer
	if err := snap.Image.Encode(&buf, format); err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", contentTypes[format])
	w.Header().Set("X-Snapshot-Digest", digest(snap.Image.Pix))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// capture decodes and validates the request body and runs it through the
// pool. On failure the error response has already been written.
func (s *Server) capture(w http.ResponseWriter, r *http.Request) (*SnapshotRequest, *snapper.Snapshot, time.Duration, bool) {
	var req SnapshotRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return nil, nil, 0, false
	}
	if _, err := parseFormat(req.Format); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return nil, nil, 0, false
	}

	view, err := req.ToView()
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return nil, nil, 0, false
	}
	if view.Viewport.Width > s.cfg.MaxViewport || view.Viewport.Height > s.cfg.MaxViewport {
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("viewport %s exceeds the %d pixel limit", view.Viewport, s.cfg.MaxViewport))
		return nil, nil, 0, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	snap, err := s.capturer.Capture(ctx, view)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Errorf("capture %s failed: %v", RequestID(r.Context()), err)
		}
		s.writeError(w, r, status, err.Error())
		return nil, nil, 0, false
	}
	return &req, snap, time.Since(start), true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, snapper.ErrInvalidViewport):
		return http.StatusBadRequest
	case errors.Is(err, snapper.ErrPoolShutdown), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case errors.Is(err, snapper.ErrNotReady), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func parseFormat(name string) (snapper.Format, error) {
	if name == "" {
		return snapper.PNG, nil
	}
	return snapper.FormatFromExt("." + name)
}

func digest(pix []byte) string {
	sum := blake3.Sum256(pix)
	return "blake3:" + hex.EncodeToString(sum[:])
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message, RequestID: RequestID(r.Context())})
}
