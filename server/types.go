package server

import (
	"github.com/MoriEdan/libvtsoffscreen/config"
)

// Body of a snapshot request.
type SnapshotRequest struct {
	config.ViewSpec

	// Image format: png (default), tiff or bmp.
	Format string `json:"format,omitempty"`
}

type KeypointResponse struct {
	Image [2]float64 `json:"image"`
	World [3]float64 `json:"world"`
}

type SnapshotResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`

	// Encoded image, base64.
	Image []byte `json:"image"`

	// blake3 digest of the raw BGR pixels.
	Digest string `json:"digest"`

	Keypoints []KeypointResponse `json:"keypoints"`
	ElapsedMs int64              `json:"elapsed_ms"`
}

type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Workers       int    `json:"workers"`
	Queued        int    `json:"queued"`
}

type WorkerStatResponse struct {
	ID              string  `json:"id"`
	Device          string  `json:"device"`
	Requests        uint64  `json:"requests"`
	Failures        uint64  `json:"failures"`
	LastSnapTimeMs  float64 `json:"last_snap_time_ms"`
	TotalSnapTimeMs float64 `json:"total_snap_time_ms"`
}

type StatsResponse struct {
	Workers []WorkerStatResponse `json:"workers"`
	Queued  int                  `json:"queued"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}
