package domain

import "time"

// ServerState is the lifecycle state of the mirroring server.
type ServerState string

const (
	StateListening  ServerState = "listening"
	StateStreaming  ServerState = "streaming"
	StateRestarting ServerState = "restarting"
	StateStopped    ServerState = "stopped"
)

// StatusSnapshot is the read-only view of the server the GUI and the
// status endpoints consume.
type StatusSnapshot struct {
	State          ServerState   `json:"state"`
	BackgroundMode bool          `json:"backgroundMode"`
	FPS            int           `json:"fps"`
	QualityPercent int           `json:"quality"`
	OutputScale    float64       `json:"outputScale"`
	LatencyMS      int           `json:"latency"`
	AudioLatencyMS int           `json:"audioLatency"`
	AudioEnabled   bool          `json:"audioEnabled"`
	AudioQuality   float64       `json:"audioQuality"`
	Mode           UserMode      `json:"mode"`
	Peers          []PeerInfo    `json:"-"`
	PeerCount      int           `json:"peerCount"`
	DroppedFrames  uint64        `json:"droppedFrames"`
	FramesSent     uint64        `json:"framesSent"`
	AvgFrameTimeMS float64       `json:"avgFrameTime"`
	MemoryMiB      float64       `json:"memoryMiB"`
	Uptime         time.Duration `json:"-"`
	UptimeSeconds  int64         `json:"uptimeSeconds"`
	RecentErrors   []string      `json:"recentErrors"`
}
