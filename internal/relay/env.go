package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/sheerbytes/camrelay/internal/catalog"
	"github.com/sheerbytes/camrelay/internal/scheduler"
	"github.com/sheerbytes/camrelay/internal/transfer"
	"github.com/sheerbytes/camrelay/pkg/protocol"
)

// Default protocol timings.
const (
	DefaultChunkTimeout = 20 * time.Second
	DefaultRestartDelay = 30 * time.Second
	DefaultMaxFileSize  = 16 << 20
)

// Sender dispatches a control command without blocking.
type Sender interface {
	Send(deviceID string, cmd protocol.Command) string
}

// Artifacts persists location snapshots and reassembled files.
type Artifacts interface {
	SaveLocation(ctx context.Context, deviceID, stem string, loc protocol.Location) (string, error)
	SaveImage(ctx context.Context, deviceID, stem string, data []byte) (string, error)
}

// Recorder receives transfer outcomes. It may be nil.
type Recorder interface {
	Record(ctx context.Context, r catalog.Record) error
}

// Timing holds the protocol delays.
type Timing struct {
	// ChunkTimeout is how long to wait for the next chunk before asking
	// for the missing ones.
	ChunkTimeout time.Duration
	// RestartDelay is how long to wait after an integrity mismatch before
	// asking for a restart. Keep it longer than ChunkTimeout.
	RestartDelay time.Duration
}

// Env is shared by every session.
type Env struct {
	Sender      Sender
	Artifacts   Artifacts
	Recorder    Recorder
	Verifier    transfer.Verifier
	Clock       scheduler.Clock
	Timing      Timing
	MaxFileSize int
	Logger      *slog.Logger
}

func (e *Env) withDefaults() *Env {
	out := *e
	if out.Clock == nil {
		out.Clock = scheduler.Real()
	}
	if out.Timing.ChunkTimeout <= 0 {
		out.Timing.ChunkTimeout = DefaultChunkTimeout
	}
	if out.Timing.RestartDelay <= 0 {
		out.Timing.RestartDelay = DefaultRestartDelay
	}
	if out.MaxFileSize <= 0 {
		out.MaxFileSize = DefaultMaxFileSize
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}
