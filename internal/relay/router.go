package relay

import (
	"context"
	"log/slog"

	"github.com/sheerbytes/camrelay/internal/session"
	"github.com/sheerbytes/camrelay/pkg/protocol"
)

// Router demultiplexes inbound events by device and kind.
type Router struct {
	env      *Env
	sessions *session.Store[*Session]
	logger   *slog.Logger
}

// NewRouter creates a router. Sessions are created lazily per device.
func NewRouter(env *Env) *Router {
	env = env.withDefaults()
	return &Router{
		env: env,
		sessions: session.NewStore(func(deviceID string) *Session {
			return newSession(deviceID, env)
		}),
		logger: env.Logger,
	}
}

// Route handles one event. Malformed payloads are logged and dropped; Route
// never fails.
func (r *Router) Route(ctx context.Context, ev protocol.Event) {
	if ev.DeviceID == "" {
		r.logger.Warn("dropping event without device id", "name", ev.Name)
		return
	}

	switch ev.Kind {
	case protocol.KindLocation:
		sess := r.session(ev.DeviceID)
		loc, err := protocol.ParseLocation(ev.Payload)
		if err != nil {
			r.logger.Warn("dropping malformed location event", "device_id", ev.DeviceID, "error", err, "data", ev.Payload)
			return
		}
		r.logger.Debug("location cached", "device_id", ev.DeviceID)
		sess.CacheLocation(loc)

	case protocol.KindTransfer:
		sess := r.session(ev.DeviceID)
		r.logger.Debug("transfer event", "device_id", ev.DeviceID, "size", len(ev.Payload))
		frame, err := protocol.ParseFrame(ev.Payload)
		if err != nil {
			r.logger.Warn("dropping malformed transfer event", "device_id", ev.DeviceID, "error", err, "size", len(ev.Payload))
			return
		}
		sess.Handle(ctx, frame, ev.Timestamp)

	default:
		r.logger.Debug("ignoring event", "device_id", ev.DeviceID, "name", ev.Name)
	}
}

func (r *Router) session(deviceID string) *Session {
	sess, created := r.sessions.GetOrCreate(deviceID)
	if created {
		r.logger.Info("tracking new device", "device_id", deviceID, "devices", r.sessions.Count())
	}
	return sess
}

// Session returns the session for deviceID if one exists.
func (r *Router) Session(deviceID string) (*Session, bool) {
	return r.sessions.Get(deviceID)
}

// Devices returns the IDs of every device seen so far.
func (r *Router) Devices() []string {
	return r.sessions.DeviceIDs()
}
