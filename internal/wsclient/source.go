package wsclient

import (
	"context"
	"log/slog"
	"time"

	"github.com/sheerbytes/camrelay/pkg/protocol"
)

// Source is a reconnecting event feed.
type Source struct {
	URL            string
	Token          string
	Names          protocol.Names
	ReconnectDelay time.Duration
	Logger         *slog.Logger
}

// Run dials the feed and delivers events to handle, redialing after
// ReconnectDelay whenever the connection drops. It returns when ctx is
// cancelled.
func (s *Source) Run(ctx context.Context, handle func(protocol.Event)) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	names := s.Names
	if names == (protocol.Names{}) {
		names = protocol.DefaultNames()
	}
	delay := s.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	for {
		conn, err := Dial(ctx, s.URL, s.Token, logger)
		if err == nil {
			logger.Info("event feed connected", "url", s.URL)
			err = conn.ReadLoop(ctx, names, handle)
			_ = conn.Close()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("event feed disconnected", "error", err, "retry_in", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
