package command

import (
	"context"
	"log/slog"

	"github.com/sheerbytes/camrelay/pkg/protocol"
)

// LogCaller is a Caller that only logs commands. It serves event sources
// that have no path back to the device.
type LogCaller struct {
	Logger *slog.Logger
}

// CallDevice logs cmd and reports success.
func (c LogCaller) CallDevice(ctx context.Context, deviceID string, cmd protocol.Command) error {
	arg, err := cmd.Encode()
	if err != nil {
		return err
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("command not delivered, no device transport", "device_id", deviceID, "command", arg)
	return nil
}
