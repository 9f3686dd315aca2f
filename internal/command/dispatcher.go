package command

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sheerbytes/camrelay/pkg/protocol"
)

// DefaultRetryDelay is the fixed pause between delivery attempts.
const DefaultRetryDelay = 20 * time.Second

// Caller delivers one command to a device. Any error counts as a delivery
// failure and is retried.
type Caller interface {
	CallDevice(ctx context.Context, deviceID string, cmd protocol.Command) error
}

// Dispatcher sends commands in the background and retries failed deliveries
// at a fixed delay with no attempt limit. Commands are idempotent from the
// device's side, so concurrent dispatches to the same device are allowed.
type Dispatcher struct {
	caller Caller
	delay  time.Duration
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders wg.Add in Send against Close.
	mu     sync.Mutex
	closed bool

	inFlight atomic.Int64
	attempts atomic.Int64
}

// NewDispatcher creates a dispatcher. A non-positive delay uses DefaultRetryDelay.
func NewDispatcher(caller Caller, retryDelay time.Duration, logger *slog.Logger) *Dispatcher {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		caller: caller,
		delay:  retryDelay,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Send starts delivering cmd and returns immediately with the dispatch ID.
// After Close the command is logged and dropped.
func (d *Dispatcher) Send(deviceID string, cmd protocol.Command) string {
	id := uuid.NewString()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("dispatcher closed, dropping command", "dispatch_id", id, "device_id", deviceID, "op", cmd.Op, "file", cmd.File)
		return id
	}
	d.inFlight.Add(1)
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer d.inFlight.Add(-1)
		d.deliver(id, deviceID, cmd)
	}()
	return id
}

func (d *Dispatcher) deliver(id, deviceID string, cmd protocol.Command) {
	logger := d.logger.With("dispatch_id", id, "device_id", deviceID, "op", cmd.Op, "file", cmd.File)
	logger.Info("sending command", "chunks", cmd.Chunks)

	for attempt := 1; ; attempt++ {
		d.attempts.Add(1)
		err := d.caller.CallDevice(d.ctx, deviceID, cmd)
		if err == nil {
			logger.Debug("command delivered", "attempt", attempt)
			return
		}
		if d.ctx.Err() != nil {
			logger.Debug("dispatcher closed, abandoning command", "attempt", attempt)
			return
		}
		logger.Warn("command delivery failed, will retry", "attempt", attempt, "retry_in", d.delay, "error", err)

		timer := time.NewTimer(d.delay)
		select {
		case <-d.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// InFlight returns the number of commands not yet delivered.
func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

// Attempts returns the total number of delivery attempts made.
func (d *Dispatcher) Attempts() int {
	return int(d.attempts.Load())
}

// Wait blocks until every dispatched command has been delivered or abandoned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close abandons pending retries and waits for delivery goroutines to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}
