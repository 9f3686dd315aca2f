package particle

import (
	"context"
	"fmt"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/sheerbytes/camrelay/pkg/protocol"
	backoff "gopkg.in/cenkalti/backoff.v1"
)

// Run subscribes to the product event stream and calls handle for every
// event, reconnecting after ReconnectDelay whenever the stream ends. It
// returns when ctx is cancelled. The Last-Event-ID of the previous
// connection is sent on reconnect.
func (c *Client) Run(ctx context.Context, handle func(protocol.Event)) error {
	stream := c.newStream()
	for {
		err := stream.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
			c.dispatch(msg, handle)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.logger.Warn("event stream ended", "error", err, "retry_in", c.reconnectDelay)
		} else {
			c.logger.Info("event stream closed by server", "retry_in", c.reconnectDelay)
		}

		timer := time.NewTimer(c.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) newStream() *sse.Client {
	stream := sse.NewClient(fmt.Sprintf("%s/v1/products/%d/events", c.baseURL, c.productID))
	stream.Connection = c.streamClient
	stream.Headers["Authorization"] = "Bearer " + c.token
	// One attempt per subscription; Run owns the reconnect delay.
	stream.ReconnectStrategy = &backoff.StopBackOff{}
	stream.OnConnect(func(*sse.Client) {
		c.logger.Info("event stream connected", "product_id", c.productID)
	})
	return stream
}

// dispatch converts one stream message. Messages without a name or data
// (keep-alives, retry hints) are skipped.
func (c *Client) dispatch(msg *sse.Event, handle func(protocol.Event)) {
	name := string(msg.Event)
	if name == "" || len(msg.Data) == 0 {
		return
	}
	ce, err := protocol.DecodeCloudEvent(msg.Data)
	if err != nil {
		c.logger.Warn("invalid stream record", "event", name, "error", err)
		return
	}
	if ce.Name == "" {
		ce.Name = name
	}
	if err := ce.ValidateBasic(); err != nil {
		c.logger.Warn("invalid stream record", "event", name, "error", err)
		return
	}
	handle(ce.Event(c.names))
}
