package particle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sheerbytes/camrelay/pkg/protocol"
	"golang.org/x/time/rate"
)

// DefaultAPIURL is the Particle Cloud API base URL.
const DefaultAPIURL = "https://api.particle.io"

// Options configures a Client.
type Options struct {
	APIURL         string
	Token          string
	ProductID      int
	FunctionName   string
	Names          protocol.Names
	CallsPerSecond float64
	CallBurst      int
	ReconnectDelay time.Duration
	Logger         *slog.Logger
}

// Client talks to the Particle Cloud API for one product: it subscribes to
// the product event stream and calls the device function that carries
// control commands.
type Client struct {
	baseURL        string
	token          string
	productID      int
	function       string
	names          protocol.Names
	reconnectDelay time.Duration
	limiter        *rate.Limiter
	callClient     *http.Client
	streamClient   *http.Client
	logger         *slog.Logger
}

// New creates a client.
func New(opts Options) *Client {
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}
	if opts.FunctionName == "" {
		opts.FunctionName = protocol.DefaultTransferEventName
	}
	if opts.Names == (protocol.Names{}) {
		opts.Names = protocol.DefaultNames()
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	limit := rate.Inf
	if opts.CallsPerSecond > 0 {
		limit = rate.Limit(opts.CallsPerSecond)
	}
	if opts.CallBurst < 1 {
		opts.CallBurst = 1
	}
	return &Client{
		baseURL:        strings.TrimRight(opts.APIURL, "/"),
		token:          opts.Token,
		productID:      opts.ProductID,
		function:       opts.FunctionName,
		names:          opts.Names,
		reconnectDelay: opts.ReconnectDelay,
		limiter:        rate.NewLimiter(limit, opts.CallBurst),
		callClient:     &http.Client{Timeout: 30 * time.Second},
		streamClient:   &http.Client{},
		logger:         opts.Logger,
	}
}

// functionResponse is the body of a successful function call.
type functionResponse struct {
	ID          string `json:"id"`
	Connected   bool   `json:"connected"`
	ReturnValue int    `json:"return_value"`
}

// CallDevice invokes the device function with cmd as its argument.
// Any transport error or non-2xx status is returned as an error.
func (c *Client) CallDevice(ctx context.Context, deviceID string, cmd protocol.Command) error {
	arg, err := cmd.Encode()
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/products/%d/devices/%s/%s",
		c.baseURL, c.productID, url.PathEscape(deviceID), url.PathEscape(c.function))
	form := url.Values{"arg": {arg}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.callClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var fr functionResponse
	if err := json.Unmarshal(body, &fr); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	c.logger.Debug("function called", "device_id", deviceID, "function", c.function, "return_value", fr.ReturnValue)
	return nil
}
