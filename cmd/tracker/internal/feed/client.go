// Package feed owns the single upstream connection to the market-data provider.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-tracker/pkg/config"
	"github.com/shubham-shewale/stock-tracker/pkg/models"
)

const (
	maxMessageSize = 1 << 20
	writeWait      = 5 * time.Second
)

// ErrFeedUnavailable is returned by Subscribe/Unsubscribe while the upstream link is down.
var ErrFeedUnavailable = errors.New("upstream feed unavailable")

type Options struct {
	WSURL        string
	RestURL      string
	APIKey       string
	DialTimeout  time.Duration
	QuoteTimeout time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	TickBuffer   int
}

func OptionsFromConfig(cfg config.FinnhubConfig) Options {
	return Options{
		WSURL:        cfg.WSURL,
		RestURL:      cfg.RestURL,
		APIKey:       cfg.APIKey,
		DialTimeout:  cfg.DialTimeout,
		QuoteTimeout: cfg.QuoteTimeout,
		ReconnectMin: cfg.ReconnectMin,
		ReconnectMax: cfg.ReconnectMax,
		TickBuffer:   cfg.TickBuffer,
	}
}

type Client struct {
	opts   Options
	logger *zap.Logger
	rest   *RESTClient
	ticks  chan models.Tick

	mu   sync.Mutex // serializes frame writes; guards conn
	conn net.Conn

	wantMu sync.Mutex
	wanted map[string]struct{}

	onStatus func(connected bool)
}

func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.TickBuffer <= 0 {
		opts.TickBuffer = 1024
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = 500 * time.Millisecond
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 30 * time.Second
	}
	return &Client{
		opts:   opts,
		logger: logger,
		rest:   NewRESTClient(opts.RestURL, opts.APIKey, opts.QuoteTimeout, logger),
		ticks:  make(chan models.Tick, opts.TickBuffer),
		wanted: make(map[string]struct{}),
	}
}

// Ticks delivers every parsed trade in provider order.
func (c *Client) Ticks() <-chan models.Tick { return c.ticks }

// OnConnectionChange registers a hook called whenever the link goes up or down.
// Must be set before Run.
func (c *Client) OnConnectionChange(fn func(connected bool)) { c.onStatus = fn }

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Subscribe asks the provider to stream trades for symbol. The symbol is
// remembered and re-subscribed after every reconnect, even when this call
// fails with ErrFeedUnavailable.
func (c *Client) Subscribe(symbol string) error {
	c.wantMu.Lock()
	c.wanted[symbol] = struct{}{}
	c.wantMu.Unlock()

	c.logger.Info("Subscribing upstream", zap.String("symbol", symbol))
	return c.send(models.ControlMessage{Type: models.FrameSubscribe, Symbol: symbol})
}

func (c *Client) Unsubscribe(symbol string) error {
	c.wantMu.Lock()
	delete(c.wanted, symbol)
	c.wantMu.Unlock()

	c.logger.Info("Unsubscribing upstream", zap.String("symbol", symbol))
	return c.send(models.ControlMessage{Type: models.FrameUnsubscribe, Symbol: symbol})
}

// Wanted returns the symbols the client keeps subscribed across reconnects.
func (c *Client) Wanted() []string {
	c.wantMu.Lock()
	defer c.wantMu.Unlock()
	out := make([]string, 0, len(c.wanted))
	for s := range c.wanted {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (c *Client) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	return c.rest.Quote(ctx, symbol)
}

func (c *Client) CompanyNews(ctx context.Context, symbol, from, to string) ([]models.NewsItem, error) {
	return c.rest.CompanyNews(ctx, symbol, from, to)
}

func (c *Client) send(msg models.ControlMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrFeedUnavailable
	}
	if err := c.writeFrame(ws.OpText, payload); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrFeedUnavailable, msg.Type, msg.Symbol, err)
	}
	return nil
}

// writeFrame must be called with mu held
func (c *Client) writeFrame(op ws.OpCode, payload []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return wsutil.WriteClientMessage(c.conn, op, payload)
}

// Run keeps the upstream connection alive until ctx is cancelled, redialing
// with exponential backoff after every loss.
func (c *Client) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.ReconnectMin
	b.MaxInterval = c.opts.ReconnectMax

	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			b.Reset()
		}

		wait := b.NextBackOff()
		c.logger.Warn("Upstream feed connection lost", zap.Error(err), zap.Duration("retry_in", wait))

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

// session dials once and reads until the connection fails.
func (c *Client) session(ctx context.Context) (bool, error) {
	conn, r, err := c.dial(ctx)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setStatus(true)
	c.logger.Info("Connected to upstream feed")

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
		c.setStatus(false)
	}()

	c.resubscribe()
	return true, c.readLoop(ctx, r)
}

func (c *Client) dial(ctx context.Context) (net.Conn, io.Reader, error) {
	u, err := url.Parse(c.opts.WSURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid feed url: %w", err)
	}
	q := u.Query()
	q.Set("token", c.opts.APIKey)
	u.RawQuery = q.Encode()

	dialer := ws.Dialer{Timeout: c.opts.DialTimeout}
	conn, br, _, err := dialer.Dial(ctx, u.String())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dial: %v", ErrFeedUnavailable, err)
	}

	// Frames sent right after the handshake may already sit in br
	var r io.Reader = conn
	if br != nil {
		r = io.MultiReader(br, conn)
	}
	return conn, r, nil
}

func (c *Client) resubscribe() {
	for _, sym := range c.Wanted() {
		if err := c.send(models.ControlMessage{Type: models.FrameSubscribe, Symbol: sym}); err != nil {
			c.logger.Error("Failed to resubscribe upstream", zap.String("symbol", sym), zap.Error(err))
		}
	}
}

func (c *Client) setStatus(up bool) {
	if c.onStatus != nil {
		c.onStatus(up)
	}
}

func (c *Client) readLoop(ctx context.Context, r io.Reader) error {
	var buf []byte

	for {
		header, err := ws.ReadHeader(r)
		if err != nil {
			return err
		}
		if header.Length > maxMessageSize || int64(len(buf))+header.Length > maxMessageSize {
			return fmt.Errorf("upstream frame too big: %d bytes", header.Length)
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return err
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		switch header.OpCode {
		case ws.OpClose:
			return io.EOF
		case ws.OpPing:
			c.mu.Lock()
			err := c.writeFrame(ws.OpPong, payload)
			c.mu.Unlock()
			if err != nil {
				return err
			}
		case ws.OpPong:
		case ws.OpText, ws.OpBinary, ws.OpContinuation:
			buf = append(buf, payload...)
			if !header.Fin {
				continue
			}
			if err := c.dispatch(ctx, buf); err != nil {
				return err
			}
			buf = nil
		}
	}
}

// dispatch only fails when ctx is cancelled while the tick channel is full.
func (c *Client) dispatch(ctx context.Context, data []byte) error {
	var msg models.TradeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("Invalid upstream frame", zap.Error(err), zap.ByteString("frame", data))
		return nil
	}

	switch msg.Type {
	case models.FrameTrade:
		for _, tick := range msg.Ticks() {
			select {
			case c.ticks <- tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	case models.FramePing:
	case models.FrameError:
		c.logger.Warn("Upstream feed error", zap.String("msg", msg.Msg))
	default:
		c.logger.Debug("Ignoring upstream frame", zap.String("type", msg.Type))
	}
	return nil
}
