// Package ws implements the feed contracts over the market data bridge's
// websocket protocol: a persistent connection carries pushed field updates,
// while intraday history and reference data are request/response exchanges
// correlated by id on the same connection.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/sylvioazevedo/shooter-server/config"
	"github.com/sylvioazevedo/shooter-server/internal/feed"
	"github.com/sylvioazevedo/shooter-server/logger"
)

// Client maintains the bridge connection. It reconnects until its context is
// cancelled and replays the active subscription after every reconnect.
type Client struct {
	cfg     config.FeedConfig
	handler feed.UpdateHandler

	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool

	writeMu sync.Mutex
	conn    *websocket.Conn

	pendMu  sync.Mutex
	pending map[string]chan *bridgeMessage

	subMu sync.Mutex
	sub   *bridgeRequest // active subscription, replayed on reconnect

	limiter *rate.Limiter
	log     *logger.Log
}

// NewClient creates a stopped client delivering updates to the handler.
func NewClient(cfg config.FeedConfig, handler feed.UpdateHandler) *Client {
	return &Client{
		cfg:     cfg,
		handler: handler,
		wg:      &sync.WaitGroup{},
		pending: make(map[string]chan *bridgeMessage),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
		log:     logger.GetLogger(),
	}
}

// Start launches the connection loop and returns once the first dial has
// succeeded, so callers can issue requests immediately after.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("feed client already running")
	}
	c.running = true
	c.ctx = ctx
	c.mu.Unlock()

	log := c.log.WithComponent("feed_client")
	log.WithFields(logger.Fields{"url": c.cfg.URL}).Info("starting feed client")

	connected := make(chan struct{})
	c.wg.Add(1)
	go c.stream(connected)

	select {
	case <-connected:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.RequestTimeout):
		return fmt.Errorf("feed client: no connection within %s", c.cfg.RequestTimeout)
	}

	log.Info("feed client started successfully")
	return nil
}

// Stop waits for the connection loop to exit. The context passed to Start
// must already be cancelled.
func (c *Client) Stop() {
	c.log.WithComponent("feed_client").Info("stopping feed client")
	c.wg.Wait()
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	c.log.WithComponent("feed_client").Info("feed client stopped")
}

// stream manages the websocket lifecycle: dial, replay subscription, read
// until failure, reconnect.
func (c *Client) stream(connected chan struct{}) {
	defer c.wg.Done()
	log := c.log.WithComponent("feed_client").WithFields(logger.Fields{"worker": "stream"})

	first := true
	for {
		if c.ctx.Err() != nil {
			return
		}

		dialer := websocket.Dialer{HandshakeTimeout: c.cfg.RequestTimeout}
		conn, _, err := dialer.DialContext(c.ctx, c.cfg.URL, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect to bridge, retrying")
			select {
			case <-time.After(5 * time.Second):
				continue
			case <-c.ctx.Done():
				return
			}
		}
		log.Info("bridge connected")

		c.writeMu.Lock()
		c.conn = conn
		c.writeMu.Unlock()

		if first {
			close(connected)
			first = false
		}

		if sub := c.activeSubscription(); sub != nil {
			if err := c.write(sub); err != nil {
				log.WithError(err).Warn("failed to replay subscription")
				c.dropConn(conn)
				continue
			}
			log.WithFields(logger.Fields{"topics": len(sub.Topics)}).Info("subscription replayed")
		}

		pingTicker := time.NewTicker(20 * time.Second)
		done := make(chan struct{})
		go func() {
			defer pingTicker.Stop()
			for {
				select {
				case <-done:
					return
				case <-pingTicker.C:
					c.writeMu.Lock()
					conn.WriteMessage(websocket.PingMessage, nil)
					c.writeMu.Unlock()
				}
			}
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				close(done)
				c.dropConn(conn)
				if c.ctx.Err() == nil {
					log.WithError(err).Warn("bridge read error, reconnecting")
				}
				break
			}
			c.dispatch(msg)
		}

		if c.ctx.Err() != nil {
			return
		}
		time.Sleep(time.Second)
	}
}

func (c *Client) dropConn(conn *websocket.Conn) {
	c.writeMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.writeMu.Unlock()
	conn.Close()
}

// dispatch routes one inbound message: pushed updates go to the handler,
// correlated responses complete their pending request.
func (c *Client) dispatch(msg []byte) {
	var m bridgeMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		c.log.WithComponent("feed_client").WithError(err).Debug("failed to decode bridge message")
		return
	}

	switch m.Type {
	case "update":
		c.handler.OnUpdate(m.Topic, parseFields(m.Fields))
	case "response":
		c.pendMu.Lock()
		ch, ok := c.pending[m.ID]
		if ok {
			delete(c.pending, m.ID)
		}
		c.pendMu.Unlock()
		if ok {
			ch <- &m
		}
	default:
		c.log.WithComponent("feed_client").WithFields(logger.Fields{"type": m.Type}).Debug("ignoring bridge message")
	}
}

// Subscribe registers the topic set on the bridge. The subscription is kept
// and replayed after reconnects until replaced by a later call.
func (c *Client) Subscribe(ctx context.Context, topics []string, fields []string, opts feed.SubscribeOptions) error {
	req := &bridgeRequest{
		Op:     "subscribe",
		ID:     uuid.NewString(),
		Topics: topics,
		Fields: fields,
	}
	if opts.IntervalSeconds > 0 {
		req.Options = &requestOptions{IntervalSeconds: opts.IntervalSeconds}
	}

	c.subMu.Lock()
	c.sub = req
	c.subMu.Unlock()

	resp, err := c.request(ctx, req)
	if err != nil {
		return fmt.Errorf("feed: subscribing %d topics: %w", len(topics), err)
	}
	if resp.Error != "" {
		return fmt.Errorf("feed: subscription rejected: %s", resp.Error)
	}

	c.log.WithComponent("feed_client").WithFields(logger.Fields{
		"topics": len(topics),
		"fields": fields,
	}).Info("subscription active")
	return nil
}

// GetIntradayBars requests historical bars for the topics over the window.
func (c *Client) GetIntradayBars(ctx context.Context, topics []string, barMinutes int, start, end time.Time) (map[string][]feed.Bar, error) {
	req := &bridgeRequest{
		Op:         "intraday",
		ID:         uuid.NewString(),
		Topics:     topics,
		BarMinutes: barMinutes,
		Start:      &start,
		End:        &end,
	}

	resp, err := c.request(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("feed: intraday request: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("feed: intraday request rejected: %s", resp.Error)
	}

	out := make(map[string][]feed.Bar, len(resp.Bars))
	for topic, bars := range resp.Bars {
		converted := make([]feed.Bar, len(bars))
		for i, b := range bars {
			converted[i] = feed.Bar{
				Time:      b.Time,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    b.Volume,
				NumEvents: b.NumEvents,
				Value:     b.Value,
			}
		}
		out[topic] = converted
	}
	return out, nil
}

// GetReferenceFields requests static reference fields for the topics.
func (c *Client) GetReferenceFields(ctx context.Context, topics []string, fields []string) (map[string]map[string]float64, error) {
	req := &bridgeRequest{
		Op:     "refdata",
		ID:     uuid.NewString(),
		Topics: topics,
		Fields: fields,
	}

	resp, err := c.request(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("feed: reference request: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("feed: reference request rejected: %s", resp.Error)
	}
	return resp.RefData, nil
}

// request sends one correlated request and waits for its response, pacing
// outbound traffic through the rate limiter.
func (c *Client) request(ctx context.Context, req *bridgeRequest) (*bridgeMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ch := make(chan *bridgeMessage, 1)
	c.pendMu.Lock()
	c.pending[req.ID] = ch
	c.pendMu.Unlock()

	if err := c.write(req); err != nil {
		c.pendMu.Lock()
		delete(c.pending, req.ID)
		c.pendMu.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.pendMu.Lock()
		delete(c.pending, req.ID)
		c.pendMu.Unlock()
		return nil, ctx.Err()
	case <-time.After(c.cfg.RequestTimeout):
		c.pendMu.Lock()
		delete(c.pending, req.ID)
		c.pendMu.Unlock()
		return nil, fmt.Errorf("no response within %s", c.cfg.RequestTimeout)
	}
}

func (c *Client) write(req *bridgeRequest) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected to bridge")
	}
	return c.conn.WriteJSON(req)
}

func (c *Client) activeSubscription() *bridgeRequest {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.sub
}
