// Package client follows a campaign's live metrics. It prefers the
// WebSocket stream and falls back to polling whenever the stream is not
// confirmed connected.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"campaign-delivery/internal/live"
)

var ErrUnauthorized = errors.New("live: unauthorized")

type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StatePollingOnly
	StateUnauthorized
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StatePollingOnly:
		return "polling-only"
	case StateUnauthorized:
		return "unauthorized"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) terminal() bool {
	return s == StateUnauthorized || s == StateClosed
}

type Options struct {
	// BaseURL is the API root, e.g. https://api.example.com.
	BaseURL    string
	Token      string
	CampaignID uuid.UUID

	PollInterval   time.Duration
	ReconnectDelay time.Duration
	MaxReconnects  uint64

	HTTPClient *http.Client
	OnSnapshot func(live.Snapshot)
	OnState    func(State)
}

type Client struct {
	opts Options

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

func New(opts Options) *Client {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = 5
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Client{opts: opts, state: StateConnecting}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state.terminal() || c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

// unauthorized stops polling and reconnection for good.
func (c *Client) unauthorized() {
	c.setState(StateUnauthorized)
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Client) shouldPoll() bool {
	s := c.State()
	return s != StateConnected && !s.terminal()
}

// Run follows the campaign until ctx is done. It returns ErrUnauthorized if
// the server rejects the token and nil otherwise.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pollLoop(ctx)
	}()

	c.streamLoop(ctx)
	cancel()
	wg.Wait()

	if c.State() == StateUnauthorized {
		return ErrUnauthorized
	}
	c.setState(StateClosed)
	return nil
}

func (c *Client) streamLoop(ctx context.Context) {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.ReconnectDelay), c.opts.MaxReconnects),
		ctx,
	)

	for {
		connected, err := c.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrUnauthorized) {
			c.unauthorized()
			return
		}
		if connected {
			b.Reset()
		}
		log.Printf("[LiveClient] campaign %s stream: %v", c.opts.CampaignID, err)

		next := b.NextBackOff()
		if next == backoff.Stop {
			c.setState(StatePollingOnly)
			<-ctx.Done()
			return
		}
		c.setState(StateReconnecting)

		t := time.NewTimer(next)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// stream holds one WebSocket session. connected reports whether the
// handshake succeeded before the session ended.
func (c *Client) stream(ctx context.Context) (connected bool, err error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	conn, resp, err := websocket.Dial(ctx, c.streamURL(), &websocket.DialOptions{
		HTTPClient: c.opts.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return false, ErrUnauthorized
		}
		return false, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	c.setState(StateConnected)
	for {
		var snap live.Snapshot
		if err := wsjson.Read(ctx, conn, &snap); err != nil {
			return true, err
		}
		c.emit(snap)
	}
}

func (c *Client) pollLoop(ctx context.Context) {
	poll := func() {
		if c.shouldPoll() {
			c.pollOnce(ctx)
		}
	}
	poll()

	t := time.NewTicker(c.opts.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			poll()
		}
	}
}

func (c *Client) pollOnce(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.metricsURL(), nil)
	if err != nil {
		return
	}
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[LiveClient] poll campaign %s: %v", c.opts.CampaignID, err)
		}
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.unauthorized()
	case resp.StatusCode != http.StatusOK:
		log.Printf("[LiveClient] poll campaign %s: status %d", c.opts.CampaignID, resp.StatusCode)
	default:
		var snap live.Snapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			log.Printf("[LiveClient] poll campaign %s: decode: %v", c.opts.CampaignID, err)
			return
		}
		// a stream may have connected while this poll was in flight
		if c.shouldPoll() {
			c.emit(snap)
		}
	}
}

func (c *Client) emit(snap live.Snapshot) {
	if c.opts.OnSnapshot != nil {
		c.opts.OnSnapshot(snap)
	}
}

func (c *Client) metricsURL() string {
	return fmt.Sprintf("%s/campaigns/%s/metrics", c.opts.BaseURL, c.opts.CampaignID)
}

func (c *Client) streamURL() string {
	u := fmt.Sprintf("%s/campaigns/%s/live", c.opts.BaseURL, c.opts.CampaignID)
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}
