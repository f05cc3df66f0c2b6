// Package pubsub implements the compute resource's pub/sub channel (spec.md
// component C4): a drainable queue of hints fed by a websocket connection,
// with an inert double when subscription is disabled.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dendro-project/compute-resource-daemon/internal/controlplane"
)

// MockSubscribeKey disables the websocket connection entirely: Client
// still satisfies the same interface but Drain always returns nothing.
// Used by integration tests that don't want a live pub/sub dependency.
const MockSubscribeKey = "mock-subscribe-key"

// EventKind is the interpreted type of an inbound pub/sub message.
type EventKind string

const (
	EventNewPendingJob   EventKind = "newPendingJob"
	EventJobStatusChanged EventKind = "jobStatusChanged"
)

// Event is one interpreted pub/sub message.
type Event struct {
	Kind  EventKind
	JobID string
}

// wireMessage is the raw JSON shape published on the channel. interpretType
// accepts the type value jobStatusChaged, which matches the upstream
// publisher's historical typo, as well as the corrected jobStatusChanged.
type wireMessage struct {
	Type  string `json:"type"`
	JobID string `json:"jobId"`
}

// Client maintains a websocket connection to the pub/sub channel and
// exposes received hints as a drainable FIFO queue. The orchestrator reads
// with Drain; it never blocks waiting for new events.
type Client struct {
	mu     sync.Mutex
	queue  []Event
	conn   *websocket.Conn
	cancel context.CancelFunc
	mocked bool
}

// Connect opens a websocket connection using the subscription parameters
// fetched from the control plane. If sub.SubscribeKey == MockSubscribeKey,
// no connection is made and the returned Client is an inert double.
func Connect(ctx context.Context, sub *controlplane.PubsubSubscription, wsURL string) (*Client, error) {
	if sub.SubscribeKey == MockSubscribeKey {
		return &Client{mocked: true}, nil
	}

	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid pubsub url: %w", err)
	}
	q := u.Query()
	q.Set("channel", sub.Channel)
	q.Set("uuid", sub.UserID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial pubsub channel %s: %w", sub.Channel, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{conn: conn, cancel: cancel}
	go c.readLoop(runCtx)
	return c, nil
}

// readLoop reads messages until the connection closes or Close is called.
// A read error is logged and ends the loop; the connection is not
// re-established, and the orchestrator's polling backstop (spec.md §4.5
// item 1) covers any missed hints.
func (c *Client) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Printf("pubsub: read error, closing: %v", err)
			return
		}

		var raw wireMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			log.Printf("pubsub: could not parse message, dropping: %v", err)
			continue
		}

		kind, ok := interpretType(raw.Type)
		if !ok {
			continue
		}

		c.mu.Lock()
		c.queue = append(c.queue, Event{Kind: kind, JobID: raw.JobID})
		c.mu.Unlock()
	}
}

func interpretType(t string) (EventKind, bool) {
	switch t {
	case string(EventNewPendingJob):
		return EventNewPendingJob, true
	case string(EventJobStatusChanged), "jobStatusChaged":
		return EventJobStatusChanged, true
	default:
		return "", false
	}
}

// Drain returns and clears all events queued since the last Drain. Never
// blocks; returns an empty (non-nil) slice if nothing is queued or the
// client is in mock mode.
func (c *Client) Drain() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	drained := c.queue
	c.queue = nil
	if drained == nil {
		return []Event{}
	}
	return drained
}

// Close tears down the websocket connection, if any.
func (c *Client) Close() error {
	if c.mocked {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		return c.conn.Close()
	}
	return nil
}
