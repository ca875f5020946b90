package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/Huddle/internal/dns"
	"github.com/BioHazard786/Huddle/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	outgoingBuffer = 64
	incomingBuffer = 64
)

var ErrClosed = errors.New("relay connection closed")

// Client manages the websocket connection to the relay.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	readLimit int64

	incoming chan *protocol.Message
	outgoing chan *protocol.Message

	// done is closed by Close or when either pump fails.
	done     chan struct{}
	doneOnce sync.Once
}

// NewClient creates a client for serverURL. readLimit caps inbound frames,
// which carry images and PDFs inline.
func NewClient(serverURL string, readLimit int64) *Client {
	return &Client{
		serverURL: serverURL,
		readLimit: readLimit,
		incoming:  make(chan *protocol.Message, incomingBuffer),
		outgoing:  make(chan *protocol.Message, outgoingBuffer),
		done:      make(chan struct{}),
	}
}

// Connect dials the relay and starts the pumps.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = dns.DialContext

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn

	if c.readLimit > 0 {
		c.conn.SetReadLimit(c.readLimit)
	}
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()
	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.shutdown()
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("relay read failed", "error", err)
			}
			return
		}

		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				slog.Warn("relay write failed", "event", message.Type, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.flush()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever was queued before Close, such as a final logout.
func (c *Client) flush() {
	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send queues an event for the relay.
func (c *Client) Send(event string, payload any) error {
	msg, err := protocol.New(event, payload)
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// SendMessage queues msg for the relay.
func (c *Client) SendMessage(msg *protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Incoming returns the channel of relay events. It is closed when the
// connection ends.
func (c *Client) Incoming() <-chan *protocol.Message {
	return c.incoming
}

// Done is closed once the connection is shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection after flushing queued messages.
func (c *Client) Close() {
	c.shutdown()
}

func (c *Client) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}
