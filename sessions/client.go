package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/fenilmodi00/giftlist-backend/models"
	"github.com/fenilmodi00/giftlist-backend/shared"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Client is one session's end of the channel. Replies are matched to
// requests by request id; everything else arrives on Updates.
type Client struct {
	conn    *websocket.Conn
	pending map[string]chan models.SessionMessage
	mutex   sync.Mutex
	updates chan models.SessionMessage
	closed  bool
	done    chan struct{}
}

// Dial connects to a hub, e.g. ws://localhost:8081/ws
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, shared.NewNetworkError("SessionClient", "Dial", err)
	}

	c := &Client{
		conn:    conn,
		pending: make(map[string]chan models.SessionMessage),
		updates: make(chan models.SessionMessage, 32),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Request sends msg and waits for the reply carrying its request id
func (c *Client) Request(ctx context.Context, msg models.SessionMessage) (models.SessionMessage, error) {
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	replyCh := make(chan models.SessionMessage, 1)

	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return models.SessionMessage{}, shared.NewNetworkError("SessionClient", "Request", errors.New("session closed"))
	}
	c.pending[msg.RequestID] = replyCh
	c.mutex.Unlock()

	defer func() {
		c.mutex.Lock()
		delete(c.pending, msg.RequestID)
		c.mutex.Unlock()
	}()

	if err := c.Send(ctx, msg); err != nil {
		return models.SessionMessage{}, err
	}

	select {
	case <-ctx.Done():
		return models.SessionMessage{}, ctx.Err()
	case reply, ok := <-replyCh:
		if !ok {
			return models.SessionMessage{}, shared.NewNetworkError("SessionClient", "Request", errors.New("session closed"))
		}
		return reply, nil
	}
}

// Send writes msg without waiting for a reply
func (c *Client) Send(ctx context.Context, msg models.SessionMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", msg.Type, err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return shared.NewNetworkError("SessionClient", "Send", err)
	}
	return nil
}

// Updates delivers broadcasts and unmatched replies. It is closed when the
// connection ends.
func (c *Client) Updates() <-chan models.SessionMessage {
	return c.updates
}

// Close ends the session
func (c *Client) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	<-c.done
	return err
}

func (c *Client) readLoop() {
	logger := logrus.WithField("component", "SessionClient")
	defer func() {
		c.mutex.Lock()
		c.closed = true
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mutex.Unlock()
		close(c.updates)
		close(c.done)
	}()

	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			logger.WithError(err).Debug("Session read ended")
			return
		}

		var msg models.SessionMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.WithError(err).Warn("Dropping malformed message")
			continue
		}

		c.mutex.Lock()
		replyCh, waiting := c.pending[msg.RequestID]
		if waiting && msg.RequestID != "" {
			delete(c.pending, msg.RequestID)
		}
		c.mutex.Unlock()

		if waiting && msg.RequestID != "" {
			replyCh <- msg
			continue
		}

		select {
		case c.updates <- msg:
		default:
			logger.WithField("type", msg.Type).Warn("Update buffer full, dropping message")
		}
	}
}
