// Package sessions carries coordinator messages to and from open sessions
// over WebSocket.
package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/fenilmodi00/giftlist-backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 5 * time.Second

// MessageHandler answers one inbound message; a nil reply sends nothing
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg models.SessionMessage) (*models.SessionMessage, error)
}

// Hub accepts session connections on /ws, routes their messages to the
// handler and fans broadcasts out to every session
type Hub struct {
	listener net.Listener
	server   *http.Server

	handler   MessageHandler
	handlerMu sync.RWMutex

	sessions   map[string]*websocket.Conn
	sessionsMu sync.RWMutex

	broadcast chan models.SessionMessage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *logrus.Entry
}

// NewHub creates a hub and starts its broadcast loop
func NewHub(handler MessageHandler) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		handler:   handler,
		sessions:  make(map[string]*websocket.Conn),
		broadcast: make(chan models.SessionMessage, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logrus.WithField("component", "SessionHub"),
	}

	h.wg.Add(1)
	go h.broadcastLoop()
	return h
}

// SetHandler replaces the message handler
func (h *Hub) SetHandler(handler MessageHandler) {
	h.handlerMu.Lock()
	defer h.handlerMu.Unlock()
	h.handler = handler
}

// Handler returns the HTTP routes of the hub
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWebSocket)
	mux.HandleFunc("/health", h.handleHealth)
	return mux
}

// Start listens on addr and serves the hub routes
func (h *Hub) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	h.listener = ln
	h.server = &http.Server{
		Handler:     h.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.logger.WithField("addr", ln.Addr().String()).Info("Session hub listening")
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.WithError(err).Error("Session hub server error")
		}
	}()
	return nil
}

// Addr returns the listening address once started
func (h *Hub) Addr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Stop closes every session and shuts the server down
func (h *Hub) Stop() error {
	h.cancel()

	h.sessionsMu.Lock()
	for id, conn := range h.sessions {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(h.sessions, id)
	}
	h.sessionsMu.Unlock()

	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("session hub shutdown error: %w", err)
		}
	}

	h.wg.Wait()
	h.logger.Info("Session hub stopped")
	return nil
}

// Broadcast queues a message for every open session
func (h *Hub) Broadcast(msg models.SessionMessage) {
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	default:
		h.logger.WithField("type", msg.Type).Warn("Broadcast channel full, dropping message")
	}
}

// SessionCount returns the number of open sessions
func (h *Hub) SessionCount() int {
	h.sessionsMu.RLock()
	defer h.sessionsMu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return
		case msg := <-h.broadcast:
			if msg.Timestamp == nil {
				now := time.Now()
				msg.Timestamp = &now
			}
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.WithError(err).Error("Failed to marshal broadcast")
				continue
			}

			h.sessionsMu.RLock()
			targets := make(map[string]*websocket.Conn, len(h.sessions))
			for id, conn := range h.sessions {
				targets[id] = conn
			}
			h.sessionsMu.RUnlock()

			for id, conn := range targets {
				if err := h.write(conn, data); err != nil {
					h.logger.WithError(err).WithField("session_id", id).Warn("Failed to send broadcast")
					h.removeSession(id)
				}
			}
			h.logger.WithFields(logrus.Fields{
				"type":     msg.Type,
				"version":  msg.Version,
				"sessions": len(targets),
			}).Info("Broadcast sent")
		}
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	id := uuid.NewString()
	h.sessionsMu.Lock()
	h.sessions[id] = conn
	count := len(h.sessions)
	h.sessionsMu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"session_id": id,
		"sessions":   count,
	}).Info("Session connected")

	h.readLoop(id, conn)
}

// readLoop handles one session's messages in arrival order
func (h *Hub) readLoop(id string, conn *websocket.Conn) {
	defer h.removeSession(id)

	for {
		_, data, err := conn.Read(h.ctx)
		if err != nil {
			return
		}

		var msg models.SessionMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(conn, &models.SessionMessage{Type: models.MessageError, Error: "malformed message"})
			continue
		}

		h.handlerMu.RLock()
		handler := h.handler
		h.handlerMu.RUnlock()
		if handler == nil {
			h.reply(conn, &models.SessionMessage{Type: models.MessageError, RequestID: msg.RequestID, Error: "no handler"})
			continue
		}

		reply, err := handler.HandleMessage(h.ctx, msg)
		if err != nil {
			h.logger.WithError(err).WithField("type", msg.Type).Warn("Session message failed")
			reply = &models.SessionMessage{Type: models.MessageError, RequestID: msg.RequestID, Error: err.Error()}
		}
		if reply != nil {
			if reply.RequestID == "" {
				reply.RequestID = msg.RequestID
			}
			h.reply(conn, reply)
		}
	}
}

func (h *Hub) reply(conn *websocket.Conn, msg *models.SessionMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal reply")
		return
	}
	if err := h.write(conn, data); err != nil {
		h.logger.WithError(err).Debug("Failed to send reply")
	}
}

func (h *Hub) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (h *Hub) removeSession(id string) {
	h.sessionsMu.Lock()
	conn, exists := h.sessions[id]
	delete(h.sessions, id)
	count := len(h.sessions)
	h.sessionsMu.Unlock()

	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.WithFields(logrus.Fields{
			"session_id": id,
			"sessions":   count,
		}).Info("Session disconnected")
	}
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"sessions": h.SessionCount(),
	})
}
