package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/call-signaling/config"
	"github.com/mossy-p/call-signaling/internal/hub"
	"github.com/mossy-p/call-signaling/internal/metrics"
	"github.com/mossy-p/call-signaling/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

const missingIdentityMessage = "Missing identity in connection query."

// Signaling upgrades clients to WebSocket and feeds their messages to the hub
type Signaling struct {
	hub      *hub.Hub
	cfg      config.WebSocketConfig
	metrics  *metrics.Metrics
	log      *logrus.Entry
	upgrader websocket.Upgrader
}

func NewSignaling(h *hub.Hub, cfg config.WebSocketConfig, m *metrics.Metrics, log *logrus.Entry) *Signaling {
	return &Signaling{
		hub:     h,
		cfg:     cfg,
		metrics: m,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin checking is handled by middleware
				return true
			},
		},
	}
}

// Client represents a WebSocket client connection
type Client struct {
	id       string
	identity string
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	log      *logrus.Entry
}

func (c *Client) ID() string       { return c.id }
func (c *Client) Identity() string { return c.identity }

// Send queues msg for the write pump. It never blocks; a full buffer or a
// closed client drops the message.
func (c *Client) Send(msg models.SignalMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.WithError(err).Error("Failed to marshal message")
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.conn.Close()
	})
}

// HandleSignaling handles WebSocket connections for call signaling
func (s *Signaling) HandleSignaling(c *gin.Context) {
	identity := strings.TrimSpace(c.Query("identity"))

	// Upgrade HTTP connection to WebSocket
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("Failed to upgrade connection")
		return
	}

	if identity == "" {
		s.metrics.IncConnection("rejected")
		s.log.WithField("remote", c.ClientIP()).Info("Rejected connection without identity")
		reject(conn, missingIdentityMessage)
		return
	}
	s.metrics.IncConnection("accepted")

	client := &Client{
		id:       uuid.New().String(),
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, s.cfg.SendBuffer),
		done:     make(chan struct{}),
	}
	client.log = s.log.WithFields(logrus.Fields{
		"identity": identity,
		"conn":     client.id,
	})

	go client.writePump()

	ctx := c.Request.Context()
	if err := s.hub.Connect(ctx, client); err != nil {
		client.log.WithError(err).Error("Failed to register connection")
		client.close()
		return
	}
	client.log.Info("Connection opened")

	s.readPump(ctx, client)
}

// reject tells the client why it is being dropped and closes the socket
func reject(conn *websocket.Conn, reason string) {
	defer conn.Close()

	deadline := time.Now().Add(writeWait)
	msg, err := models.NewSignalMessage(models.SignalTypeError, models.ErrorPayload{Message: reason})
	if err == nil {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.WriteJSON(msg)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
}

func (s *Signaling) readPump(ctx context.Context, c *Client) {
	defer func() {
		if err := s.hub.Disconnect(ctx, c); err != nil {
			c.log.WithError(err).Warn("Disconnect cleanup did not run")
		}
		c.close()
		c.log.Info("Connection closed")
	}()

	c.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("WebSocket error")
			}
			break
		}

		var msg models.SignalMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Type == "" {
			c.log.WithError(err).Debug("Failed to parse message")
			s.metrics.IncError(metrics.ReasonProtocol)
			if errMsg, err := models.NewSignalMessage(models.SignalTypeError, models.ErrorPayload{Message: "Invalid message format."}); err == nil {
				c.Send(errMsg)
			}
			continue
		}

		if err := s.hub.Dispatch(ctx, c, msg); err != nil {
			c.log.WithError(err).Warn("Failed to dispatch message")
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.WithError(err).Debug("Failed to write message")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
