package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/busbell/backend/internal/engine"
	"github.com/busbell/backend/internal/session"
	"github.com/busbell/backend/internal/sessions"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// audioChunk is the payload of a streamed "audio_chunk" event.
type audioChunk struct {
	Audio string `json:"audio"` // base64
}

// Client is one WebSocket connection. A recorder connection owns a
// session: the session is created on connect and deleted when the
// connection closes. Watcher connections only receive the session's
// events.
type Client struct {
	ID        string
	SessionID uuid.UUID
	Recorder  bool
	JoinedAt  time.Time

	hub           *Hub
	conn          *websocket.Conn
	send          chan WSMessage
	logger        *zap.Logger
	store         *session.Store
	svc           *sessions.Service
	probeInterval time.Duration

	probeMu     sync.Mutex
	probeCancel context.CancelFunc
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
// Without a session_id query parameter the connection is a recorder and a
// new session is created for it; with one, the connection watches an
// existing session.
func ServeWs(hub *Hub, logger *zap.Logger, store *session.Store, svc *sessions.Service, probeInterval time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			st       *session.State
			recorder bool
		)
		if idStr := c.Query("session_id"); idStr != "" {
			id, err := uuid.Parse(idStr)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
				return
			}
			existing, ok := store.Get(id)
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			st = existing
		} else {
			st = store.Create()
			recorder = true
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			if recorder {
				store.Delete(st.ID)
			}
			return
		}

		client := &Client{
			ID:            uuid.New().String(),
			SessionID:     st.ID,
			Recorder:      recorder,
			JoinedAt:      time.Now(),
			hub:           hub,
			conn:          conn,
			send:          make(chan WSMessage, 256),
			logger:        logger,
			store:         store,
			svc:           svc,
			probeInterval: probeInterval,
		}
		hub.Register(client)
		go client.writePump()
		hub.SendToClient(client.SessionID, client.ID, "session_created", gin.H{
			"session_id": st.ID,
			"start_time": st.StartTime,
			"recorder":   recorder,
		})
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.stopProbing()
		c.hub.Unregister(c)
		if c.Recorder {
			c.store.Delete(c.SessionID)
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(1024 * 1024))
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		// Watchers only listen.
		if !c.Recorder {
			continue
		}

		switch msg.Event {
		case "start_recording":
			st, ok := c.store.Get(c.SessionID)
			if !ok {
				return
			}
			st.SetRecording(true)
			c.startProbing()
			c.hub.BroadcastToSessionAndPublish(c.SessionID, "recording_started", gin.H{
				"session_id": c.SessionID,
			})
		case "stop_recording":
			st, ok := c.store.Get(c.SessionID)
			if !ok {
				return
			}
			st.SetRecording(false)
			c.stopProbing()
			c.hub.BroadcastToSessionAndPublish(c.SessionID, "recording_stopped", gin.H{
				"session_id": c.SessionID,
			})
		case "audio_chunk":
			c.handleChunk(msg.Data)
		default:
			// ignore
		}
	}
}

// handleChunk routes a streamed chunk through ingest, only while the
// session is recording.
func (c *Client) handleChunk(data json.RawMessage) {
	st, ok := c.store.Get(c.SessionID)
	if !ok || !st.Recording() {
		return
	}
	var chunk audioChunk
	if err := json.Unmarshal(data, &chunk); err != nil || chunk.Audio == "" {
		return
	}
	payload, err := base64.StdEncoding.DecodeString(chunk.Audio)
	if err != nil {
		return
	}
	if _, err := c.svc.Ingest(context.Background(), c.SessionID, payload, "", ""); err != nil &&
		!errors.Is(err, sessions.ErrPayloadTooLarge) {
		c.logger.Warn("chunk ingest failed", zap.String("session_id", c.SessionID.String()), zap.Error(err))
	}
}

// startProbing runs the synthetic detection loop while recording: every
// tick asks the detector for a bell with no payload. Detection results are
// published by the engine.
func (c *Client) startProbing() {
	c.probeMu.Lock()
	defer c.probeMu.Unlock()
	if c.probeCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.probeCancel = cancel

	go func() {
		ticker := time.NewTicker(c.probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.svc.Ingest(ctx, c.SessionID, nil, "", ""); errors.Is(err, engine.ErrSessionNotFound) {
					return
				}
			}
		}
	}()
}

// stopProbing cancels the synthetic detection loop, if running.
func (c *Client) stopProbing() {
	c.probeMu.Lock()
	defer c.probeMu.Unlock()
	if c.probeCancel != nil {
		c.probeCancel()
		c.probeCancel = nil
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
