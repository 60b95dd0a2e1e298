package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"safevision/internal/dao"
	"safevision/internal/frame"
	"safevision/internal/recording"
	"safevision/internal/session"
	"safevision/pkg/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20
	sendBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client is one connected streaming session.
type client struct {
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *logrus.Entry
}

func newClient(sessionID string, conn *websocket.Conn) *client {
	return &client{
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		logger:    log.ComponentLogger("stream").WithField(log.CtxSessionId, sessionID),
	}
}

// trySend never blocks. Messages for a slow client are dropped.
func (c *client) trySend(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) sendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.WithError(err).Error("marshal outbound message failed")
		return false
	}
	return c.trySend(data)
}

func (c *client) sendError(err error) {
	c.sendJSON(dao.OutboundError{Type: dao.StreamTypeError, Message: err.Error()})
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// hub routes processed frames to the client of their session.
type hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	logger  *logrus.Entry
}

func newHub() *hub {
	return &hub{
		clients: make(map[string]*client),
		logger:  log.ComponentLogger("hub"),
	}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.clients[c.sessionID]; ok {
		old.close()
	}
	h.clients[c.sessionID] = c
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.sessionID]; ok && cur == c {
		delete(h.clients, c.sessionID)
	}
}

func (h *hub) get(sessionID string) (*client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[sessionID]
	return c, ok
}

func (h *hub) closeSession(sessionID string) {
	if c, ok := h.get(sessionID); ok {
		c.close()
	}
}

func (h *hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.close()
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// route sends the frame and its analysis as two separate messages.
func (h *hub) route(pf *frame.ProcessedFrame) {
	c, ok := h.get(pf.SessionID)
	if !ok {
		h.logger.WithField(log.CtxSessionId, pf.SessionID).Debug("processed frame for a gone session dropped")
		return
	}
	sent := c.sendJSON(dao.OutboundFrame{
		Type:      dao.StreamTypeProcessedFrame,
		Frame:     frame.EncodeDataURL(pf.Format, pf.Encoded),
		Timestamp: pf.Timestamp,
		FrameId:   pf.FrameID,
	})
	sent = c.sendJSON(dao.OutboundAnalysis{
		Type:           dao.StreamTypeAnalysisResult,
		AnalysisResult: pf.Analysis,
	}) && sent
	if !sent {
		c.logger.Debug("client too slow, outbound message dropped")
	}
}

// deliver drains the outgoing queue until ctx is done.
func (s *Server) deliver(ctx context.Context) {
	for {
		pf, err := s.pipeline.Next(ctx)
		if err != nil {
			return
		}
		s.hub.route(pf)
	}
}

func (s *Server) handleStream(c *gin.Context) {
	logger := log.GetLogger(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sess, err := s.sessions.Connect(c.Query("session_id"), c.Request.UserAgent(), c.ClientIP())
	if err != nil {
		logger.WithError(err).Warn("session rejected")
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteJSON(dao.OutboundError{Type: dao.StreamTypeError, Message: err.Error()})
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		conn.Close()
		return
	}

	cl := newClient(sess.Id, conn)
	s.hub.register(cl)
	go cl.writePump()
	cl.sendJSON(dao.OutboundSession{Type: dao.StreamTypeSession, SessionId: sess.Id})
	cl.logger.Infof("client connected from %s", c.ClientIP())

	s.readPump(cl)

	s.hub.unregister(cl)
	cl.close()
	s.endSession(sess.Id)
}

func (s *Server) readPump(cl *client) {
	cl.conn.SetReadLimit(maxMessageSize)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cl.logger.WithError(err).Warn("websocket read failed")
			}
			return
		}
		cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		if !s.handleFrame(cl, msgType == websocket.BinaryMessage, data) {
			return
		}
	}
}

// handleFrame feeds one client message into the pipeline and, when the
// session is recording, into its recording. It returns false once the
// session is gone.
func (s *Server) handleFrame(cl *client, binary bool, data []byte) bool {
	in, err := frame.ParseInput(data, binary)
	if err != nil {
		cl.sendError(err)
		return true
	}
	if err := s.sessions.RecordFrame(cl.sessionID); err != nil {
		cl.sendError(err)
		return !errors.Is(err, session.ErrSessionNotFound)
	}

	accepted, err := s.pipeline.Submit(in, cl.sessionID)
	if err != nil {
		cl.sendError(err)
		return true
	}
	if !accepted {
		cl.logger.Debug("incoming queue full, frame dropped")
	}

	if s.recordings.IsRecording(cl.sessionID) {
		if _, err := s.recordings.AddFrame(cl.sessionID, frame.Payload(in)); err != nil &&
			!errors.Is(err, recording.ErrRecordingNotFound) {
			cl.logger.WithError(err).Warn("failed to add frame to recording")
		}
	}
	return true
}

func (s *Server) endSession(id string) {
	logger := log.ComponentLogger("stream").WithField(log.CtxSessionId, id)
	if s.recordings.IsRecording(id) {
		if _, err := s.recordings.StopRecording(id); err != nil && !errors.Is(err, recording.ErrRecordingNotFound) {
			logger.WithError(err).Warn("failed to stop recording on disconnect")
		}
	}
	summary, err := s.sessions.Disconnect(context.Background(), id)
	if err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			logger.WithError(err).Warn("disconnect failed")
		}
		return
	}
	logger.Infof("client disconnected after %ds, %d/%d frames processed",
		summary.DurationSeconds, summary.FramesProcessed, summary.FramesSent)
}
