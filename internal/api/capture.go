package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BTreeMap/TutorPipe/internal/models"
	"github.com/BTreeMap/TutorPipe/internal/speech"
	"github.com/BTreeMap/TutorPipe/internal/transcript"
	"github.com/BTreeMap/TutorPipe/internal/tutor"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Capture socket limits.
const (
	captureWriteTimeout = 5 * time.Second
	captureEventBuffer  = 64
	permissionTimeout   = 30 * time.Second
)

// Frame types exchanged on the capture socket.
const (
	frameStart             = "start"
	frameStop              = "stop"
	frameResult            = "result"
	frameError             = "error"
	frameEnd               = "end"
	framePermission        = "permission"
	frameOpen              = "open"
	frameAbort             = "abort"
	framePreview           = "preview"
	frameSnapshot          = "snapshot"
	frameSpeak             = "speak"
	frameRequestPermission = "request_permission"
)

// captureFrame is one JSON message on the capture socket, in either direction.
type captureFrame struct {
	Type    string              `json:"type"`
	Results []transcript.Result `json:"results,omitempty"`
	Error   string              `json:"error,omitempty"`
	Granted *bool               `json:"granted,omitempty"`
	Text    string              `json:"text,omitempty"`
	Options *speech.Options     `json:"options,omitempty"`
	Session *sessionView        `json:"session,omitempty"`
}

// captureConn bridges one browser socket to a session. The browser owns the microphone
// and the recognizer, so the connection acts as the speech capability, the permission
// gate and the speaker.
type captureConn struct {
	id string
	ws *websocket.Conn

	mu         sync.Mutex
	current    *socketRecognition
	granted    bool
	permission chan bool
}

func newCaptureConn(ws *websocket.Conn) *captureConn {
	return &captureConn{id: uuid.NewString(), ws: ws, permission: make(chan bool, 1)}
}

func (c *captureConn) send(ctx context.Context, f captureFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, captureWriteTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Open asks the browser to start a recognizer.
func (c *captureConn) Open(ctx context.Context, opts speech.Options) (speech.Recognition, error) {
	rec := &socketRecognition{conn: c, ctx: ctx, events: make(chan speech.Event, captureEventBuffer)}
	c.mu.Lock()
	c.current = rec
	c.mu.Unlock()
	if err := c.send(ctx, captureFrame{Type: frameOpen, Options: &opts}); err != nil {
		c.clear(rec)
		return nil, err
	}
	return rec, nil
}

// Request asks the browser for microphone access unless it was already granted.
func (c *captureConn) Request(ctx context.Context) error {
	c.mu.Lock()
	granted := c.granted
	c.mu.Unlock()
	if granted {
		return nil
	}
	if err := c.send(ctx, captureFrame{Type: frameRequestPermission}); err != nil {
		return err
	}
	select {
	case ok := <-c.permission:
		if !ok {
			return models.ErrPermissionDenied
		}
		return nil
	case <-time.After(permissionTimeout):
		return models.ErrPermissionDenied
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Speak asks the browser to read text aloud.
func (c *captureConn) Speak(ctx context.Context, text string) error {
	return c.send(ctx, captureFrame{Type: frameSpeak, Text: text})
}

func (c *captureConn) setPermission(granted bool) {
	c.mu.Lock()
	c.granted = granted
	c.mu.Unlock()
	select {
	case c.permission <- granted:
	default:
	}
}

func (c *captureConn) clear(rec *socketRecognition) {
	c.mu.Lock()
	if c.current == rec {
		c.current = nil
	}
	c.mu.Unlock()
}

// deliver routes a recognizer event to the open recognition.
func (c *captureConn) deliver(ev speech.Event) {
	c.mu.Lock()
	rec := c.current
	c.mu.Unlock()
	if rec == nil {
		slog.Debug("captureConn.deliver: no open recognition, dropping event", "conn_id", c.id, "kind", ev.Kind.String())
		return
	}
	select {
	case rec.events <- ev:
	default:
		slog.Warn("captureConn.deliver: event buffer full, dropping event", "conn_id", c.id, "kind", ev.Kind.String())
	}
}

// socketRecognition is one recognizer running in the browser.
type socketRecognition struct {
	conn   *captureConn
	ctx    context.Context
	events chan speech.Event
}

func (r *socketRecognition) Events() <-chan speech.Event { return r.events }

func (r *socketRecognition) Stop() error {
	return r.conn.send(r.ctx, captureFrame{Type: frameStop})
}

func (r *socketRecognition) Abort() error {
	r.conn.clear(r)
	return r.conn.send(r.ctx, captureFrame{Type: frameAbort})
}

// captureHandler upgrades to a WebSocket and drives live speech capture for the session.
func (s *Server) captureHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r, "Server.captureHandler")
	if !ok {
		return
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Server.captureHandler: failed to accept WebSocket", "error", err, "user_id", session.UserID())
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "capture ended"); closeErr != nil {
			slog.Debug("Server.captureHandler: failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := newCaptureConn(ws)
	ctl := speech.NewController(conn,
		speech.WithConfig(s.capture),
		speech.WithPermissionGate(conn),
		speech.WithPreviewHandler(func(text string) {
			if err := conn.send(ctx, captureFrame{Type: framePreview, Text: text}); err != nil {
				slog.Debug("Server.captureHandler: preview not sent", "conn_id", conn.id, "error", err)
			}
		}),
	)
	session.SetCapture(ctl)
	session.SetSpeaker(conn)
	defer session.DetachSpeaker(conn)
	defer session.DetachCapture(ctl)
	slog.Info("Server.captureHandler: capture connected", "user_id", session.UserID(), "conn_id", conn.id)

	go s.pumpSnapshots(ctx, session, conn)
	s.readCaptureFrames(ctx, session, conn)
	slog.Info("Server.captureHandler: capture disconnected", "user_id", session.UserID(), "conn_id", conn.id)
}

// pumpSnapshots pushes the session state to the browser whenever it changes.
func (s *Server) pumpSnapshots(ctx context.Context, session *tutor.Session, conn *captureConn) {
	updates, unsubscribe := session.Subscribe()
	defer unsubscribe()

	view := newSessionView(session.Snapshot())
	if err := conn.send(ctx, captureFrame{Type: frameSnapshot, Session: &view}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			view := newSessionView(snap)
			if err := conn.send(ctx, captureFrame{Type: frameSnapshot, Session: &view}); err != nil {
				slog.Debug("Server.pumpSnapshots: snapshot not sent", "conn_id", conn.id, "error", err)
				return
			}
		}
	}
}

func (s *Server) readCaptureFrames(ctx context.Context, session *tutor.Session, conn *captureConn) {
	for {
		_, data, err := conn.ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				slog.Debug("Server.readCaptureFrames: socket closed", "conn_id", conn.id, "status", status)
			} else {
				slog.Warn("Server.readCaptureFrames: read failed", "conn_id", conn.id, "error", err)
			}
			return
		}
		var f captureFrame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("Server.readCaptureFrames: invalid frame", "conn_id", conn.id, "error", err)
			continue
		}
		switch f.Type {
		case frameStart:
			// StartCapture waits on the permission frame, which this loop must keep reading
			go func() {
				if err := session.StartCapture(ctx); err != nil {
					slog.Debug("Server.readCaptureFrames: capture not started", "conn_id", conn.id, "error", err)
				}
			}()
		case frameStop:
			session.StopCapture()
		case framePermission:
			conn.setPermission(f.Granted != nil && *f.Granted)
		case frameResult:
			conn.deliver(speech.Event{Kind: speech.EventResult, Results: f.Results})
		case frameError:
			conn.deliver(speech.Event{Kind: speech.EventError, Error: speech.ErrorKind(f.Error)})
		case frameEnd:
			conn.deliver(speech.Event{Kind: speech.EventEnd})
		default:
			slog.Debug("Server.readCaptureFrames: unknown frame type", "conn_id", conn.id, "type", f.Type)
		}
	}
}
