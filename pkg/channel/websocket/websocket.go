// Package websocket serves gateway sessions to desktop front-ends over a
// JSON WebSocket protocol.
//
// Client frames:
//
//	{"type":"prompt","id":"c1","text":"weather in Oslo","source":"voice"}
//	{"type":"ping"}
//
// Server frames:
//
//	{"type":"reply","id":"c1","text":"...","module_id":"weather","status":"success"}
//	{"type":"error","id":"c1","error":"..."}
//	{"type":"pong"}
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"

	"specter/pkg/bus"
	"specter/pkg/channel"
	"specter/pkg/config"
)

const (
	channelName  = "websocket"
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
	maxFrameSize = 64 << 10
)

// Frame is one protocol message in either direction.
type Frame struct {
	Type     string            `json:"type"`
	ID       string            `json:"id,omitempty"`
	Text     string            `json:"text,omitempty"`
	Source   string            `json:"source,omitempty"`
	ModuleID string            `json:"module_id,omitempty"`
	Status   string            `json:"status,omitempty"`
	Busy     bool              `json:"busy,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Adapter is both a channel adapter and the HTTP handler the gateway
// mounts at the configured path. Connections are refused until Run has
// been called.
type Adapter struct {
	cfg      config.WebSocketConfig
	upgrader ws.Upgrader
	log      *slog.Logger

	mu      sync.RWMutex
	handler channel.Handler
	ctx     context.Context
	conns   map[*ws.Conn]struct{}
}

func NewAdapter(cfg config.WebSocketConfig, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}

	a := &Adapter{
		cfg:   cfg,
		log:   log.With("component", "channel.websocket"),
		conns: make(map[*ws.Conn]struct{}),
	}
	a.upgrader = ws.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}

	return a
}

func (a *Adapter) Name() string {
	return channelName
}

// Path is where the gateway mounts the adapter.
func (a *Adapter) Path() string {
	if strings.TrimSpace(a.cfg.Path) == "" {
		return "/ws"
	}
	return a.cfg.Path
}

// Run accepts connections until ctx is done, then closes every open
// connection.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	a.mu.Lock()
	a.handler = handler
	a.ctx = ctx
	a.mu.Unlock()

	a.log.Info("WebSocket channel started", "path", a.Path())
	<-ctx.Done()

	a.mu.Lock()
	a.handler = nil
	for conn := range a.conns {
		_ = conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		_ = conn.Close()
	}
	a.conns = make(map[*ws.Conn]struct{})
	a.mu.Unlock()

	return nil
}

func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	handler, ctx := a.handler, a.ctx
	a.mu.RUnlock()
	if handler == nil {
		http.Error(w, "websocket channel not running", http.StatusServiceUnavailable)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	chatID := strings.TrimSpace(r.URL.Query().Get("session"))
	if chatID == "" {
		chatID = uuid.NewString()
	}

	a.mu.Lock()
	a.conns[conn] = struct{}{}
	a.mu.Unlock()

	c := &client{
		conn:    conn,
		chatID:  chatID,
		handler: handler,
		log:     a.log.With("chat_id", chatID, "remote", r.RemoteAddr),
	}
	c.serve(ctx)

	a.mu.Lock()
	delete(a.conns, conn)
	a.mu.Unlock()
}

type client struct {
	conn    *ws.Conn
	chatID  string
	handler channel.Handler
	log     *slog.Logger

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

func (c *client) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer func() {
		cancel()
		c.wg.Wait()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	c.wg.Add(1)
	go c.keepAlive(ctx)

	c.log.Info("WebSocket client connected")
	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if !isClosed(err) && ctx.Err() == nil {
				c.log.Warn("WebSocket read failed", "error", err)
			}
			c.log.Info("WebSocket client disconnected")
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))

		switch frame.Type {
		case "ping":
			c.write(Frame{Type: "pong"})
		case "prompt":
			if strings.TrimSpace(frame.Text) == "" {
				c.write(Frame{Type: "error", ID: frame.ID, Error: "text is required"})
				continue
			}
			// Prompts run concurrently so a second one reaches the session
			// and gets its busy reply instead of queueing here.
			c.wg.Add(1)
			go func(frame Frame) {
				defer c.wg.Done()
				c.prompt(ctx, frame)
			}(frame)
		default:
			c.write(Frame{Type: "error", ID: frame.ID, Error: "unknown frame type " + frame.Type})
		}
	}
}

func (c *client) prompt(ctx context.Context, frame Frame) {
	source := frame.Source
	if source == "" {
		source = "typed"
	}

	inbound := bus.InboundMessage{
		Channel:    channelName,
		SenderID:   c.chatID,
		ChatID:     c.chatID,
		SessionKey: sessionKey(c.chatID),
		Content:    strings.TrimSpace(frame.Text),
		Metadata:   map[string]string{bus.MetaSource: source},
	}

	outbound, err := c.handler(ctx, inbound)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Error("Failed to process inbound message", "error", err)
			c.write(Frame{Type: "error", ID: frame.ID, Error: err.Error()})
		}
		return
	}

	c.write(replyFrame(frame.ID, outbound))
}

func (c *client) keepAlive(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(ws.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *client) write(frame Frame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(frame); err != nil {
		c.log.Debug("WebSocket write failed", "error", err)
	}
}

func replyFrame(id string, outbound bus.OutboundMessage) Frame {
	frame := Frame{
		Type:     "reply",
		ID:       id,
		Text:     outbound.Content,
		ModuleID: outbound.Meta(bus.MetaModuleID),
		Status:   outbound.Meta(bus.MetaStatus),
		Busy:     outbound.Meta(bus.MetaBusy) == "true",
		Error:    outbound.Error,
	}
	for key, value := range outbound.Metadata {
		if name, ok := strings.CutPrefix(key, "data."); ok {
			if frame.Data == nil {
				frame.Data = map[string]string{}
			}
			frame.Data[name] = value
		}
	}

	return frame
}

func sessionKey(chatID string) string {
	return "websocket:" + chatID
}

// originChecker allows same-origin requests when no origins are listed; "*"
// allows any origin.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			set[strings.ToLower(origin)] = true
		}
	}
	if len(set) == 0 {
		return nil
	}

	return func(r *http.Request) bool {
		if set["*"] {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}

func isClosed(err error) bool {
	return ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway, ws.CloseAbnormalClosure) ||
		errors.Is(err, net.ErrClosed)
}

var _ channel.Adapter = (*Adapter)(nil)
