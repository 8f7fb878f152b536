package soundcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer"
	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/util"
)

const (
	// longest accepted request body; commands are one short line
	maxCommandBytes = 64 * 1024

	httpShutdownTimeout = 5 * time.Second
	wsWriteTimeout      = 5 * time.Second

	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"

	wsMessageSnapshot = "snapshot"
	wsMessageReply    = "reply"
)

// wsMessage is the envelope of everything written to a websocket client
type wsMessage struct {
	Type   string      `json:"type"`
	Status int         `json:"status,omitempty"`
	Data   interface{} `json:"data"`
}

// HTTPServer carries commands over HTTP: a POST body is one command line and the
// response is the resulting snapshot (or icon). /ws streams snapshots and accepts
// commands as text messages
type HTTPServer struct {
	logger   *zap.SugaredLogger
	commands *commandRunner
	mixer    *mixer.Mixer
	metrics  *commandMetrics

	upgrader websocket.Upgrader

	mu          sync.Mutex
	server      *http.Server
	currentAddr string
}

// NewHTTPServer creates an HTTPServer
func NewHTTPServer(commands *commandRunner, logger *zap.SugaredLogger) *HTTPServer {
	logger = logger.Named("http")

	s := &HTTPServer{
		logger:   logger,
		commands: commands,
		mixer:    commands.mixer,
		metrics:  commands.metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	logger.Debug("Created HTTP server instance")

	return s
}

func (s *HTTPServer) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(s.logRequests())

	r.GET("/", s.handleSnapshot)
	r.POST("/", s.handleCommand)
	r.GET("/icon", s.handleIcon)
	r.GET("/ws", s.handleWebsocket)
	r.GET("/metrics", gin.WrapH(s.metrics.handler()))

	return r
}

// Start listens on addr and serves in the background. Bind errors are returned directly
func (s *HTTPServer) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		if s.currentAddr == addr {
			s.logger.Debugw("HTTP server already running on the same address", "addr", addr)
			return nil
		}

		s.logger.Infow("HTTP address changed, restarting", "old_addr", s.currentAddr, "new_addr", addr)
		s.shutdown()
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	server := &http.Server{Handler: s.router()}
	s.server = server
	s.currentAddr = addr

	go func() {
		s.logger.Infow("Starting HTTP server", "addr", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("HTTP server error", "error", err)
		}
	}()

	return nil
}

// Stop shuts the server down gracefully
func (s *HTTPServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shutdown()
}

// assumes the lock is held
func (s *HTTPServer) shutdown() {
	if s.server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warnw("Error during HTTP server shutdown", "error", err)
		s.server.Close()
	}

	s.server = nil
	s.currentAddr = ""

	s.logger.Info("HTTP server stopped")
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *HTTPServer) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Debugw("Handled request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"requestId", c.GetString(requestIDKey),
			"elapsed", time.Since(start))
	}
}

func (s *HTTPServer) respond(c *gin.Context, outcome commandOutcome) {
	status, body := replyBody(outcome.reply, outcome.err)
	c.JSON(status, body)
}

// GET / refreshes and returns the snapshot
func (s *HTTPServer) handleSnapshot(c *gin.Context) {
	s.respond(c, s.commands.execute(sourceHTTP, string(mixer.OpRefresh)))
}

// POST / runs the body as one command
func (s *HTTPServer) handleCommand(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCommandBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: fmt.Sprintf("read body: %v", err), Kind: errorKindMalformed})
		return
	}

	if len(body) > maxCommandBytes {
		c.JSON(http.StatusRequestEntityTooLarge, errorBody{Error: "command too long", Kind: errorKindMalformed})
		return
	}

	s.respond(c, s.commands.execute(sourceHTTP, string(body)))
}

// GET /icon?path=C:\Apps\foo.exe is getIcon without the delimiter escaping
func (s *HTTPServer) handleIcon(c *gin.Context) {
	path := c.Query("path")
	if !util.IsPath(path) {
		c.JSON(http.StatusBadRequest, errorBody{Error: fmt.Sprintf("not a path: %q", path), Kind: errorKindMalformed})
		return
	}

	s.respond(c, s.commands.execute(sourceHTTP, string(mixer.OpGetIcon)+mixer.CommandDelimiter+path))
}

// wsClient serializes writes to one websocket connection
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (wc *wsClient) send(message wsMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal websocket message: %w", err)
	}

	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()

	if err := wc.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	if err := wc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write websocket message: %w", err)
	}

	return nil
}

// GET /ws pushes every snapshot and answers text messages as commands
func (s *HTTPServer) handleWebsocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnw("Websocket upgrade failed", "error", err)
		return
	}

	logger := s.logger.With("requestId", c.GetString(requestIDKey), "remote", conn.RemoteAddr().String())
	logger.Info("Websocket client connected")

	client := &wsClient{conn: conn}
	snapshots := s.mixer.SubscribeToSnapshots()

	s.metrics.subscribers.WithLabelValues(sourceWebsocket).Inc()
	defer s.metrics.subscribers.WithLabelValues(sourceWebsocket).Dec()

	done := make(chan bool)
	go func() {
		defer close(done)
		s.readCommands(logger, client)
	}()

	if err := client.send(wsMessage{Type: wsMessageSnapshot, Data: s.mixer.Current()}); err != nil {
		logger.Debugw("Failed to send initial snapshot", "error", err)
	}

	for {
		select {
		case <-done:
			s.mixer.Unsubscribe(snapshots)
			conn.Close()
			logger.Info("Websocket client disconnected")
			return

		case snapshot, ok := <-snapshots:
			if !ok {
				conn.Close()
				<-done
				return
			}

			if err := client.send(wsMessage{Type: wsMessageSnapshot, Data: snapshot}); err != nil {
				logger.Debugw("Failed to push snapshot", "error", err)
			}
		}
	}
}

func (s *HTTPServer) readCommands(logger *zap.SugaredLogger, client *wsClient) {
	for {
		messageType, data, err := client.conn.ReadMessage()
		if err != nil {
			logger.Debugw("Websocket read ended", "error", err)
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		outcome := s.commands.execute(sourceWebsocket, string(data))
		status, body := replyBody(outcome.reply, outcome.err)

		if err := client.send(wsMessage{Type: wsMessageReply, Status: status, Data: body}); err != nil {
			logger.Debugw("Failed to send reply", "error", err)
			return
		}
	}
}
