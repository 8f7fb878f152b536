package soundcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	eventsource "github.com/stalexteam/eventsource_go"
	"go.uber.org/zap"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer"
)

// SseServer streams every new mixer snapshot to EventSource clients
type SseServer struct {
	mixer  *mixer.Mixer
	logger *zap.SugaredLogger
	server *http.Server

	stopChannel chan bool
	running     int32 // 1 = running, 0 = stopped

	// manages all active SSE connections
	manager *eventsource.ConnectionManager

	// counter for the SSE id field
	eventID int64

	currentPort int
	portMutex   sync.Mutex
}

const (
	// client reconnect delay in milliseconds
	sseRetryTimeout = 30000

	pingInterval = 10 * time.Second

	sseEventSnapshot = "snapshot"
	sseEventPing     = "ping"

	sseShutdownTimeout = 5 * time.Second
)

// NewSseServer creates a new SSE server instance
func NewSseServer(m *mixer.Mixer, logger *zap.SugaredLogger) (*SseServer, error) {
	logger = logger.Named("sse_server")

	manager := eventsource.NewConnectionManager()

	manager.SetOnConnect(func(encoder *eventsource.Encoder) {
		logger.Infow("New SSE client connected",
			"remote", encoder.RemoteAddr(),
			"path", encoder.Path())
	})

	manager.SetOnDisconnect(func(encoder *eventsource.Encoder) {
		logger.Debugw("SSE client disconnected",
			"remote", encoder.RemoteAddr(),
			"path", encoder.Path())
	})

	srv := &SseServer{
		mixer:   m,
		logger:  logger,
		manager: manager,
	}

	logger.Debug("Created SSE server instance")

	return srv, nil
}

// Start serves the snapshot stream on the given port. A port of zero disables the server
func (srv *SseServer) Start(port int) error {
	if port <= 0 {
		srv.logger.Debug("SSE port not configured, server will not start")
		srv.Stop()
		return nil
	}

	srv.portMutex.Lock()
	currentPort := srv.currentPort
	srv.portMutex.Unlock()

	if srv.IsRunning() && currentPort == port {
		srv.logger.Debugw("SSE server already running on the same port", "port", port)
		return nil
	}

	if srv.IsRunning() {
		srv.logger.Infow("SSE server port changed, restarting", "old_port", currentPort, "new_port", port)
		srv.Stop()
	}

	stopChannel := make(chan bool)

	handler := eventsource.HandlerV2(func(
		info *eventsource.ConnectionInfo,
		encoder *eventsource.Encoder,
		stop <-chan bool,
	) {
		if err := encoder.SetRetry(sseRetryTimeout); err != nil {
			srv.logEncodeError("retry", err)
			return
		}

		// new clients start from the latest snapshot
		if err := encoder.Encode(srv.snapshotEvent(srv.mixer.Current())); err != nil {
			srv.logEncodeError(sseEventSnapshot, err)
			return
		}

		select {
		case <-stop:
		case <-stopChannel:
		}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/", eventsource.HandlerWithManager(srv.manager, handler).ServeHTTP)

	addr := fmt.Sprintf(":%d", port)

	// bind first so a busy port is reported before any loop starts
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	srv.portMutex.Lock()
	srv.currentPort = port
	srv.portMutex.Unlock()

	srv.stopChannel = stopChannel
	atomic.StoreInt32(&srv.running, 1)

	go func(server *http.Server) {
		srv.logger.Infow("Starting SSE server", "addr", addr)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			srv.logger.Errorw("SSE server error", "error", err)
			srv.Stop()
		}
	}(srv.server)

	go srv.broadcastLoop(stopChannel)
	go srv.pingLoop(stopChannel)

	return nil
}

// Stop closes all connections and shuts the server down
func (srv *SseServer) Stop() {
	if !atomic.CompareAndSwapInt32(&srv.running, 1, 0) {
		return
	}

	srv.logger.Debug("Stopping SSE server")

	close(srv.stopChannel)

	srv.manager.CloseAll()
	srv.logger.Debugw("Closed all SSE connections", "count", srv.manager.Count())

	if srv.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sseShutdownTimeout)
		defer cancel()

		if err := srv.server.Shutdown(ctx); err != nil {
			srv.logger.Warnw("Error during SSE server shutdown", "error", err)
			srv.server.Close()
		}
	}

	srv.portMutex.Lock()
	srv.currentPort = 0
	srv.portMutex.Unlock()

	srv.logger.Info("SSE server stopped")
}

// CurrentPort returns the port the server is running on (0 if not running)
func (srv *SseServer) CurrentPort() int {
	srv.portMutex.Lock()
	defer srv.portMutex.Unlock()

	return srv.currentPort
}

// IsRunning returns whether the server is currently running
func (srv *SseServer) IsRunning() bool {
	return atomic.LoadInt32(&srv.running) == 1
}

func (srv *SseServer) broadcastLoop(stop chan bool) {
	snapshots := srv.mixer.SubscribeToSnapshots()
	defer srv.mixer.Unsubscribe(snapshots)

	for {
		select {
		case <-stop:
			return

		case snapshot, ok := <-snapshots:
			if !ok {
				return
			}

			if err := srv.manager.Broadcast(srv.snapshotEvent(snapshot)); err != nil && eventsource.IsConnectionError(err) {
				srv.logger.Debugw("Some connections failed during broadcast", "error", err)
			}
		}
	}
}

func (srv *SseServer) pingLoop(stop chan bool) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return

		case <-ticker.C:
			event := eventsource.Event{
				ID:   srv.nextEventID(),
				Type: sseEventPing,
				Data: []byte(fmt.Sprintf(`{"serverVersion":%d}`, mixer.ProtocolVersion)),
			}

			if err := srv.manager.Broadcast(event); err != nil && eventsource.IsConnectionError(err) {
				srv.logger.Debugw("Some connections failed during ping broadcast", "error", err)
			}
		}
	}
}

func (srv *SseServer) snapshotEvent(snapshot mixer.Snapshot) eventsource.Event {
	data, err := json.Marshal(snapshot)
	if err != nil {
		srv.logger.Warnw("Failed to marshal snapshot", "error", err)
		data = []byte("null")
	}

	return eventsource.Event{
		ID:   srv.nextEventID(),
		Type: sseEventSnapshot,
		Data: data,
	}
}

func (srv *SseServer) nextEventID() string {
	return strconv.FormatInt(atomic.AddInt64(&srv.eventID, 1), 10)
}

func (srv *SseServer) logEncodeError(what string, err error) {
	if eventsource.IsConnectionError(err) {
		srv.logger.Debugw("Connection closed while sending", "what", what, "error", err)
		return
	}

	srv.logger.Debugw("Error sending SSE field", "what", what, "error", err)
}
