package core

import (
	"context"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/wikimedia/rcstream/core/logger"
)

// StreamServer serves the WebSocket endpoint on a single address.
type StreamServer struct {
	addr       string
	streamPath string
	hub        *Hub
	events     *logger.Logger
	opts       SessionOptions
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

func NewStreamServer(addr, streamPath string, hub *Hub, events *logger.Logger, opts SessionOptions) *StreamServer {
	s := &StreamServer{
		addr:       addr,
		streamPath: streamPath,
		hub:        hub,
		events:     events,
		opts:       opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The stream is public.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s,
	}
	return s
}

func (s *StreamServer) Addr() string {
	return s.addr
}

func (s *StreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.streamPath {
		http.NotFound(w, r)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		return
	}

	session := s.events.NewSession()
	session.Record(&logger.ClientConnect{
		RemoteAddr: r.RemoteAddr,
		ClientIP:   clientIP(r),
		ListenAddr: s.addr,
	})

	newClient(s.hub, conn, session, s.opts).run()
}

// Serve accepts connections on the listener until Shutdown.
func (s *StreamServer) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Close immediately closes the listener and any active connections.
func (s *StreamServer) Close() error {
	return s.httpServer.Close()
}

func (s *StreamServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
