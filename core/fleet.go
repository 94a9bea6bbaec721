package core

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"

	"github.com/wikimedia/rcstream/core/backend"
	"github.com/wikimedia/rcstream/core/config"
	"github.com/wikimedia/rcstream/core/logger"
)

// Fleet runs one stream server per configured port, all fed by a single
// Redis subscription.
type Fleet struct {
	hub        *Hub
	subscriber *backend.Subscriber
	servers    []*StreamServer

	// ctx governs the Redis subscription. Created up front so Shutdown can
	// race ListenAndServe safely.
	ctx    context.Context
	cancel context.CancelFunc
}

func NewFleet(configuration *config.Configuration, events *logger.Logger) *Fleet {
	hub := NewHub()

	opts := SessionOptions{
		MaxSubscriptions: configuration.MaxSubscriptions,
		MessageRate:      configuration.MaxMessageRate,
		WriteBuffer:      configuration.WriteBuffer,
	}

	ctx, cancel := context.WithCancel(context.Background())
	fleet := &Fleet{
		hub:    hub,
		ctx:    ctx,
		cancel: cancel,
		subscriber: backend.NewSubscriber(
			configuration.Redis,
			configuration.Pattern,
			hub.Broadcast,
			events.Sessionless(),
		),
	}

	for _, addr := range configuration.Addrs() {
		fleet.servers = append(fleet.servers,
			NewStreamServer(addr, configuration.StreamPath, hub, events, opts))
	}

	return fleet
}

// Hub exposes the shared client registry.
func (f *Fleet) Hub() *Hub {
	return f.hub
}

// ListenAndServe binds every port, starts the Redis subscription, and blocks
// until a listener fails or Shutdown is called. All ports are bound before
// any listener serves, so a bad port fails startup as a whole. A listener
// failure tears the rest of the fleet down before returning.
func (f *Fleet) ListenAndServe() error {
	var listeners []net.Listener
	for _, srv := range f.servers {
		ln, err := net.Listen("tcp", srv.Addr())
		if err != nil {
			for _, open := range listeners {
				open.Close()
			}
			f.cancel()
			return err
		}
		listeners = append(listeners, ln)
	}

	go func() {
		f.subscriber.Run(f.ctx)
	}()

	errs := make(chan error, len(f.servers))
	for i, srv := range f.servers {
		log.Printf("- Starting stream server on %s", srv.Addr())
		go func(srv *StreamServer, ln net.Listener) {
			errs <- srv.Serve(ln)
		}(srv, listeners[i])
	}

	err := <-errs
	f.cancel()
	for _, srv := range f.servers {
		srv.Close()
	}
	return err
}

// Shutdown stops the Redis subscription, closes the listeners, and
// disconnects every client.
func (f *Fleet) Shutdown(ctx context.Context) error {
	f.cancel()

	var firstErr error
	for _, srv := range f.servers {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	f.hub.CloseAll("server shutdown")
	return firstErr
}
