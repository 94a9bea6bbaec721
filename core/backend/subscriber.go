// Package backend consumes recent changes from Redis pub/sub.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/wikimedia/rcstream/core/logger"
)

const (
	healthCheckPeriod = 1 * time.Minute
	minRetryDelay     = 1 * time.Second
	maxRetryDelay     = 30 * time.Second
	maxLoggedPayload  = 512
)

// Change is one recent change published by MediaWiki.
type Change struct {
	// Wiki is the change's server_name, e.g. "en.wikipedia.org".
	Wiki string
	// Data is the raw JSON document as published.
	Data json.RawMessage
}

// Handler receives decoded changes. It must not block.
type Handler func(change Change)

// Dial connects to a Redis instance given either a host:port pair or a
// redis:// URL.
func Dial(addr string) (redis.Conn, error) {
	if strings.Contains(addr, "://") {
		return redis.DialURL(addr)
	}
	return redis.Dial("tcp", addr)
}

// Subscriber holds a pattern subscription against a Redis instance and
// forwards decoded changes to a handler.
type Subscriber struct {
	addr    string
	pattern string
	handler Handler
	events  *logger.SessionLogger
}

func NewSubscriber(addr, pattern string, handler Handler, events *logger.SessionLogger) *Subscriber {
	return &Subscriber{
		addr:    addr,
		pattern: pattern,
		handler: handler,
		events:  events,
	}
}

// Run subscribes and dispatches until the context is canceled. Connection
// failures are retried with capped exponential backoff; the only returned
// error is the context's.
func (s *Subscriber) Run(ctx context.Context) error {
	delay := minRetryDelay
	for {
		connected, err := s.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			err = errors.New("subscription ended")
		}
		s.events.Record(&logger.BackendDrop{Error: err.Error()})

		if connected {
			delay = minRetryDelay
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if delay *= 2; delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

// listen runs a single pattern subscription until it fails or the context is
// canceled. connected reports whether the subscription was established, so
// the caller can reset its backoff.
func (s *Subscriber) listen(ctx context.Context) (connected bool, err error) {
	conn, err := Dial(s.addr)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	psc := redis.PubSubConn{Conn: conn}
	if err := psc.PSubscribe(s.pattern); err != nil {
		return false, err
	}

	done := make(chan error, 1)
	go func() {
		for {
			switch v := psc.Receive().(type) {
			case redis.Message:
				s.dispatch(v.Data)
			case redis.Subscription:
				if v.Count == 0 {
					done <- nil
					return
				}
			case error:
				done <- v
				return
			}
		}
	}()

	s.events.Record(&logger.BackendConnect{Addr: s.addr, Pattern: s.pattern})

	ticker := time.NewTicker(healthCheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := psc.Ping(""); err != nil {
				conn.Close()
				return true, <-done
			}
		case <-ctx.Done():
			// Closing the connection unblocks Receive.
			conn.Close()
			<-done
			return true, ctx.Err()
		case err := <-done:
			return true, err
		}
	}
}

func (s *Subscriber) dispatch(data []byte) {
	var envelope struct {
		ServerName string `json:"server_name"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.events.Record(&logger.InvalidMessage{
			Reason: "unparseable change payload",
			Data:   truncate(data),
		})
		return
	}

	s.handler(Change{Wiki: envelope.ServerName, Data: json.RawMessage(data)})
}

func truncate(data []byte) string {
	if len(data) > maxLoggedPayload {
		data = data[:maxLoggedPayload]
	}
	return string(data)
}
