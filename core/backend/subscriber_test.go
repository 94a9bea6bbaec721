package backend

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wikimedia/rcstream/core/logger"
)

func TestDial(t *testing.T) {
	s := miniredis.RunT(t)

	t.Run("host:port", func(t *testing.T) {
		conn, err := Dial(s.Addr())
		require.Nil(t, err)
		defer conn.Close()

		reply, err := conn.Do("PING")
		assert.Nil(t, err)
		assert.Equal(t, "PONG", reply)
	})

	t.Run("redis URL", func(t *testing.T) {
		conn, err := Dial("redis://" + s.Addr())
		require.Nil(t, err)
		defer conn.Close()

		reply, err := conn.Do("PING")
		assert.Nil(t, err)
		assert.Equal(t, "PONG", reply)
	})

	t.Run("unreachable", func(t *testing.T) {
		_, err := Dial("127.0.0.1:1")
		assert.NotNil(t, err)
	})
}

func TestSubscriberDispatch(t *testing.T) {
	s := miniredis.RunT(t)

	changes := make(chan Change, 16)
	sub := NewSubscriber(s.Addr(), "rc.*", func(c Change) {
		changes <- c
	}, logger.NewNopLogger().Sessionless())

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() {
		runDone <- sub.Run(ctx)
	}()

	// Publish until the subscription is live and the change comes through.
	var got Change
	require.Eventually(t, func() bool {
		s.Publish("rc.enwiki", `{"server_name":"enwiki","title":"Main Page"}`)
		select {
		case got = <-changes:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "enwiki", got.Wiki)
	assert.Contains(t, string(got.Data), "Main Page")

	cancel()
	select {
	case err := <-runDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}

func TestSubscriberSkipsMalformedPayloads(t *testing.T) {
	s := miniredis.RunT(t)

	var mu sync.Mutex
	var invalid []string
	events := &logger.Logger{Record: func(le *logger.LogEntry) error {
		if le.InvalidMessage != nil {
			mu.Lock()
			invalid = append(invalid, le.InvalidMessage.Reason)
			mu.Unlock()
		}
		return nil
	}}

	changes := make(chan Change, 16)
	sub := NewSubscriber(s.Addr(), "rc.*", func(c Change) {
		changes <- c
	}, events.Sessionless())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	var got Change
	require.Eventually(t, func() bool {
		s.Publish("rc.enwiki", `this is not JSON`)
		s.Publish("rc.enwiki", `{"server_name":"enwiki"}`)
		select {
		case got = <-changes:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	// Only the well-formed payload is dispatched.
	assert.Equal(t, "enwiki", got.Wiki)
	mu.Lock()
	assert.NotEmpty(t, invalid)
	mu.Unlock()
}

func TestSubscriberReconnects(t *testing.T) {
	s := miniredis.RunT(t)

	var mu sync.Mutex
	var connects, drops int
	events := &logger.Logger{Record: func(le *logger.LogEntry) error {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case le.BackendConnect != nil:
			connects++
		case le.BackendDrop != nil:
			drops++
		}
		return nil
	}}

	changes := make(chan Change, 16)
	sub := NewSubscriber(s.Addr(), "rc.*", func(c Change) {
		changes <- c
	}, events.Sessionless())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	require.Eventually(t, func() bool {
		s.Publish("rc.enwiki", `{"server_name":"enwiki"}`)
		select {
		case <-changes:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	// Sever every connection, then bring the server back on the same port.
	s.Close()
	require.Nil(t, s.Restart())

	// Delivery resumes once the retry loop re-subscribes.
	require.Eventually(t, func() bool {
		s.Publish("rc.enwiki", `{"server_name":"enwiki","comment":"after restart"}`)
		for {
			select {
			case c := <-changes:
				if strings.Contains(string(c.Data), "after restart") {
					return true
				}
			default:
				return false
			}
		}
	}, 10*time.Second, 50*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, drops, 1)
	assert.GreaterOrEqual(t, connects, 2)
}

func TestSubscriberEmptyServerName(t *testing.T) {
	s := miniredis.RunT(t)

	changes := make(chan Change, 16)
	sub := NewSubscriber(s.Addr(), "rc.*", func(c Change) {
		changes <- c
	}, logger.NewNopLogger().Sessionless())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	var got Change
	require.Eventually(t, func() bool {
		s.Publish("rc.mystery", `{"comment":"no server_name field"}`)
		select {
		case got = <-changes:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	// Changes without a server_name still flow, with an empty wiki.
	assert.Equal(t, "", got.Wiki)
}
