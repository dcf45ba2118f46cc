package queue

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// silentBroker accepts TCP connections and never answers the AMQP
// handshake.
func silentBroker(t *testing.T) (string, *atomic.Int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var accepted atomic.Int32
	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return "amqp://guest:guest@" + ln.Addr().String() + "/", &accepted
}

func TestPublishGivesUpAfterDialTimeout(t *testing.T) {
	url, accepted := silentBroker(t)
	p := NewPublisher(url, nil, WithDialTimeout(100*time.Millisecond), WithRetryAfter(time.Minute))
	ctx := context.Background()

	start := time.Now()
	err := p.Publish(ctx, VisitModeratedQueue, VisitModeratedEvent{VisitID: "v1"})
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)

	// Within the retry delay nothing is dialled.
	start = time.Now()
	for i := 0; i < 50; i++ {
		err = p.Publish(ctx, VisitModeratedQueue, VisitModeratedEvent{VisitID: "v2"})
		assert.ErrorIs(t, err, ErrBrokerUnavailable)
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.EqualValues(t, 1, accepted.Load())
}

func TestPublishRedialsAfterRetryDelay(t *testing.T) {
	url, accepted := silentBroker(t)
	p := NewPublisher(url, nil, WithDialTimeout(50*time.Millisecond), WithRetryAfter(time.Minute))
	var mu sync.Mutex
	clock := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	p.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	ctx := context.Background()

	require.Error(t, p.Publish(ctx, AutomationQueue, AutomationMessage{}))
	mu.Lock()
	clock = clock.Add(2 * time.Minute)
	mu.Unlock()
	require.Error(t, p.Publish(ctx, AutomationQueue, AutomationMessage{}))

	assert.Eventually(t, func() bool { return accepted.Load() == 2 }, time.Second, 10*time.Millisecond)
}

func TestPublishHonoursContext(t *testing.T) {
	url, _ := silentBroker(t)
	p := NewPublisher(url, nil, WithDialTimeout(30*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.Publish(ctx, VisitModeratedQueue, VisitModeratedEvent{VisitID: "v1"})
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestConcurrentPublishesShareOneDial(t *testing.T) {
	url, accepted := silentBroker(t)
	p := NewPublisher(url, nil, WithDialTimeout(150*time.Millisecond), WithRetryAfter(time.Minute))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Publish(context.Background(), VisitModeratedQueue, VisitModeratedEvent{VisitID: "v"})
			assert.ErrorIs(t, err, ErrBrokerUnavailable)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, accepted.Load())
}
