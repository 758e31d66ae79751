package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/coophub/coop-engine/internal/domain/shared"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{Logger: quiet, EnableMetrics: true})
}

func placementApplied(student string) shared.Event {
	return shared.NewPlacementEvent(shared.EventPlacementApplied, "app-1", student, "c1", "", "PENDING")
}

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY BUS
// ══════════════════════════════════════════════════════════════════════════════

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventPlacementApplied, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(placementApplied("s1")))
	require.NoError(t, bus.Publish(shared.NewReportEvent(shared.EventReportSubmitted, "r1", "app-1", 1)))

	assert.Equal(t, []shared.EventType{shared.EventPlacementApplied}, typed)
	assert.Equal(t, []shared.EventType{shared.EventPlacementApplied, shared.EventReportSubmitted}, all)
	assert.EqualValues(t, 2, bus.Metrics().Snapshot().TotalPublished)
}

func TestInMemoryEventBus_HandlerFailuresDoNotReachPublisher(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("bad handler") }))

	assert.NoError(t, bus.Publish(placementApplied("s1")))

	snap := bus.Metrics().Snapshot()
	assert.EqualValues(t, 2, snap.HandlerFailures)
	assert.Zero(t, snap.HandlerSuccessRate)
}

func TestInMemoryEventBus_AsyncDrainsOnClose(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2, Logger: quiet})

	var handled atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		handled.Add(1)
		return nil
	}))
	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(placementApplied("s1")))
	}
	require.NoError(t, bus.Close())

	assert.EqualValues(t, 10, handled.Load())
	assert.ErrorIs(t, bus.Publish(placementApplied("s1")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventPlacementApplied, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_RejectsNil(t *testing.T) {
	bus := syncBus()
	defer bus.Close()
	assert.Error(t, bus.Subscribe(shared.EventPlacementApplied, nil))
	assert.Error(t, bus.Publish(nil))
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS BUS
// ══════════════════════════════════════════════════════════════════════════════

// hub is an in-process stand-in for a Redis server's Pub/Sub.
type hub struct {
	mu   sync.Mutex
	subs map[string][]chan RedisMessage
}

func newHub() *hub { return &hub{subs: map[string][]chan RedisMessage{}} }

type hubClient struct {
	hub    *hub
	mine   []chan RedisMessage
	failOn bool
	closed bool
}

func (h *hub) client() *hubClient { return &hubClient{hub: h} }

func (c *hubClient) Publish(_ context.Context, channel string, message any) error {
	if c.failOn {
		return errors.New("redis down")
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	for _, ch := range c.hub.subs[channel] {
		ch <- RedisMessage{Channel: channel, Payload: message.(string)}
	}
	return nil
}

func (c *hubClient) Subscribe(_ context.Context, channels ...string) (<-chan RedisMessage, error) {
	ch := make(chan RedisMessage, 16)
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	for _, name := range channels {
		c.hub.subs[name] = append(c.hub.subs[name], ch)
	}
	c.mine = append(c.mine, ch)
	return ch, nil
}

func (c *hubClient) Close() error {
	c.closed = true
	return nil
}

func newRedisBus(t *testing.T, client RedisClient, id string) *RedisEventBus {
	t.Helper()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:         client,
		InstanceID:     id,
		Logger:         quiet,
		LocalBusConfig: InMemoryEventBusConfig{Logger: quiet},
	})
	require.NoError(t, err)
	return bus
}

func TestRedisEventBus_DeliversAcrossInstancesOnce(t *testing.T) {
	h := newHub()
	a := newRedisBus(t, h.client(), "a")
	b := newRedisBus(t, h.client(), "b")
	defer a.Close()
	defer b.Close()

	var mu sync.Mutex
	var seenA, seenB []string
	record := func(dst *[]string) shared.EventHandler {
		return func(e shared.Event) error {
			mu.Lock()
			defer mu.Unlock()
			*dst = append(*dst, e.Payload()["student_id"].(string))
			return nil
		}
	}
	require.NoError(t, a.Subscribe(shared.EventPlacementApplied, record(&seenA)))
	require.NoError(t, b.Subscribe(shared.EventPlacementApplied, record(&seenB)))

	require.NoError(t, a.Publish(placementApplied("s1")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seenB) == 1
	}, time.Second, 5*time.Millisecond)

	// Give a stray echo time to show up before checking it did not.
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"s1"}, seenA)
	assert.Equal(t, []string{"s1"}, seenB)
}

func TestRedisEventBus_PublishFailureStillDeliversLocally(t *testing.T) {
	c := newHub().client()
	c.failOn = true
	bus := newRedisBus(t, c, "a")

	var got atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		got.Add(1)
		return nil
	}))
	require.NoError(t, bus.Publish(placementApplied("s1")))
	assert.EqualValues(t, 1, got.Load())

	require.NoError(t, bus.Close())
	assert.True(t, c.closed)
	assert.ErrorIs(t, bus.Publish(placementApplied("s1")), ErrEventBusClosed)
}

func TestNewRedisEventBus_RequiresClient(t *testing.T) {
	_, err := NewRedisEventBus(RedisEventBusConfig{})
	assert.Error(t, err)
}
