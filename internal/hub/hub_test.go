package hub

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector is a sink that records everything it receives.
type collector struct {
	mu     sync.Mutex
	events []*Event
}

func (c *collector) sink(ev *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) snapshot() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Event, len(c.events))
	copy(out, c.events)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}

func TestHub_DeliversInOrder(t *testing.T) {
	h := New(64)
	c := &collector{}
	sub := h.Subscribe("", c.sink)
	defer h.Unsubscribe(sub.ID)

	const n = 50
	for i := 0; i < n; i++ {
		h.Publish(&Event{Type: EventTrustScore, ProductID: "P", Payload: i})
	}

	waitFor(t, func() bool { return len(c.snapshot()) == n })

	for i, ev := range c.snapshot() {
		assert.Equal(t, i, ev.Payload, "per-subscriber ordering must match production order")
	}
}

func TestHub_ProductFilter(t *testing.T) {
	h := New(64)
	cP := &collector{}
	cAll := &collector{}
	subP := h.Subscribe("P", cP.sink)
	subAll := h.Subscribe("", cAll.sink)
	defer h.Unsubscribe(subP.ID)
	defer h.Unsubscribe(subAll.ID)

	h.Publish(&Event{Type: EventTrustScore, ProductID: "P"})
	h.Publish(&Event{Type: EventTrustScore, ProductID: "Q"})
	h.Publish(&Event{Type: EventNewAlert}) // no product: reaches everyone

	waitFor(t, func() bool { return len(cAll.snapshot()) == 3 })
	waitFor(t, func() bool { return len(cP.snapshot()) == 2 })

	for _, ev := range cP.snapshot() {
		assert.NotEqual(t, "Q", ev.ProductID)
	}
}

func TestHub_OverflowDropsOldestAndSurfacesCount(t *testing.T) {
	h := New(4)

	entered := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	c := &collector{}

	// The first delivery parks inside the sink so the queue can fill.
	blockingSink := func(ev *Event) error {
		once.Do(func() {
			close(entered)
			<-gate
		})
		return c.sink(ev)
	}

	sub := h.Subscribe("", blockingSink)
	defer h.Unsubscribe(sub.ID)

	h.Publish(&Event{Type: EventTrustScore, Payload: 0})
	<-entered // event 0 is in-flight, queue is empty

	// Seven more against a queue of four: the three oldest are evicted.
	for i := 1; i <= 7; i++ {
		h.Publish(&Event{Type: EventTrustScore, Payload: i})
	}
	assert.Equal(t, int64(3), sub.Dropped())

	close(gate)
	waitFor(t, func() bool { return len(c.snapshot()) == 5 })

	got := c.snapshot()
	assert.Equal(t, 0, got[0].Payload)
	assert.Zero(t, got[0].DroppedEvents)

	// The first frame after the overflow carries the drop count; the
	// stream stays connected and the surviving events are the newest.
	assert.Equal(t, 4, got[1].Payload)
	assert.Equal(t, int64(3), got[1].DroppedEvents)
	for i, ev := range got[2:] {
		assert.Equal(t, 5+i, ev.Payload)
		assert.Zero(t, ev.DroppedEvents, "count surfaces once, then resets")
	}
	assert.Zero(t, sub.Dropped())
}

func TestHub_SlowSubscriberDoesNotAffectPeers(t *testing.T) {
	h := New(64)

	stuck := make(chan struct{})
	slowEntered := make(chan struct{})
	var once sync.Once
	slow := func(ev *Event) error {
		once.Do(func() { close(slowEntered) })
		<-stuck
		return nil
	}
	fast := &collector{}

	subSlow := h.Subscribe("", slow)
	subFast := h.Subscribe("", fast.sink)
	defer func() {
		close(stuck)
		h.Unsubscribe(subSlow.ID)
		h.Unsubscribe(subFast.ID)
	}()

	for i := 0; i < 20; i++ {
		h.Publish(&Event{Type: EventTrustScore, Payload: i})
	}
	<-slowEntered

	waitFor(t, func() bool { return len(fast.snapshot()) == 20 })
}

func TestHub_SinkErrorDeregisters(t *testing.T) {
	h := New(8)

	sub := h.Subscribe("", func(ev *Event) error {
		return fmt.Errorf("connection gone")
	})

	h.Publish(&Event{Type: EventTrustScore})
	waitFor(t, func() bool { return h.SubscriberCount() == 0 })
	_ = sub
}

func TestHub_Unsubscribe(t *testing.T) {
	h := New(8)
	c := &collector{}

	sub := h.Subscribe("", c.sink)
	assert.Equal(t, 1, h.SubscriberCount())

	h.Unsubscribe(sub.ID)
	assert.Equal(t, 0, h.SubscriberCount())

	// Publishing after deregistration must not panic or deliver.
	h.Publish(&Event{Type: EventTrustScore})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, c.snapshot())
}

func TestHub_StatsCountDrops(t *testing.T) {
	h := New(1)

	block := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	sub := h.Subscribe("", func(ev *Event) error {
		once.Do(func() {
			close(entered)
			<-block
		})
		return nil
	})
	defer h.Unsubscribe(sub.ID)

	h.Publish(&Event{Type: EventTrustScore})
	<-entered
	h.Publish(&Event{Type: EventTrustScore})
	h.Publish(&Event{Type: EventTrustScore})
	close(block)

	waitFor(t, func() bool {
		_, _, dropped := h.Stats()
		return dropped == 1
	})

	published, _, _ := h.Stats()
	require.Equal(t, int64(3), published)
}

func TestHub_TimestampDefaulted(t *testing.T) {
	h := New(8)
	c := &collector{}
	sub := h.Subscribe("", c.sink)
	defer h.Unsubscribe(sub.ID)

	h.Publish(&Event{Type: EventScanResult})
	waitFor(t, func() bool { return len(c.snapshot()) == 1 })
	assert.False(t, c.snapshot()[0].Timestamp.IsZero())
}
