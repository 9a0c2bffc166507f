package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_FanOut(t *testing.T) {
	h := NewHub(4)
	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	defer cancelA()
	defer cancelB()

	e := NewEvent(EventSessionStarted, "abc", "started")
	h.Publish(e)

	for _, ch := range []<-chan Event{a, b} {
		select {
		case got := <-ch:
			assert.Equal(t, e.ID, got.ID)
			assert.Equal(t, EventSessionStarted, got.Type)
			assert.Equal(t, "abc", got.SessionID)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(1)
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Publish(NewEvent(EventSessionFailed, "x", ""))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, uint64(9), h.Dropped())
}

func TestHub_CancelClosesChannel(t *testing.T) {
	h := NewHub(0)
	ch, cancel := h.Subscribe()
	require.Equal(t, 1, h.Subscribers())

	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers())

	// Publishing after cancel must not panic on the closed channel
	h.Publish(NewEvent(EventSessionStopped, "y", ""))
}

func TestHub_ConcurrentPublishSubscribe(t *testing.T) {
	h := NewHub(8)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ch, cancel := h.Subscribe()
			defer cancel()
			select {
			case <-ch:
			case <-time.After(10 * time.Millisecond):
			}
		}()
		go func() {
			defer wg.Done()
			h.Publish(NewEvent(EventSessionStarted, "z", ""))
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.Subscribers())
}
