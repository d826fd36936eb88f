package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestPublishSession(t *testing.T) {
	bus := New()
	all, unsubAll := bus.Subscribe(AllSessions, 4)
	defer unsubAll()
	one, unsubOne := bus.Subscribe("session.abc.*", 4)
	defer unsubOne()
	done, unsubDone := bus.Subscribe("session.*.completed", 4)
	defer unsubDone()

	bus.PublishSession(SessionEvent{SessionID: "abc", Kind: KindCreated})
	bus.PublishSession(SessionEvent{SessionID: "xyz", Kind: KindCompleted, PNR: "4512345678"})

	e := receive(t, all)
	assert.Equal(t, "session.abc.created", e.Topic)
	ev := e.Data.(SessionEvent)
	assert.Equal(t, KindCreated, ev.Kind)
	assert.False(t, ev.At.IsZero())
	assert.Equal(t, "session.xyz.completed", receive(t, all).Topic)

	assert.Equal(t, "session.abc.created", receive(t, one).Topic)
	assert.Len(t, one, 0)

	e = receive(t, done)
	assert.Equal(t, "4512345678", e.Data.(SessionEvent).PNR)
}

func TestUnsubscribe(t *testing.T) {
	bus := New()
	ch, unsub := bus.Subscribe(AllSessions, 1)
	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	bus.PublishSession(SessionEvent{SessionID: "abc", Kind: KindCreated})
	assert.Equal(t, uint64(0), bus.Dropped())
}

func TestSlowSubscriberDrops(t *testing.T) {
	bus := New()
	_, unsub := bus.Subscribe(AllSessions, 1)
	defer unsub()
	bus.PublishSession(SessionEvent{SessionID: "a", Kind: KindCreated})
	bus.PublishSession(SessionEvent{SessionID: "a", Kind: KindFailed})
	assert.Equal(t, uint64(1), bus.Dropped())
}

func TestShutdown(t *testing.T) {
	bus := New()
	ch1, unsub1 := bus.Subscribe(AllSessions, 1)
	ch2, _ := bus.Subscribe("*", 1)
	bus.Shutdown()
	for _, ch := range []<-chan Event{ch1, ch2} {
		_, ok := <-ch
		assert.False(t, ok)
	}
	unsub1()
}

func TestConcurrentPublish(t *testing.T) {
	bus := New()
	ch, unsub := bus.Subscribe(AllSessions, 1000)
	defer unsub()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.PublishSession(SessionEvent{SessionID: "s", Kind: KindSubmitted})
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ch, 1000)
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern, topic string
		want           bool
	}{
		{"*", "session.a.created", true},
		{"session.*.*", "session.a.created", true},
		{"session.a.*", "session.a.created", true},
		{"session.b.*", "session.a.created", false},
		{"session.*", "session.a.created", false},
		{"session.a.created", "session.a.created", true},
		{"", "session.a.created", false},
		{"session.*.*", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchTopic(tt.pattern, tt.topic), "%s vs %s", tt.pattern, tt.topic)
	}
}
