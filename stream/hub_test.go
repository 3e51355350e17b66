package stream

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestHubBroadcastsOnlyToOwner(t *testing.T) {
	h := NewHub(2)
	mine, cancelMine := h.Subscribe("user-1")
	defer cancelMine()
	other, cancelOther := h.Subscribe("user-2")
	defer cancelOther()

	if n := h.Broadcast("user-1", []byte("hello")); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	select {
	case got := <-mine:
		if string(got) != "hello" {
			t.Fatalf("unexpected payload %q", got)
		}
	default:
		t.Fatalf("expected message for user-1")
	}
	select {
	case got := <-other:
		t.Fatalf("user-2 received %q", got)
	default:
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe("user")
	defer cancel()

	if n := h.Broadcast("user", []byte("a")); n != 1 {
		t.Fatalf("expected first delivery")
	}
	if n := h.Broadcast("user", []byte("b")); n != 0 {
		t.Fatalf("expected full buffer to drop, got %d deliveries", n)
	}
	if got := <-ch; string(got) != "a" {
		t.Fatalf("unexpected payload %q", got)
	}
}

func TestHubCancelClosesAndForgets(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe("user")
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if n := h.subscribers("user"); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
	if n := h.Broadcast("user", []byte("x")); n != 0 {
		t.Fatalf("expected no deliveries after cancel")
	}
}

func TestRunRelaysRedisMessages(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()

	logger, hook := test.NewNullLogger()
	h := NewHub(4)
	ch, cancelSub := h.Subscribe("user1")
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, logger, rc, "board-events")
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for m.PubSubNumSub("board-events")["board-events"] == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription not established")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := rc.Publish(context.Background(), "board-events", `{"type":"task-moved"}`).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	payload := `{"id":"e1","type":"task-created","userId":"user1"}`
	if err := rc.Publish(context.Background(), "board-events", payload).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-ch:
		if string(got) != payload {
			t.Fatalf("unexpected payload %s", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("event was not relayed")
	}
	if entry := hook.LastEntry(); entry == nil || entry.Message != "dropping board event without owner" {
		t.Fatalf("expected ownerless event to be logged, got %#v", entry)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit")
	}
}
