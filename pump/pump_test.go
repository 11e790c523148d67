package pump

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskmaster/domain"
)

type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	deleted  []string
}

func (f *fakeQueue) push(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
}

func (f *fakeQueue) DequeueChange(ctx context.Context) (*azqueue.DequeuedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return nil, nil
	}
	text := f.messages[0]
	f.messages = f.messages[1:]
	id := "msg-" + text
	receipt := "receipt"
	return &azqueue.DequeuedMessage{MessageID: &id, PopReceipt: &receipt, MessageText: &text}, nil
}

func (f *fakeQueue) DeleteChange(ctx context.Context, id, receipt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeEvictor struct {
	mu     sync.Mutex
	owners []string
}

func (f *fakeEvictor) Evict(ctx context.Context, owner string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owners = append(f.owners, owner)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func encodeEvent(t *testing.T, ev domain.ChangeEvent) string {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func TestStepPublishesAndEvicts(t *testing.T) {
	_, client := newTestRedis(t)

	sub := client.Subscribe(context.Background(), "changes")
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(context.Background()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	queue := &fakeQueue{}
	evictor := &fakeEvictor{}
	queue.push(encodeEvent(t, domain.ChangeEvent{
		ID: "ev1", UserID: "u1", Collection: domain.CollectionTasks, Time: 1,
	}))

	p := New(queue, client, evictor, "changes", nil)
	if !p.step(context.Background()) {
		t.Fatalf("step must report progress")
	}

	select {
	case msg := <-sub.Channel():
		var ev domain.ChangeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			t.Fatalf("unmarshal published event: %v", err)
		}
		if ev.UserID != "u1" || ev.Collection != domain.CollectionTasks {
			t.Fatalf("unexpected event: %#v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no event published")
	}

	if len(evictor.owners) != 1 || evictor.owners[0] != "u1" {
		t.Fatalf("unexpected evictions: %#v", evictor.owners)
	}
	if len(queue.deleted) != 1 {
		t.Fatalf("message must be deleted after processing: %#v", queue.deleted)
	}
}

func TestStepDeletesMalformedMessage(t *testing.T) {
	_, client := newTestRedis(t)

	queue := &fakeQueue{}
	queue.push("not json")

	p := New(queue, client, &fakeEvictor{}, "changes", nil)
	if !p.step(context.Background()) {
		t.Fatalf("step must report progress")
	}
	if len(queue.deleted) != 1 {
		t.Fatalf("malformed message must still be deleted: %#v", queue.deleted)
	}
}

func TestStepSkipsIncompleteEvent(t *testing.T) {
	_, client := newTestRedis(t)

	queue := &fakeQueue{}
	evictor := &fakeEvictor{}
	queue.push(encodeEvent(t, domain.ChangeEvent{ID: "ev1", Collection: domain.CollectionTasks}))

	p := New(queue, client, evictor, "changes", nil)
	p.step(context.Background())

	if len(evictor.owners) != 0 {
		t.Fatalf("incomplete event must not evict: %#v", evictor.owners)
	}
	if len(queue.deleted) != 1 {
		t.Fatalf("incomplete event must still be deleted")
	}
}

func TestStepReportsIdleOnEmptyQueue(t *testing.T) {
	_, client := newTestRedis(t)

	p := New(&fakeQueue{}, client, nil, "changes", nil)
	if p.step(context.Background()) {
		t.Fatalf("empty queue must report idle")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	_, client := newTestRedis(t)

	p := New(&fakeQueue{}, client, nil, "changes", nil)
	p.idleDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}
