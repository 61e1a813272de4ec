package command

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestBus_PublishReachesEachSubscriberOnce(t *testing.T) {
	b := NewBus()
	var a, c int
	b.Subscribe(TopicRecenter, func() { a++ })
	b.Subscribe(TopicRecenter, func() { c++ })
	b.Subscribe("other", func() { t.Fatalf("wrong topic delivered") })

	b.Publish(TopicRecenter)
	b.Publish(TopicRecenter)

	if a != 2 || c != 2 {
		t.Fatalf("expected each handler twice, got a=%d c=%d", a, c)
	}
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	b := NewBus()
	calls := 0
	unsub := b.Subscribe(TopicRecenter, func() { calls++ })
	keep := b.Subscribe(TopicRecenter, func() {})
	defer keep()

	unsub()
	unsub()
	b.Publish(TopicRecenter)

	if calls != 0 {
		t.Fatalf("expected no calls after unsubscribe, got %d", calls)
	}
	if got := b.Subscribers(TopicRecenter); got != 1 {
		t.Fatalf("expected 1 remaining subscriber, got %d", got)
	}
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	b := NewBus()
	b.Publish(TopicRecenter)
	if b.Subscribers(TopicRecenter) != 0 {
		t.Fatalf("expected no subscribers")
	}
}

func TestBus_HandlerMayUnsubscribeItself(t *testing.T) {
	b := NewBus()
	calls := 0
	var unsub func()
	unsub = b.Subscribe(TopicRecenter, func() {
		calls++
		unsub()
	})
	b.Publish(TopicRecenter)
	b.Publish(TopicRecenter)
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}

type fakeBroadcaster struct {
	topics []string
}

func (f *fakeBroadcaster) Broadcast(topic string) int {
	f.topics = append(f.topics, topic)
	return 1
}

func TestMQTTBridge_ForwardsRecenter(t *testing.T) {
	target := &fakeBroadcaster{}
	b := NewMQTTBridge(zerolog.Nop(), MQTTOptions{BrokerURL: "tcp://127.0.0.1:1883", TopicPrefix: "/site-a/"}, target)

	if got := b.Topic(); got != "site-a/command/+" {
		t.Fatalf("unexpected topic %q", got)
	}

	b.handle("site-a/command/recenter", nil)
	b.handle("site-a/command/reboot", []byte(`{}`))

	if len(target.topics) != 1 || target.topics[0] != TopicRecenter {
		t.Fatalf("expected one recenter broadcast, got %v", target.topics)
	}
}

func TestMQTTBridge_DefaultPrefix(t *testing.T) {
	b := NewMQTTBridge(zerolog.Nop(), MQTTOptions{BrokerURL: "tcp://127.0.0.1:1883"}, &fakeBroadcaster{})
	if got := b.Topic(); got != "aedmap/command/+" {
		t.Fatalf("unexpected topic %q", got)
	}
	b.Close()
}

func TestKnown(t *testing.T) {
	for topic, want := range map[string]bool{
		TopicRecenter: true,
		"Recenter":    false,
		"reboot":      false,
		"":            false,
	} {
		if got := Known(topic); got != want {
			t.Fatalf("Known(%q) = %v, want %v", topic, got, want)
		}
	}
}
