package topicbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe("vehicle:v1")
	n := b.Publish("vehicle:v1", "hello")
	assert.Equal(t, 1, n)
	assert.Equal(t, "hello", <-sub)
}

func TestPublish_TopicIsolation(t *testing.T) {
	b := New()
	v1 := b.Subscribe("vehicle:v1")
	center := b.Subscribe("dispatch_center")

	b.Publish("dispatch_center", "status")
	assert.Equal(t, "status", <-center)
	select {
	case m := <-v1:
		t.Fatalf("unexpected message on vehicle topic: %v", m)
	default:
	}
}

func TestSubscribe_MultipleTopics(t *testing.T) {
	b := New()
	sub := b.Subscribe("vehicle:v1", "dispatch_center")
	b.Publish("vehicle:v1", 1)
	b.Publish("dispatch_center", 2)
	assert.Equal(t, 1, <-sub)
	assert.Equal(t, 2, <-sub)
}

func TestPublish_ShedsWhenSaturated(t *testing.T) {
	b := New()
	dropped := 0
	b.Dropped = func(string) { dropped++ }
	sub := b.Subscribe("t")
	for i := 0; i < 50; i++ {
		b.Publish("t", i)
	}
	assert.Positive(t, dropped)
	// The subscriber still receives the buffered prefix in order.
	assert.Equal(t, 0, <-sub)
	assert.Equal(t, 1, <-sub)
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe("a", "b")
	b.Unsubscribe(sub)
	assert.Zero(t, b.Publish("a", 1))
	assert.Zero(t, b.Publish("b", 1))
	_, open := <-sub
	assert.False(t, open)
}

func TestClose(t *testing.T) {
	b := New()
	sub := b.Subscribe("a", "b")
	b.Close()
	_, open := <-sub
	assert.False(t, open)
	assert.Zero(t, b.Publish("a", 1))
	// Subscribing after close yields a closed channel.
	late := b.Subscribe("a")
	_, open = <-late
	assert.False(t, open)
}
