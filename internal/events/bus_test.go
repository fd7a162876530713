package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_PublishInSubscriptionOrder(t *testing.T) {
	bus := NewBus[int]()

	var got []string
	bus.Subscribe(func(v int) { got = append(got, "first") })
	bus.Subscribe(func(v int) { got = append(got, "second") })
	bus.Subscribe(func(v int) { got = append(got, "third") })

	bus.Publish(1)
	assert.Equal(t, []string{"first", "second", "third"}, got)
	assert.Equal(t, 3, bus.Len())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus[string]()

	var a, b []string
	unsubA := bus.Subscribe(func(v string) { a = append(a, v) })
	bus.Subscribe(func(v string) { b = append(b, v) })

	bus.Publish("x")
	unsubA()
	unsubA()
	bus.Publish("y")

	assert.Equal(t, []string{"x"}, a)
	assert.Equal(t, []string{"x", "y"}, b)
	assert.Equal(t, 1, bus.Len())
}

func TestBus_SubscribeDuringPublish(t *testing.T) {
	bus := NewBus[int]()

	var late []int
	bus.Subscribe(func(v int) {
		if v == 1 {
			bus.Subscribe(func(v int) { late = append(late, v) })
		}
	})

	bus.Publish(1)
	assert.Empty(t, late)

	bus.Publish(2)
	assert.Equal(t, []int{2}, late)
}
