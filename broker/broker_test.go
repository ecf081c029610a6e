package broker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker[int]()
	a := b.Subscribe("a", 2)
	c := b.Subscribe("c", 2)

	b.Publish(1)
	b.Publish(2)

	require.Equal(t, 1, <-a)
	require.Equal(t, 2, <-a)
	require.Equal(t, 1, <-c)
	require.Equal(t, 2, <-c)
}

func TestBrokerPublishNeverBlocks(t *testing.T) {
	b := NewBroker[int]()
	ch := b.Subscribe("slow", 1)

	b.Publish(1)
	b.Publish(2)
	b.Publish(3)

	require.Equal(t, uint64(2), b.Dropped("slow"))
	require.Equal(t, 1, <-ch)
}

func TestBrokerPublishWithoutSubscribers(t *testing.T) {
	b := NewBroker[string]()
	b.Publish("nobody")
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker[int]()
	ch := b.Subscribe("a", 1)
	b.Unsubscribe("missing")
	b.Close()

	_, ok := <-ch
	require.False(t, ok)

	late := b.Subscribe("late", 1)
	_, ok = <-late
	require.False(t, ok)
	b.Publish(1)
}
