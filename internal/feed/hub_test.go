package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDelivers(t *testing.T) {
	h := NewHub(4)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(KindAlert, "hello")
	ev := <-ch
	assert.Equal(t, KindAlert, ev.Kind)
	assert.Equal(t, "hello", ev.Data)
	assert.False(t, ev.At.IsZero())
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(KindLog, 1)
	h.Publish(KindLog, 2) // dropped, buffer full

	ev := <-ch
	assert.Equal(t, 1, ev.Data)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev)
	default:
	}
}

func TestHubCancel(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe()
	require.Equal(t, 1, h.Subscribers())
	cancel()
	cancel()
	assert.Equal(t, 0, h.Subscribers())
	_, open := <-ch
	assert.False(t, open)

	h.Publish(KindLog, "after cancel") // must not panic
}
