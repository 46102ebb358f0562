package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	b.Publish(StatusUpdated, "hello")

	select {
	case ev := <-sub.Events():
		assert.Equal(t, StatusUpdated, ev.Name)
		assert.Equal(t, "hello", ev.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New(4)
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	b.Publish(BacklogUpdated, 1)

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, BacklogUpdated, ev.Name)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestOverflowDropsOldestAndCountsDrops(t *testing.T) {
	b := New(2)
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	b.Publish(CostUpdate, 1)
	b.Publish(CostUpdate, 2)
	b.Publish(CostUpdate, 3) // buffer holds 2; this forces a drop

	require.Eventually(t, func() bool { return sub.Dropped() >= 1 }, time.Second, time.Millisecond)

	// The surviving events are the newest ones, oldest-dropped.
	var got []any
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub.Events():
			got = append(got, ev.Data)
		case <-time.After(time.Second):
			t.Fatal("timed out draining events")
		}
	}
	assert.NotContains(t, got, 1, "the oldest event should have been dropped")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	sub.Unsubscribe()

	b.Publish(FeatureUpdated, nil)

	_, ok := <-sub.Events()
	assert.False(t, ok, "channel should be closed after Unsubscribe")
}
