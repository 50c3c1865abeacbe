/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package valentine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, s *Subscription) Record {
	t.Helper()

	select {
	case rec, ok := <-s.C():
		require.True(t, ok, "subscription closed")
		return rec
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return Record{}
}

func assertQuiet(t *testing.T, s *Subscription) {
	t.Helper()

	select {
	case rec, ok := <-s.C():
		if ok {
			t.Fatalf("unexpected snapshot %+v", rec)
		}
	default:
	}
}

func TestBrokerDeliversInOrderToEverySubscriber(t *testing.T) {
	b := NewBroker(4)
	a := b.Subscribe("X")
	c := b.Subscribe("X")
	other := b.Subscribe("Y")

	b.Publish(Record{ID: "X", Status: StatusOpened})
	b.Publish(Record{ID: "X", Status: StatusComplete})

	for _, s := range []*Subscription{a, c} {
		assert.Equal(t, StatusOpened, receive(t, s).Status)
		assert.Equal(t, StatusComplete, receive(t, s).Status)
	}
	assertQuiet(t, other)
}

func TestBrokerDropsRegressions(t *testing.T) {
	b := NewBroker(4)
	s := b.Subscribe("X")

	b.Publish(Record{ID: "X", Status: StatusComplete})
	b.Publish(Record{ID: "X", Status: StatusOpened})
	b.Publish(Record{ID: "X", Status: StatusComplete})

	assert.Equal(t, StatusComplete, receive(t, s).Status)
	assert.Equal(t, StatusComplete, receive(t, s).Status)
	assertQuiet(t, s)
}

func TestBrokerSnapshotsAreCopies(t *testing.T) {
	b := NewBroker(1)
	s := b.Subscribe("X")

	visitor := "V1"
	rec := Record{ID: "X", Status: StatusOpened, ReceiverVisitorID: &visitor}
	b.Publish(rec)
	visitor = "changed"

	got := receive(t, s)
	assert.Equal(t, "V1", *got.ReceiverVisitorID)
}

func TestSubscriptionCancel(t *testing.T) {
	b := NewBroker(1)
	s := b.Subscribe("X")
	require.Equal(t, 1, b.Subscribers("X"))

	s.Cancel()
	s.Cancel()

	_, ok := <-s.C()
	assert.False(t, ok)
	assert.Zero(t, b.Subscribers("X"))

	b.Publish(Record{ID: "X", Status: StatusOpened})
}

func TestBrokerClosesSlowSubscriber(t *testing.T) {
	b := NewBroker(1)
	slow := b.Subscribe("X")

	b.Publish(Record{ID: "X", Status: StatusOpened})
	b.Publish(Record{ID: "X", Status: StatusComplete})

	assert.Equal(t, StatusOpened, receive(t, slow).Status)
	_, ok := <-slow.C()
	assert.False(t, ok)
	assert.Zero(t, b.Subscribers("X"))
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker(1)
	s := b.Subscribe("X")
	cs := b.SubscribeCount()

	b.Close()

	_, ok := <-s.C()
	assert.False(t, ok)
	_, ok = <-cs.C()
	assert.False(t, ok)

	late := b.Subscribe("X")
	_, ok = <-late.C()
	assert.False(t, ok)
}

func TestBrokerCount(t *testing.T) {
	b := NewBroker(2)
	cs := b.SubscribeCount()

	b.PublishCount(3)
	b.PublishCount(4)

	assert.EqualValues(t, 3, <-cs.C())
	assert.EqualValues(t, 4, <-cs.C())

	cs.Cancel()
	b.PublishCount(5)
}
