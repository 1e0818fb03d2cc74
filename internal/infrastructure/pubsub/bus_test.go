package pubsub

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handoff-hub/handoff-hub/internal/domain/event"
)

func TestPublishFanOut(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	all := bus.Subscribe("all")
	disputesOnly := bus.Subscribe("disputes", event.TypeDisputeRaised, event.TypeDisputeResolved)

	txID := uuid.New()
	bus.Publish(event.New(event.TypeTransactionCreated, txID, nil))
	bus.Publish(event.New(event.TypeDisputeRaised, txID, map[string]string{"reason": "NOT_RECEIVED"}))

	require.Len(t, all.C, 2)
	require.Len(t, disputesOnly.C, 1)

	e := <-disputesOnly.C
	assert.Equal(t, event.TypeDisputeRaised, e.Type)
	assert.Equal(t, txID, e.TransactionID)
	assert.Equal(t, "NOT_RECEIVED", e.Fields["reason"])
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	slow := bus.Subscribe("slow")

	// One more than the buffer; the publisher must not stall.
	for i := 0; i < defaultBuffer+1; i++ {
		bus.Publish(event.New(event.TypeTransactionCreated, uuid.New(), nil))
	}
	assert.Len(t, slow.C, defaultBuffer, "overflow is dropped, not queued")
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	sub := bus.Subscribe("a")
	assert.Equal(t, 1, bus.SubscriberCount())

	bus.Unsubscribe("a")
	assert.Equal(t, 0, bus.SubscriberCount())

	_, open := <-sub.C
	assert.False(t, open, "channel closed on unsubscribe")

	// Publishing after unsubscribe is a no-op.
	bus.Publish(event.New(event.TypeTransactionCreated, uuid.New(), nil))
}

func TestResubscribeReplaces(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	first := bus.Subscribe("a")
	second := bus.Subscribe("a")

	_, open := <-first.C
	assert.False(t, open, "stale subscription closed")

	bus.Publish(event.New(event.TypeTransactionSent, uuid.New(), nil))
	assert.Len(t, second.C, 1)
	assert.Equal(t, 1, bus.SubscriberCount())
}
