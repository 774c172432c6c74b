package event_bus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_Publish(t *testing.T) {
	t.Run("should call subscribers in registration order", func(t *testing.T) {
		// given
		bus := NewEventBus()
		var calls []int
		for i := 1; i <= 5; i++ {
			bus.Subscribe("test", func(e Event) error {
				calls = append(calls, i)
				return nil
			})
		}

		// when
		err := bus.Publish(NewEvent(context.Background(), "test", nil))

		// then
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3, 4, 5}, calls)
	})

	t.Run("should deliver typed payloads and skip other types", func(t *testing.T) {
		// given
		bus := NewEventBus()
		var received []CalendarEventsChanged
		SubscribeTyped[CalendarEventsChanged](bus, CalendarEventsChangedType, func(e EventT[CalendarEventsChanged]) error {
			received = append(received, e.Data)
			return nil
		})

		// when
		err1 := bus.Publish(NewEvent(context.Background(), CalendarEventsChangedType, CalendarEventsChanged{UserIds: []int{1}}))
		err2 := bus.Publish(NewEvent(context.Background(), CalendarEventsChangedType, "not a payload"))

		// then
		require.NoError(t, err1)
		require.NoError(t, err2)
		require.Len(t, received, 1)
		assert.Equal(t, []int{1}, received[0].UserIds)
	})

	t.Run("should collect handler errors and recover panics", func(t *testing.T) {
		// given
		bus := NewEventBus()
		handlerErr := errors.New("boom")
		called := false
		bus.Subscribe("test", func(e Event) error { return handlerErr })
		bus.Subscribe("test", func(e Event) error { panic("unexpected") })
		bus.Subscribe("test", func(e Event) error {
			called = true
			return nil
		})

		// when
		err := bus.Publish(NewEvent(context.Background(), "test", nil))

		// then
		require.Error(t, err)
		assert.ErrorIs(t, err, handlerErr)
		assert.Contains(t, err.Error(), "handler panic")
		assert.True(t, called)
	})

	t.Run("should not call unsubscribed handler", func(t *testing.T) {
		// given
		bus := NewEventBus()
		count := 0
		unsubscribe := bus.Subscribe("test", func(e Event) error {
			count++
			return nil
		})
		require.NoError(t, bus.Publish(NewEvent(context.Background(), "test", nil)))

		// when
		unsubscribe()
		require.NoError(t, bus.Publish(NewEvent(context.Background(), "test", nil)))

		// then
		assert.Equal(t, 1, count)
	})

	t.Run("should refuse to publish with cancelled context", func(t *testing.T) {
		// given
		bus := NewEventBus()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		// when
		err := bus.Publish(NewEvent(ctx, "test", nil))

		// then
		assert.ErrorIs(t, err, context.Canceled)
	})
}
