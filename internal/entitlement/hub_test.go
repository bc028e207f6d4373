package entitlement

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/keygate/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHubDeliversPerUser(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	alice, last, err := hub.Subscribe(1)
	require.NoError(t, err)
	assert.Nil(t, last)
	defer alice.Close()
	bob, _, err := hub.Subscribe(2)
	require.NoError(t, err)
	defer bob.Close()

	hub.Publish(ctx, Event{UserID: 1, Type: EventActivated})

	select {
	case ev := <-alice.Events():
		assert.Equal(t, EventActivated, ev.Type)
	default:
		t.Fatal("expected event for subscribed user")
	}
	select {
	case ev := <-bob.Events():
		t.Fatalf("unexpected event for other user: %+v", ev)
	default:
	}
}

func TestHubReplaysLastEventOnSubscribe(t *testing.T) {
	hub := NewHub()
	first, _, err := hub.Subscribe(1)
	require.NoError(t, err)
	defer first.Close()

	hub.Publish(context.Background(), Event{UserID: 1, Type: EventCleared})

	second, last, err := hub.Subscribe(1)
	require.NoError(t, err)
	defer second.Close()
	require.NotNil(t, last)
	assert.Equal(t, EventCleared, last.Type)
}

func TestHubReplaysEventPublishedWithoutSubscribers(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	hub := NewHub(WithHubClock(clk.Now), WithReplayRetention(time.Minute))

	hub.Publish(context.Background(), Event{UserID: 1, Type: EventActivated})

	sub, last, err := hub.Subscribe(1)
	require.NoError(t, err)
	defer sub.Close()
	require.NotNil(t, last)
	assert.Equal(t, EventActivated, last.Type)
}

func TestHubReplaysAfterOnlySubscriberReconnects(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	hub := NewHub(WithHubClock(clk.Now), WithReplayRetention(time.Minute))

	first, _, err := hub.Subscribe(1)
	require.NoError(t, err)
	hub.Publish(context.Background(), Event{UserID: 1, Type: EventActivated})
	<-first.Events()
	first.Close()

	clk.Advance(30 * time.Second)
	second, last, err := hub.Subscribe(1)
	require.NoError(t, err)
	defer second.Close()
	require.NotNil(t, last)
	assert.Equal(t, EventActivated, last.Type)
}

func TestHubForgetsEventAfterReplayWindow(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	hub := NewHub(WithHubClock(clk.Now), WithReplayRetention(time.Minute))
	ctx := context.Background()

	hub.Publish(ctx, Event{UserID: 1, Type: EventActivated})
	clk.Advance(2 * time.Minute)

	sub, last, err := hub.Subscribe(1)
	require.NoError(t, err)
	assert.Nil(t, last)
	sub.Close()
	assert.Equal(t, 0, hub.Topics())

	hub.Publish(ctx, Event{UserID: 2, Type: EventActivated})
	assert.Equal(t, 1, hub.Topics())
	clk.Advance(2 * time.Minute)
	hub.Publish(ctx, Event{UserID: 3, Type: EventActivated})
	assert.Equal(t, 1, hub.Topics(), "idle topic for user 2 is swept")
}

func TestHubPublishNeverBlocks(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe(1)
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < DefaultSubscriberBuffer*3; i++ {
		hub.Publish(context.Background(), Event{UserID: 1, Type: EventRefreshed})
	}
	assert.Len(t, sub.Events(), DefaultSubscriberBuffer)
}

func TestHubCloseRemovesTopic(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe(1)
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers(1))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.Subscribers(1))

	_, _, err = hub.Subscribe(0)
	assert.Error(t, err)
}

func TestRelayDeliversOnlyForeignEvents(t *testing.T) {
	hub := NewHub()
	relay := NewRedisRelay(nil, hub, zaptest.NewLogger(t))
	sub, _, err := hub.Subscribe(snowflake.ID(7))
	require.NoError(t, err)
	defer sub.Close()

	relay.deliver(`{"user_id":"7","type":"activated","origin":"` + relay.origin + `"}`)
	relay.deliver(`not json`)
	assert.Len(t, sub.Events(), 0)

	relay.deliver(`{"user_id":"7","type":"activated","origin":"other-instance"}`)
	require.Len(t, sub.Events(), 1)
	ev := <-sub.Events()
	assert.Equal(t, snowflake.ID(7), ev.UserID)
	assert.Equal(t, EventActivated, ev.Type)
}
