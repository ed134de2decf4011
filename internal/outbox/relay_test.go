package outbox

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"parkhub/internal/database"
	"parkhub/internal/events"
	"parkhub/internal/models"
	"parkhub/internal/repository"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []events.Envelope
	fail      func(env events.Envelope) error
}

func (p *fakePublisher) Publish(ctx context.Context, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		if err := p.fail(env); err != nil {
			return err
		}
	}
	p.published = append(p.published, env)
	return nil
}

func (p *fakePublisher) bookingIDs() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]int64, 0, len(p.published))
	for _, env := range p.published {
		ids = append(ids, env.Payload.BookingID)
	}
	return ids
}

func newStore(t *testing.T) *repository.OutboxRepo {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "outbox.db"), database.BookingSchema, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return repository.NewOutboxRepo(db)
}

func enqueue(t *testing.T, store *repository.OutboxRepo, topic string, bookingID int64) events.Envelope {
	t.Helper()
	env := events.NewEnvelope(topic, "test", events.BookingPayload{BookingID: bookingID, LotID: "L1"})
	require.NoError(t, store.Enqueue(context.Background(), env))
	return env
}

func newTestRelay(store Store, pub events.Publisher) *Relay {
	logger := zerolog.New(io.Discard)
	return NewRelay(store, pub, Config{
		MaxAttempts: 3,
		Backoff:     events.RetryPolicy{RetryDelays: []time.Duration{time.Minute}},
	}, &logger)
}

func TestRelay_FlushPublishesInOrder(t *testing.T) {
	store := newStore(t)
	pub := &fakePublisher{}
	relay := newTestRelay(store, pub)
	ctx := context.Background()

	first := enqueue(t, store, events.TopicBookingCreated, 1)
	enqueue(t, store, events.TopicBookingCreated, 2)
	enqueue(t, store, events.TopicBookingCancelled, 1)

	sent, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.Equal(t, []int64{1, 2, 1}, pub.bookingIDs())
	assert.Equal(t, first.EventID, pub.published[0].EventID)

	sent, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent, "sent messages are not published twice")
}

func TestRelay_TransportFailureIsRetriedLater(t *testing.T) {
	store := newStore(t)
	down := true
	pub := &fakePublisher{fail: func(env events.Envelope) error {
		if down && env.Payload.BookingID == 1 {
			return models.Transport("redis publish", errors.New("connection refused"))
		}
		return nil
	}}
	relay := newTestRelay(store, pub)
	ctx := context.Background()

	enqueue(t, store, events.TopicBookingCreated, 1)
	enqueue(t, store, events.TopicBookingCreated, 2)
	enqueue(t, store, events.TopicBookingCancelled, 1)

	sent, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []int64{2}, pub.bookingIDs(), "booking 1 waits behind its failed message")

	pending, err := store.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)

	down = false
	relay.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	sent, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []int64{2, 1, 1}, pub.bookingIDs())
	assert.Equal(t, events.TopicBookingCancelled, pub.published[2].EventType)
}

func TestRelay_GivesUp(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	t.Run("malformed payload is dead at once", func(t *testing.T) {
		relay := newTestRelay(store, &fakePublisher{})
		require.NoError(t, store.Enqueue(ctx, events.Envelope{EventID: "bad", EventType: events.TopicBookingCreated}))

		sent, err := relay.Flush(ctx)
		require.NoError(t, err)
		assert.Zero(t, sent)
		pending, err := store.CountPending(ctx)
		require.NoError(t, err)
		assert.Zero(t, pending)
	})

	t.Run("attempts are capped", func(t *testing.T) {
		pub := &fakePublisher{fail: func(events.Envelope) error { return errors.New("handler failed") }}
		relay := newTestRelay(store, pub)
		enqueue(t, store, events.TopicBookingCreated, 5)

		for i := 0; i < 3; i++ {
			relay.now = func() time.Time { return time.Now().Add(time.Duration(i+1) * 2 * time.Minute) }
			_, err := relay.Flush(ctx)
			require.NoError(t, err)
		}
		pending, err := store.CountPending(ctx)
		require.NoError(t, err)
		assert.Zero(t, pending)
	})
}

func TestRelay_BreakerStopsHammeringTheBus(t *testing.T) {
	store := newStore(t)
	calls := 0
	pub := &fakePublisher{fail: func(events.Envelope) error {
		calls++
		return models.Transport("redis publish", errors.New("connection refused"))
	}}
	relay := newTestRelay(store, pub)

	for id := int64(1); id <= 8; id++ {
		enqueue(t, store, events.TopicBookingCreated, id)
	}

	sent, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Equal(t, 5, calls)
	assert.Equal(t, gobreakerOpen, relay.breaker.State().String())

	pending, err := store.CountPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, pending)
}

const gobreakerOpen = "open"

func TestRelay_RunFlushesOnNotify(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))

	store := newStore(t)
	pub := &fakePublisher{}
	logger := zerolog.New(io.Discard)
	relay := NewRelay(store, pub, Config{PollInterval: time.Hour}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	enqueue(t, store, events.TopicBookingCreated, 42)
	relay.Notify()
	relay.Notify()

	assert.Eventually(t, func() bool { return len(pub.bookingIDs()) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
