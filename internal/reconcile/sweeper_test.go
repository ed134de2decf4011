package reconcile

import (
	"context"
	"io"
	"path/filepath"
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
	"parkhub/internal/service"
)

type wakeCounter struct{ n int }

func (w *wakeCounter) Notify() { w.n++ }

func setup(t *testing.T) (*repository.BookingRepo, *repository.OutboxRepo) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "booking.db"), database.BookingSchema, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return repository.NewBookingRepo(db), repository.NewOutboxRepo(db)
}

func drain(t *testing.T, outbox *repository.OutboxRepo) []models.OutboxMessage {
	t.Helper()
	ctx := context.Background()
	msgs, err := outbox.FetchDue(ctx, time.Now().Add(time.Hour), 100)
	require.NoError(t, err)
	for _, m := range msgs {
		require.NoError(t, outbox.MarkSent(ctx, m.ID))
	}
	return msgs
}

func TestSweeper_CheckNow(t *testing.T) {
	repo, outbox := setup(t)
	ctx := context.Background()

	stuck := &models.Booking{UserID: 1, LotID: "L1", RequestedSpotID: "A1"}
	require.NoError(t, repo.CreateBooking(ctx, stuck, service.CreatedEvent))

	confirmed := &models.Booking{UserID: 2, LotID: "L1"}
	require.NoError(t, repo.CreateBooking(ctx, confirmed, service.CreatedEvent))
	_, err := repo.ConfirmBooking(ctx, confirmed.ID, "A2")
	require.NoError(t, err)

	lost := &models.Booking{UserID: 3, LotID: "L1", RequestedSpotID: "A3"}
	require.NoError(t, repo.CreateBooking(ctx, lost, service.CreatedEvent))
	_, err = repo.ConfirmBooking(ctx, lost.ID, "A3")
	require.NoError(t, err)
	_, err = repo.CancelBooking(ctx, lost.ID, service.CancelledEvent)
	require.NoError(t, err)

	acked := &models.Booking{UserID: 4, LotID: "L1"}
	require.NoError(t, repo.CreateBooking(ctx, acked, service.CreatedEvent))
	_, err = repo.CancelBooking(ctx, acked.ID, service.CancelledEvent)
	require.NoError(t, err)
	_, err = repo.MarkReleased(ctx, acked.ID, time.Now())
	require.NoError(t, err)

	drain(t, outbox)

	wake := &wakeCounter{}
	logger := zerolog.New(io.Discard)
	sweeper := NewSweeper(repo, wake, Config{PendingAfter: 2 * time.Minute}, &logger)

	t.Run("recent bookings are left alone", func(t *testing.T) {
		res, err := sweeper.CheckNow(ctx)
		require.NoError(t, err)
		assert.Equal(t, Result{}, res)
		assert.Zero(t, wake.n)
	})

	t.Run("stale bookings are re-emitted", func(t *testing.T) {
		sweeper.now = func() time.Time { return time.Now().Add(3 * time.Minute) }
		res, err := sweeper.CheckNow(ctx)
		require.NoError(t, err)
		assert.Equal(t, Result{CreatedRequeued: 1, CancelledRequeued: 1}, res)
		assert.Equal(t, 1, wake.n)

		msgs := drain(t, outbox)
		require.Len(t, msgs, 2)

		created, err := events.Decode(msgs[0].Topic, msgs[0].Payload)
		require.NoError(t, err)
		assert.Equal(t, events.TopicBookingCreated, created.EventType)
		assert.Equal(t, stuck.ID, created.Payload.BookingID)
		assert.Equal(t, "A1", created.Payload.SpotID)

		cancelled, err := events.Decode(msgs[1].Topic, msgs[1].Payload)
		require.NoError(t, err)
		assert.Equal(t, events.TopicBookingCancelled, cancelled.EventType)
		assert.Equal(t, lost.ID, cancelled.Payload.BookingID)
		assert.Equal(t, "A3", cancelled.Payload.SpotID)
	})

	t.Run("old pending bookings are abandoned", func(t *testing.T) {
		sweeper.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
		res, err := sweeper.CheckNow(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Abandoned)
		assert.Zero(t, res.CreatedRequeued)
		assert.Equal(t, 1, res.CancelledRequeued)
	})
}

func TestSweeper_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))

	repo, _ := setup(t)
	logger := zerolog.New(io.Discard)
	sweeper := NewSweeper(repo, nil, Config{Interval: 10 * time.Millisecond}, &logger)

	done := make(chan struct{})
	go func() {
		sweeper.Start(context.Background())
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	sweeper.Stop()
	sweeper.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
