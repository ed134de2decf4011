package inventory

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkhub/internal/config"
	"parkhub/internal/database"
	"parkhub/internal/events"
	"parkhub/internal/models"
	"parkhub/internal/repository"
)

type fixture struct {
	spots  *repository.SpotRepo
	outbox *repository.OutboxRepo
	svc    *Service
	bus    *events.MemoryBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "parking.db"), database.InventorySchema, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	spots := repository.NewSpotRepo(db)
	svc := NewService(spots, &logger)
	_, err = svc.ProvisionLot(context.Background(), "L1", []string{"A1", "A2", "A3"})
	require.NoError(t, err)

	bus := events.NewMemoryBus()
	NewReactor(spots, nil, &logger).Subscribe(bus)
	return &fixture{spots: spots, outbox: repository.NewOutboxRepo(db), svc: svc, bus: bus}
}

func (f *fixture) publish(t *testing.T, topic string, p events.BookingPayload) {
	t.Helper()
	require.NoError(t, f.bus.Publish(context.Background(), events.NewEnvelope(topic, "booking-service", p)))
}

func (f *fixture) emitted(t *testing.T) []events.Envelope {
	t.Helper()
	msgs, err := f.outbox.FetchDue(context.Background(), time.Now().Add(time.Hour), 100)
	require.NoError(t, err)
	out := make([]events.Envelope, 0, len(msgs))
	for _, m := range msgs {
		env, err := events.Decode(m.Topic, m.Payload)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func (f *fixture) spot(t *testing.T, number string) models.Spot {
	t.Helper()
	lot, err := f.svc.GetLot(context.Background(), "L1")
	require.NoError(t, err)
	for _, s := range lot.Spots {
		if s.SpotNumber == number {
			return s
		}
	}
	t.Fatalf("spot %s missing", number)
	return models.Spot{}
}

func TestReactor_CreatedReservesAndReports(t *testing.T) {
	f := newFixture(t)

	f.publish(t, events.TopicBookingCreated, events.BookingPayload{BookingID: 1, UserID: 7, LotID: "L1", SpotID: "A2"})

	spot := f.spot(t, "A2")
	assert.Equal(t, models.SpotReserved, spot.Status)
	require.NotNil(t, spot.BookingID)
	assert.Equal(t, int64(1), *spot.BookingID)

	out := f.emitted(t)
	require.Len(t, out, 1)
	assert.Equal(t, events.TopicSpotReserved, out[0].EventType)
	assert.Equal(t, Producer, out[0].Producer)
	assert.Equal(t, int64(1), out[0].Payload.BookingID)
	assert.Equal(t, "A2", out[0].Payload.SpotID)
	assert.Equal(t, models.ReservationReserved, out[0].Payload.Status)
}

func TestReactor_ReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	created := events.NewEnvelope(events.TopicBookingCreated, "booking-service",
		events.BookingPayload{BookingID: 1, LotID: "L1"})

	for i := 0; i < 3; i++ {
		require.NoError(t, f.bus.Publish(context.Background(), created))
	}

	lots, err := f.svc.ListLots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, lots[0].ReservedSpots)

	// every replay restates the same reservation
	out := f.emitted(t)
	require.Len(t, out, 3)
	for _, env := range out {
		assert.Equal(t, events.TopicSpotReserved, env.EventType)
		assert.Equal(t, "A1", env.Payload.SpotID)
	}
}

func TestReactor_ConflictingRequestFails(t *testing.T) {
	f := newFixture(t)

	f.publish(t, events.TopicBookingCreated, events.BookingPayload{BookingID: 1, LotID: "L1", SpotID: "A1"})
	f.publish(t, events.TopicBookingCreated, events.BookingPayload{BookingID: 2, LotID: "L1", SpotID: "A1"})

	out := f.emitted(t)
	require.Len(t, out, 2)
	assert.Equal(t, events.TopicSpotReservationFailed, out[1].EventType)
	assert.Equal(t, models.ReasonSpotTaken, out[1].Payload.Reason)
	assert.Equal(t, int64(1), *f.spot(t, "A1").BookingID)
}

func TestReactor_CancelReleases(t *testing.T) {
	f := newFixture(t)

	f.publish(t, events.TopicBookingCreated, events.BookingPayload{BookingID: 1, LotID: "L1", SpotID: "A3"})
	f.publish(t, events.TopicBookingCancelled, events.BookingPayload{BookingID: 1, LotID: "L1", SpotID: "A3"})
	f.publish(t, events.TopicBookingCancelled, events.BookingPayload{BookingID: 1, LotID: "L1", SpotID: "A3"})

	assert.Equal(t, models.SpotAvailable, f.spot(t, "A3").Status)
	out := f.emitted(t)
	require.Len(t, out, 3)
	assert.Equal(t, events.TopicSpotReleased, out[1].EventType)
	assert.Equal(t, "A3", out[1].Payload.SpotID)
	assert.Equal(t, events.TopicSpotReleased, out[2].EventType)
	assert.Equal(t, "A3", out[2].Payload.SpotID)
	assert.Equal(t, models.SpotAvailable, f.spot(t, "A3").Status)
}

func TestReactor_CancelBeforeCreate(t *testing.T) {
	f := newFixture(t)

	f.publish(t, events.TopicBookingCancelled, events.BookingPayload{BookingID: 5, LotID: "L1", SpotID: "A1"})
	f.publish(t, events.TopicBookingCreated, events.BookingPayload{BookingID: 5, LotID: "L1", SpotID: "A1"})

	assert.Equal(t, models.SpotAvailable, f.spot(t, "A1").Status)
	out := f.emitted(t)
	require.Len(t, out, 2)
	assert.Equal(t, events.TopicSpotReleased, out[0].EventType)
	assert.Equal(t, events.TopicSpotReleased, out[1].EventType)
}

func TestReactor_LegacyPayload(t *testing.T) {
	f := newFixture(t)

	raw := []byte(`{"eventName":"booking.created","payload":{"booking_id":"9","lot_id":"L1","spot_id":"A1"}}`)
	env, err := events.Decode(events.TopicBookingCreated, raw)
	require.NoError(t, err)
	require.NoError(t, f.bus.Publish(context.Background(), env))

	assert.Equal(t, int64(9), *f.spot(t, "A1").BookingID)
}

func TestReactor_ConcurrentAutoAssign(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for id := int64(1); id <= 5; id++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			env := events.NewEnvelope(events.TopicBookingCreated, "booking-service",
				events.BookingPayload{BookingID: id, LotID: "L1"})
			assert.NoError(t, f.bus.Publish(context.Background(), env))
		}(id)
	}
	wg.Wait()

	holders := map[int64]string{}
	for _, s := range f.emitted(t) {
		if s.EventType == events.TopicSpotReserved {
			holders[s.Payload.BookingID] = s.Payload.SpotID
		}
	}
	assert.Len(t, holders, 3, "three spots for five bookings")

	seen := map[string]bool{}
	for _, spot := range holders {
		assert.False(t, seen[spot], "spot %s assigned twice", spot)
		seen[spot] = true
	}
}

func TestService_Administration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ProvisionLot(ctx, "L1", []string{"Z1"})
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = f.svc.ProvisionLot(ctx, " ", []string{"Z1"})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.svc.ProvisionLot(ctx, "L2", []string{" ", ""})
	assert.ErrorIs(t, err, models.ErrValidation)

	added, err := f.svc.AddSpots(ctx, "L1", []string{"A3", "A4", "A4"})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	_, err = f.svc.AddSpots(ctx, "L9", []string{"X"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.svc.GetLot(ctx, "L9")
	assert.ErrorIs(t, err, models.ErrNotFound)

	f.publish(t, events.TopicBookingCreated, events.BookingPayload{BookingID: 1, LotID: "L1"})
	assert.ErrorIs(t, f.svc.DeleteLot(ctx, "L1"), models.ErrConflict)
}

func TestService_ApplyLotsFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cfg := &config.LotsConfig{Lots: []config.LotDefinition{
		{ID: "L1", Spots: []string{"A1", "A5"}},
		{ID: "P2", Name: "Garage", Spots: []string{"1", "2", "10"}},
		{ID: "empty"},
	}}

	require.NoError(t, f.svc.ApplyLotsFile(ctx, cfg))
	require.NoError(t, f.svc.ApplyLotsFile(ctx, cfg))

	lots, err := f.svc.ListLots(ctx)
	require.NoError(t, err)
	require.Len(t, lots, 2)
	assert.Equal(t, 4, lots[0].TotalSpots)
	assert.Equal(t, models.LotSummary{ID: "P2", TotalSpots: 3, AvailableSpots: 3}, lots[1])

	lot, err := f.svc.GetLot(ctx, "P2")
	require.NoError(t, err)
	assert.Equal(t, "10", lot.Spots[2].SpotNumber)
}
