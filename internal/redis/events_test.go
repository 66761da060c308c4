package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicbook/scheduling-core/internal/appointment"
	"github.com/clinicbook/scheduling-core/internal/availability"
	"github.com/clinicbook/scheduling-core/internal/metrics"
)

type fakeChannel struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
	err      error
}

func (f *fakeChannel) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, message.([]byte))
	return redis.NewIntResult(1, nil)
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func testEvent() appointment.Event {
	return appointment.Event{
		Type:          appointment.EventAppointmentBooked,
		AppointmentID: uuid.New(),
		DoctorID:      uuid.New(),
		PatientID:     uuid.New(),
		Status:        appointment.StatusScheduled,
		At:            time.Date(2026, 2, 5, 9, 0, 0, 0, time.UTC),
	}
}

func TestDispatcherPublishesQueuedEvents(t *testing.T) {
	fake := &fakeChannel{}
	m := metrics.New(prometheus.NewRegistry())
	d := NewEventDispatcher(fake, "scheduling.events", 8, m, zerolog.Nop())

	ev := testEvent()
	d.Publish(ev)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return fake.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, "scheduling.events", fake.channels[0])
	var got appointment.Event
	require.NoError(t, json.Unmarshal(fake.payloads[0], &got))
	assert.Equal(t, ev, got)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished))
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	fake := &fakeChannel{}
	m := metrics.New(prometheus.NewRegistry())
	d := NewEventDispatcher(fake, "events", 2, m, zerolog.Nop())

	for i := 0; i < 5; i++ {
		d.Publish(testEvent())
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsDropped))

	// Cancelled before start: Run only flushes the buffer.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)
	assert.Equal(t, 2, fake.count())
}

func TestDispatcherSurvivesPublishErrors(t *testing.T) {
	fake := &fakeChannel{err: errors.New("redis down")}
	m := metrics.New(prometheus.NewRegistry())
	d := NewEventDispatcher(fake, "events", 4, m, zerolog.Nop())

	d.Publish(testEvent())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NotPanics(t, func() { d.Run(ctx) })

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.EventsPublished))
}

func TestSlotLockKey(t *testing.T) {
	doctor := uuid.MustParse("6f1c2a8e-3b5d-4c7e-9f10-2a3b4c5d6e7f")
	key := appointment.SlotKey{
		DoctorID: doctor,
		Date:     time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC),
		Time:     availability.NewTimeOfDay(9, 30),
	}

	assert.Equal(t, "lock:slot:6f1c2a8e-3b5d-4c7e-9f10-2a3b4c5d6e7f:2026-02-05:09:30", slotLockKey(key))
	assert.ErrorIs(t, ErrLockNotAcquired, appointment.ErrConflict)
}
