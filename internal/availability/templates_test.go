package availability_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicbook/scheduling-core/internal/availability"
	"github.com/clinicbook/scheduling-core/internal/availability/availabilitytest"
	"github.com/clinicbook/scheduling-core/internal/directory"
)

func newTemplateStore(doctors ...uuid.UUID) (*availability.TemplateStore, *availabilitytest.Repository) {
	repo := availabilitytest.NewRepository()
	known := availabilitytest.Doctors{}
	for _, id := range doctors {
		known[id] = true
	}
	return availability.NewTemplateStore(repo, known, zerolog.Nop()), repo
}

func TestTemplateUpsertValidation(t *testing.T) {
	doctor := uuid.New()
	store, _ := newTemplateStore(doctor)
	ctx := context.Background()

	nine := availability.NewTimeOfDay(9, 0)
	five := availability.NewTimeOfDay(17, 0)

	tests := []struct {
		name       string
		doctor     uuid.UUID
		day        availability.Weekday
		start, end availability.TimeOfDay
		wantErr    error
	}{
		{name: "start equals end", doctor: doctor, day: availability.Monday, start: nine, end: nine, wantErr: availability.ErrInvalidRange},
		{name: "start after end", doctor: doctor, day: availability.Monday, start: five, end: nine, wantErr: availability.ErrInvalidRange},
		{name: "bad weekday", doctor: doctor, day: 0, start: nine, end: five, wantErr: availability.ErrInvalidWeekday},
		{name: "bad time", doctor: doctor, day: availability.Monday, start: -1, end: five, wantErr: availability.ErrInvalidTimeOfDay},
		{name: "unknown doctor", doctor: uuid.New(), day: availability.Monday, start: nine, end: five, wantErr: directory.ErrUnknownDoctor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Upsert(ctx, tt.doctor, tt.day, tt.start, tt.end)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTemplateUpsertReenablesExisting(t *testing.T) {
	doctor := uuid.New()
	store, _ := newTemplateStore(doctor)
	ctx := context.Background()

	first, err := store.Upsert(ctx, doctor, availability.Monday, availability.NewTimeOfDay(9, 0), availability.NewTimeOfDay(17, 0))
	require.NoError(t, err)

	_, err = store.SetEnabled(ctx, doctor, first.ID, false)
	require.NoError(t, err)

	again, err := store.Upsert(ctx, doctor, availability.Monday, availability.NewTimeOfDay(9, 0), availability.NewTimeOfDay(17, 0))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.Enabled)

	all, err := store.List(ctx, doctor)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestTemplateOverlapsAreKept(t *testing.T) {
	doctor := uuid.New()
	store, _ := newTemplateStore(doctor)
	ctx := context.Background()

	_, err := store.Upsert(ctx, doctor, availability.Tuesday, availability.NewTimeOfDay(9, 0), availability.NewTimeOfDay(12, 0))
	require.NoError(t, err)
	_, err = store.Upsert(ctx, doctor, availability.Tuesday, availability.NewTimeOfDay(9, 0), availability.NewTimeOfDay(10, 0))
	require.NoError(t, err)

	enabled, err := store.Enabled(ctx, doctor, availability.Tuesday)
	require.NoError(t, err)
	assert.Len(t, enabled, 2)
}

func TestTemplateSetEnabledIsIdempotent(t *testing.T) {
	doctor := uuid.New()
	store, _ := newTemplateStore(doctor)
	ctx := context.Background()

	tpl, err := store.Upsert(ctx, doctor, availability.Friday, availability.NewTimeOfDay(14, 0), availability.NewTimeOfDay(15, 0))
	require.NoError(t, err)

	once, err := store.SetEnabled(ctx, doctor, tpl.ID, true)
	require.NoError(t, err)
	twice, err := store.SetEnabled(ctx, doctor, tpl.ID, true)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestTemplateCrossDoctorMutationIsNotFound(t *testing.T) {
	owner, other := uuid.New(), uuid.New()
	store, _ := newTemplateStore(owner, other)
	ctx := context.Background()

	tpl, err := store.Upsert(ctx, owner, availability.Monday, availability.NewTimeOfDay(9, 0), availability.NewTimeOfDay(10, 0))
	require.NoError(t, err)

	_, err = store.SetEnabled(ctx, other, tpl.ID, false)
	assert.ErrorIs(t, err, availability.ErrTemplateNotFound)

	err = store.Remove(ctx, other, tpl.ID)
	assert.ErrorIs(t, err, availability.ErrTemplateNotFound)

	require.NoError(t, store.Remove(ctx, owner, tpl.ID))
	assert.ErrorIs(t, store.Remove(ctx, owner, tpl.ID), availability.ErrTemplateNotFound)
}
