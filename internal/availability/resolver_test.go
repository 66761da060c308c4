package availability_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicbook/scheduling-core/internal/availability"
	"github.com/clinicbook/scheduling-core/internal/availability/availabilitytest"
	"github.com/clinicbook/scheduling-core/internal/directory"
	"github.com/clinicbook/scheduling-core/internal/metrics"
)

// 2026-02-02 is a Monday.
var (
	monday     = time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	nextMonday = monday.AddDate(0, 0, 7)
)

type bookedTimes map[string][]availability.TimeOfDay

func (b bookedTimes) BookedTimes(_ context.Context, doctorID uuid.UUID, date time.Time) ([]availability.TimeOfDay, error) {
	return b[doctorID.String()+"|"+date.Format(availability.DateLayout)], nil
}

type resolverFixture struct {
	doctor    uuid.UUID
	templates *availability.TemplateStore
	statuses  *availability.StatusRegister
	resolver  *availability.Resolver
	booked    bookedTimes
}

func newResolverFixture(t *testing.T, now time.Time) *resolverFixture {
	t.Helper()

	doctor := uuid.New()
	repo := availabilitytest.NewRepository()
	doctors := availabilitytest.Doctors{doctor: true}
	clock := availabilitytest.FixedClock(now, time.UTC)
	m := metrics.New(prometheus.NewRegistry())

	f := &resolverFixture{
		doctor:    doctor,
		templates: availability.NewTemplateStore(repo, doctors, zerolog.Nop()),
		statuses:  availability.NewStatusRegister(repo, doctors, clock, m, zerolog.Nop()),
		booked:    bookedTimes{},
	}
	f.resolver = availability.NewResolver(f.templates, f.statuses, f.booked, doctors, clock, m)
	return f
}

func (f *resolverFixture) addTemplate(t *testing.T, day availability.Weekday, start, end string) *availability.Template {
	t.Helper()
	s, err := availability.ParseTimeOfDay(start)
	require.NoError(t, err)
	e, err := availability.ParseTimeOfDay(end)
	require.NoError(t, err)
	tpl, err := f.templates.Upsert(context.Background(), f.doctor, day, s, e)
	require.NoError(t, err)
	return tpl
}

func (f *resolverFixture) times(t *testing.T, date time.Time) []string {
	t.Helper()
	slots, err := f.resolver.Resolve(context.Background(), f.doctor, date)
	require.NoError(t, err)
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		assert.True(t, s.Available)
		assert.Equal(t, date, s.Date)
		out = append(out, s.Time.String())
	}
	return out
}

func TestResolveSingleStartTimePerTemplate(t *testing.T) {
	f := newResolverFixture(t, monday.Add(-24*time.Hour))
	f.addTemplate(t, availability.Monday, "09:00", "17:00")

	assert.Equal(t, []string{"09:00"}, f.times(t, monday))
}

func TestResolveSortsAndDeduplicates(t *testing.T) {
	f := newResolverFixture(t, monday.Add(-24*time.Hour))
	f.addTemplate(t, availability.Monday, "14:00", "15:00")
	f.addTemplate(t, availability.Monday, "09:00", "12:00")
	f.addTemplate(t, availability.Monday, "09:00", "10:00")
	f.addTemplate(t, availability.Tuesday, "08:00", "09:00")

	assert.Equal(t, []string{"09:00", "14:00"}, f.times(t, monday))
}

func TestResolveSkipsDisabledTemplates(t *testing.T) {
	f := newResolverFixture(t, monday.Add(-24*time.Hour))
	tpl := f.addTemplate(t, availability.Monday, "09:00", "10:00")
	f.addTemplate(t, availability.Monday, "11:00", "12:00")

	_, err := f.templates.SetEnabled(context.Background(), f.doctor, tpl.ID, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"11:00"}, f.times(t, monday))
}

func TestResolveCrossesOffBookedTimes(t *testing.T) {
	f := newResolverFixture(t, monday.Add(-24*time.Hour))
	f.addTemplate(t, availability.Monday, "09:00", "10:00")
	f.addTemplate(t, availability.Monday, "10:00", "11:00")
	f.booked[f.doctor.String()+"|"+monday.Format(availability.DateLayout)] = []availability.TimeOfDay{availability.NewTimeOfDay(9, 0)}

	assert.Equal(t, []string{"10:00"}, f.times(t, monday))
	assert.Equal(t, []string{"09:00", "10:00"}, f.times(t, nextMonday))
}

func TestResolveOnLeaveIsEmpty(t *testing.T) {
	f := newResolverFixture(t, monday.Add(-24*time.Hour))
	f.addTemplate(t, availability.Monday, "09:00", "17:00")

	_, err := f.statuses.SetStatus(context.Background(), f.doctor, availability.StatusOnLeave, strPtr("Conference"), nil)
	require.NoError(t, err)

	for _, d := range []time.Time{monday, nextMonday, nextMonday.AddDate(0, 1, 0)} {
		assert.Empty(t, f.times(t, d), d.Format(availability.DateLayout))
	}
}

func TestResolveBusyWithoutUntilBlocksTodayOnly(t *testing.T) {
	f := newResolverFixture(t, monday.Add(7*time.Hour))
	f.addTemplate(t, availability.Monday, "09:00", "17:00")

	assert.Equal(t, []string{"09:00"}, f.times(t, monday))

	_, err := f.statuses.SetStatus(context.Background(), f.doctor, availability.StatusBusy, nil, nil)
	require.NoError(t, err)

	assert.Empty(t, f.times(t, monday))
	assert.Equal(t, []string{"09:00"}, f.times(t, nextMonday))
}

func TestResolveBusyWithUntilBlocksWindow(t *testing.T) {
	f := newResolverFixture(t, monday.Add(7*time.Hour))
	f.addTemplate(t, availability.Monday, "09:00", "10:00")
	f.addTemplate(t, availability.Monday, "15:00", "16:00")

	until := nextMonday.Add(12 * time.Hour)
	_, err := f.statuses.SetStatus(context.Background(), f.doctor, availability.StatusBusy, nil, &until)
	require.NoError(t, err)

	assert.Empty(t, f.times(t, monday))
	assert.Equal(t, []string{"15:00"}, f.times(t, nextMonday))
	assert.Equal(t, []string{"09:00", "15:00"}, f.times(t, nextMonday.AddDate(0, 0, 7)))
}

func TestResolveDropsPastDatesAndTimes(t *testing.T) {
	f := newResolverFixture(t, monday.Add(10*time.Hour))
	f.addTemplate(t, availability.Monday, "09:00", "10:00")
	f.addTemplate(t, availability.Monday, "11:00", "12:00")

	assert.Equal(t, []string{"11:00"}, f.times(t, monday))
	assert.Empty(t, f.times(t, monday.AddDate(0, 0, -7)))
}

func TestResolveUnknownDoctor(t *testing.T) {
	f := newResolverFixture(t, monday)

	_, err := f.resolver.Resolve(context.Background(), uuid.New(), monday)
	assert.ErrorIs(t, err, directory.ErrUnknownDoctor)
}
