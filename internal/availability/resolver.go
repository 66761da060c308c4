package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/clinicbook/scheduling-core/internal/metrics"
)

type TemplateSource interface {
	Enabled(ctx context.Context, doctorID uuid.UUID, day Weekday) ([]Template, error)
}

type StatusSource interface {
	Current(ctx context.Context, doctorID uuid.UUID) (StatusRecord, error)
}

// BookedTimes reports the start times already held by scheduled appointments.
type BookedTimes interface {
	BookedTimes(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]TimeOfDay, error)
}

// Resolver turns weekly templates, the doctor's current status and existing bookings
// into the concrete start times a patient could book right now.
type Resolver struct {
	templates TemplateSource
	statuses  StatusSource
	booked    BookedTimes
	doctors   DoctorChecker
	clock     Clock
	metrics   *metrics.Metrics
}

func NewResolver(templates TemplateSource, statuses StatusSource, booked BookedTimes, doctors DoctorChecker, clock Clock, m *metrics.Metrics) *Resolver {
	return &Resolver{
		templates: templates,
		statuses:  statuses,
		booked:    booked,
		doctors:   doctors,
		clock:     clock,
		metrics:   m,
	}
}

// Resolve returns the bookable slots for doctorID on date, ascending by time.
// Each enabled template contributes one start time; an empty result is not an error.
func (r *Resolver) Resolve(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]ResolvedSlot, error) {
	start := time.Now()
	defer func() { r.metrics.ObserveResolve(time.Since(start)) }()

	if err := r.doctors.CheckDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	date = DateOf(date)
	now := r.clock.Current()
	today := DateOf(now)
	slots := []ResolvedSlot{}

	if date.Before(today) {
		return slots, nil
	}

	status, err := r.statuses.Current(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	if status.Status == StatusOnLeave {
		return slots, nil
	}
	blocked := r.blockedBy(status, date, today)

	day := WeekdayOf(date)
	tpls, err := r.templates.Enabled(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}
	if len(tpls) == 0 {
		return slots, nil
	}

	taken, err := r.booked.BookedTimes(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load booked times: %w", err)
	}
	seen := make(map[TimeOfDay]bool, len(tpls)+len(taken))
	for _, t := range taken {
		seen[t] = true
	}

	for _, tpl := range tpls {
		if !tpl.Enabled || tpl.Day != day || seen[tpl.Start] {
			continue
		}
		at := r.clock.Instant(date, tpl.Start)
		if !at.After(now) || blocked(at) {
			continue
		}
		seen[tpl.Start] = true
		slots = append(slots, ResolvedSlot{Date: date, Time: tpl.Start, Available: true})
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Time < slots[j].Time })
	return slots, nil
}

// blockedBy reports which slot instants a busy status removes on date.
// With an effective-until bound, everything from the day the status was set up to
// that instant is blocked. Without one, only today is blocked.
func (r *Resolver) blockedBy(status StatusRecord, date, today time.Time) func(time.Time) bool {
	if status.Status != StatusBusy {
		return func(time.Time) bool { return false }
	}

	if status.EffectiveUntil == nil {
		blockToday := date.Equal(today)
		return func(time.Time) bool { return blockToday }
	}

	from := today
	if !status.ChangedAt.IsZero() {
		from = DateOf(status.ChangedAt.In(r.clock.loc()))
	}
	until := *status.EffectiveUntil
	return func(at time.Time) bool {
		return !date.Before(from) && at.Before(until)
	}
}
