// Package availabilitytest provides in-memory implementations of the availability
// repositories for use in tests.
package availabilitytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicbook/scheduling-core/internal/availability"
	"github.com/clinicbook/scheduling-core/internal/directory"
)

type Repository struct {
	mu        sync.Mutex
	templates map[uuid.UUID]availability.Template
	history   []availability.StatusRecord
	nextID    int64

	// Err, when set, is returned by every call.
	Err error
}

var (
	_ availability.TemplateRepository = (*Repository)(nil)
	_ availability.StatusRepository   = (*Repository)(nil)
)

func NewRepository() *Repository {
	return &Repository{templates: make(map[uuid.UUID]availability.Template)}
}

func (r *Repository) UpsertTemplate(_ context.Context, doctorID uuid.UUID, day availability.Weekday, start, end availability.TimeOfDay) (*availability.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}

	now := time.Now().UTC()
	for id, t := range r.templates {
		if t.DoctorID == doctorID && t.Day == day && t.Start == start && t.End == end {
			t.Enabled = true
			t.UpdatedAt = now
			r.templates[id] = t
			return &t, nil
		}
	}

	t := availability.Template{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		Day:       day,
		Start:     start,
		End:       end,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.templates[t.ID] = t
	return &t, nil
}

func (r *Repository) ListTemplates(_ context.Context, doctorID uuid.UUID) ([]availability.Template, error) {
	return r.filterTemplates(doctorID, func(availability.Template) bool { return true })
}

func (r *Repository) ListEnabledTemplates(_ context.Context, doctorID uuid.UUID, day availability.Weekday) ([]availability.Template, error) {
	return r.filterTemplates(doctorID, func(t availability.Template) bool {
		return t.Enabled && t.Day == day
	})
}

func (r *Repository) filterTemplates(doctorID uuid.UUID, keep func(availability.Template) bool) ([]availability.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}

	var out []availability.Template
	for _, t := range r.templates {
		if t.DoctorID == doctorID && keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End < out[j].End
	})
	return out, nil
}

func (r *Repository) SetTemplateEnabled(_ context.Context, doctorID, id uuid.UUID, enabled bool) (*availability.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}

	t, ok := r.templates[id]
	if !ok || t.DoctorID != doctorID {
		return nil, availability.ErrTemplateNotFound
	}
	if t.Enabled != enabled {
		t.Enabled = enabled
		t.UpdatedAt = time.Now().UTC()
		r.templates[id] = t
	}
	return &t, nil
}

func (r *Repository) DeleteTemplate(_ context.Context, doctorID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}

	t, ok := r.templates[id]
	if !ok || t.DoctorID != doctorID {
		return availability.ErrTemplateNotFound
	}
	delete(r.templates, id)
	return nil
}

func (r *Repository) AppendStatus(_ context.Context, rec availability.StatusRecord) (*availability.StatusRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	return r.appendLocked(rec), nil
}

func (r *Repository) AppendStatusIfLatest(_ context.Context, rec availability.StatusRecord, latestID int64) (*availability.StatusRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}

	latest := r.latestLocked(rec.DoctorID)
	if latest == nil || latest.ID != latestID {
		return nil, availability.ErrStatusSuperseded
	}
	return r.appendLocked(rec), nil
}

func (r *Repository) appendLocked(rec availability.StatusRecord) *availability.StatusRecord {
	r.nextID++
	rec.ID = r.nextID
	r.history = append(r.history, rec)
	return &rec
}

func (r *Repository) latestLocked(doctorID uuid.UUID) *availability.StatusRecord {
	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].DoctorID == doctorID {
			rec := r.history[i]
			return &rec
		}
	}
	return nil
}

func (r *Repository) LatestStatus(_ context.Context, doctorID uuid.UUID) (*availability.StatusRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}

	if rec := r.latestLocked(doctorID); rec != nil {
		return rec, nil
	}
	return nil, availability.ErrStatusNotFound
}

func (r *Repository) StatusPage(_ context.Context, doctorID uuid.UUID, beforeID int64, limit int) ([]availability.StatusRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}

	var out []availability.StatusRecord
	for i := len(r.history) - 1; i >= 0 && len(out) < limit; i-- {
		rec := r.history[i]
		if rec.DoctorID != doctorID {
			continue
		}
		if beforeID > 0 && rec.ID >= beforeID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *Repository) ExpiredStatuses(_ context.Context, now time.Time) ([]availability.StatusRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}

	seen := make(map[uuid.UUID]bool)
	var out []availability.StatusRecord
	for i := len(r.history) - 1; i >= 0; i-- {
		rec := r.history[i]
		if seen[rec.DoctorID] {
			continue
		}
		seen[rec.DoctorID] = true
		if rec.Status != availability.StatusAvailable && rec.EffectiveUntil != nil && rec.EffectiveUntil.Before(now) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Doctors is a fixed set of known doctor ids.
type Doctors map[uuid.UUID]bool

func (d Doctors) CheckDoctor(_ context.Context, id uuid.UUID) error {
	if !d[id] {
		return directory.ErrUnknownDoctor
	}
	return nil
}

// NoBookings reports no booked times for any doctor.
type NoBookings struct{}

func (NoBookings) BookedTimes(context.Context, uuid.UUID, time.Time) ([]availability.TimeOfDay, error) {
	return nil, nil
}

// FixedClock returns a clock pinned to now in loc.
func FixedClock(now time.Time, loc *time.Location) availability.Clock {
	return availability.Clock{Location: loc, Now: func() time.Time { return now }}
}
