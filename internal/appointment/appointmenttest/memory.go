// Package appointmenttest provides an in-memory appointment repository for tests. It
// enforces the one-scheduled-appointment-per-slot rule under a single mutex, the way the
// partial unique index does in Postgres.
package appointmenttest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicbook/scheduling-core/internal/appointment"
	"github.com/clinicbook/scheduling-core/internal/availability"
	"github.com/clinicbook/scheduling-core/internal/directory"
)

type Repository struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]appointment.Appointment
	active map[appointment.SlotKey]uuid.UUID
	events []appointment.EventLog

	// Err, when set, is returned by every call.
	Err error
	// EventErr, when set, is returned by InsertEvent only.
	EventErr error
}

var _ appointment.Repository = (*Repository)(nil)

func NewRepository() *Repository {
	return &Repository{
		byID:   make(map[uuid.UUID]appointment.Appointment),
		active: make(map[appointment.SlotKey]uuid.UUID),
	}
}

func (r *Repository) InsertScheduled(_ context.Context, a appointment.Appointment) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}

	key := a.Slot()
	if _, taken := r.active[key]; taken {
		return nil, appointment.ErrConflict
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.Status = appointment.StatusScheduled
	a.CreatedAt = now
	a.UpdatedAt = now

	r.byID[a.ID] = a
	r.active[key] = a.ID
	return &a, nil
}

func (r *Repository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}

	a, ok := r.byID[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *Repository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to appointment.Status) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}

	a, ok := r.byID[id]
	if !ok || a.Status != from {
		return nil, appointment.ErrAppointmentNotFound
	}

	a.Status = to
	a.UpdatedAt = time.Now().UTC()
	r.byID[id] = a

	if to != appointment.StatusScheduled {
		delete(r.active, a.Slot())
	}
	return &a, nil
}

func (r *Repository) ListByDoctor(_ context.Context, doctorID uuid.UUID, f appointment.Filter) ([]appointment.Appointment, error) {
	return r.list(func(a appointment.Appointment) bool {
		if a.DoctorID != doctorID {
			return false
		}
		if f.Status != nil && a.Status != *f.Status {
			return false
		}
		if f.From != nil && a.Date.Before(availability.DateOf(*f.From)) {
			return false
		}
		if f.To != nil && a.Date.After(availability.DateOf(*f.To)) {
			return false
		}
		return true
	})
}

func (r *Repository) ListByPatient(_ context.Context, patientID uuid.UUID) ([]appointment.Appointment, error) {
	return r.list(func(a appointment.Appointment) bool { return a.PatientID == patientID })
}

func (r *Repository) list(keep func(appointment.Appointment) bool) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}

	var out []appointment.Appointment
	for _, a := range r.byID {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Repository) ScheduledTimes(_ context.Context, doctorID uuid.UUID, date time.Time) ([]availability.TimeOfDay, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}

	var out []availability.TimeOfDay
	for key := range r.active {
		if key.DoctorID == doctorID && key.Date.Equal(date) {
			out = append(out, key.Time)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *Repository) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if r.EventErr != nil {
		return r.EventErr
	}

	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the logged events in insertion order.
func (r *Repository) Events() []appointment.EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]appointment.EventLog(nil), r.events...)
}

// Publisher records published events.
type Publisher struct {
	mu     sync.Mutex
	events []appointment.Event
}

func (p *Publisher) Publish(ev appointment.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *Publisher) Events() []appointment.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]appointment.Event(nil), p.events...)
}

// Patients is a fixed set of known patient ids.
type Patients map[uuid.UUID]bool

func (p Patients) CheckPatient(_ context.Context, id uuid.UUID) error {
	if !p[id] {
		return directory.ErrPatientNotFound
	}
	return nil
}
