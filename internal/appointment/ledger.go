package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicbook/scheduling-core/internal/availability"
	"github.com/clinicbook/scheduling-core/internal/metrics"
)

// Publisher hands events to the notification side. Publish must not block.
type Publisher interface {
	Publish(ev Event)
}

// Ledger is the authoritative record of appointments. The persistence layer enforces
// that one (doctor, date, time) holds at most one scheduled appointment.
type Ledger struct {
	repo      Repository
	doctors   availability.DoctorChecker
	publisher Publisher
	clock     availability.Clock
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

func NewLedger(repo Repository, doctors availability.DoctorChecker, publisher Publisher, clock availability.Clock, m *metrics.Metrics, log zerolog.Logger) *Ledger {
	return &Ledger{
		repo:      repo,
		doctors:   doctors,
		publisher: publisher,
		clock:     clock,
		metrics:   m,
		log:       log,
	}
}

// TryReserve creates a scheduled appointment. Of any number of concurrent calls for the
// same doctor, date and time exactly one succeeds; the rest get ErrConflict.
func (l *Ledger) TryReserve(ctx context.Context, req ReserveRequest) (*Appointment, error) {
	if !req.Time.ValidStart() {
		return nil, availability.ErrInvalidTimeOfDay
	}
	if err := l.doctors.CheckDoctor(ctx, req.DoctorID); err != nil {
		return nil, err
	}

	appt, err := l.repo.InsertScheduled(ctx, Appointment{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		Date:      availability.DateOf(req.Date),
		Time:      req.Time,
		Reason:    req.Reason,
		Symptoms:  req.Symptoms,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	l.emit(ctx, EventAppointmentBooked, appt)
	return appt, nil
}

// Cancel moves a scheduled appointment to cancelled. The actor must be its patient or doctor.
func (l *Ledger) Cancel(ctx context.Context, id, actorID uuid.UUID) (*Appointment, error) {
	return l.transition(ctx, id, StatusCancelled, func(a *Appointment) error {
		if !a.HasParticipant(actorID) {
			return ErrNotParticipant
		}
		return nil
	})
}

// Complete moves a scheduled appointment to completed. Only the appointment's doctor may
// do so, and only once its start time has passed.
func (l *Ledger) Complete(ctx context.Context, id, actorID uuid.UUID) (*Appointment, error) {
	return l.transition(ctx, id, StatusCompleted, func(a *Appointment) error {
		if actorID != a.DoctorID {
			return ErrNotParticipant
		}
		if a.Status == StatusScheduled && l.clock.Instant(a.Date, a.Time).After(l.clock.Current()) {
			return fmt.Errorf("%w: appointment has not started yet", ErrInvalidTransition)
		}
		return nil
	})
}

func (l *Ledger) transition(ctx context.Context, id uuid.UUID, to Status, allowed func(*Appointment) error) (*Appointment, error) {
	appt, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := allowed(appt); err != nil {
		return nil, err
	}
	if appt.Status != StatusScheduled {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, to)
	}

	updated, err := l.repo.UpdateAppointmentStatus(ctx, id, StatusScheduled, to)
	if err != nil {
		// Lost a race with another transition.
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: %s is no longer scheduled", ErrInvalidTransition, id)
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	l.metrics.ObserveTransition(string(to))
	switch to {
	case StatusCancelled:
		l.emit(ctx, EventAppointmentCancelled, updated)
	case StatusCompleted:
		l.emit(ctx, EventAppointmentCompleted, updated)
	}

	return updated, nil
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := l.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	return appt, nil
}

func (l *Ledger) ListForDoctor(ctx context.Context, doctorID uuid.UUID, f Filter) ([]Appointment, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *f.Status)
	}
	if err := l.doctors.CheckDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	appts, err := l.repo.ListByDoctor(ctx, doctorID, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appts, nil
}

func (l *Ledger) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	appts, err := l.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appts, nil
}

// BookedTimes returns the start times on date held by scheduled appointments.
func (l *Ledger) BookedTimes(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]availability.TimeOfDay, error) {
	times, err := l.repo.ScheduledTimes(ctx, doctorID, availability.DateOf(date))
	if err != nil {
		return nil, fmt.Errorf("list scheduled times: %w", err)
	}
	return times, nil
}

// emit records the change in the event log and hands it to the publisher. Neither may fail
// the operation that triggered it.
func (l *Ledger) emit(ctx context.Context, eventType string, appt *Appointment) {
	ev := Event{
		Type:          eventType,
		AppointmentID: appt.ID,
		DoctorID:      appt.DoctorID,
		PatientID:     appt.PatientID,
		Status:        appt.Status,
		At:            l.clock.Current(),
	}

	l.log.Info().
		Str("event", eventType).
		Str("appointment_id", appt.ID.String()).
		Str("doctor_id", appt.DoctorID.String()).
		Str("slot", appt.Slot().String()).
		Msg("appointment changed")

	data, err := json.Marshal(ev)
	if err != nil {
		l.log.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appt.ID
	if err := l.repo.InsertEvent(ctx, EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     ev.At,
	}); err != nil {
		l.log.Warn().Err(err).
			Str("event", eventType).
			Str("appointment_id", appt.ID.String()).
			Msg("failed to insert event log")
	}

	if l.publisher != nil {
		l.publisher.Publish(ev)
	}
}
