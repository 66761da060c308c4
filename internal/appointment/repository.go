package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clinicbook/scheduling-core/internal/availability"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrSlotUnavailable     = errors.New("requested time is not available")
	ErrConflict            = errors.New("slot already booked")
	ErrNotParticipant      = errors.New("actor is not allowed to change this appointment")
	ErrInvalidStatus       = errors.New("invalid appointment status")
	ErrLockUnavailable     = errors.New("slot lock backend unavailable")
)

// Repository contains all DB interactions needed by the ledger.
type Repository interface {
	// InsertScheduled stores a new scheduled appointment. It returns ErrConflict when
	// another scheduled appointment already holds the same doctor, date and time.
	InsertScheduled(ctx context.Context, a Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateAppointmentStatus moves id from one status to another in a single step.
	// It returns ErrAppointmentNotFound when no appointment with that id is in from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	ListByDoctor(ctx context.Context, doctorID uuid.UUID, f Filter) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)

	// ScheduledTimes returns the start times held by scheduled appointments on date.
	ScheduledTimes(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]availability.TimeOfDay, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
