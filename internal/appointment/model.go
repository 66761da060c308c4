package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicbook/scheduling-core/internal/availability"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// Appointment is one booking. Date is a calendar day (midnight UTC) and Time is the
// clinic-local start time on that day.
type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	Time      availability.TimeOfDay
	Reason    string
	Symptoms  string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Appointment) Slot() SlotKey {
	return SlotKey{DoctorID: a.DoctorID, Date: a.Date, Time: a.Time}
}

// HasParticipant reports whether id is the appointment's patient or doctor.
func (a *Appointment) HasParticipant(id uuid.UUID) bool {
	return id == a.PatientID || id == a.DoctorID
}

type ReserveRequest struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Date      time.Time
	Time      availability.TimeOfDay
	Reason    string
	Symptoms  string
}

func (r ReserveRequest) Slot() SlotKey {
	return SlotKey{DoctorID: r.DoctorID, Date: availability.DateOf(r.Date), Time: r.Time}
}

// SlotKey identifies the (doctor, date, time) tuple at most one scheduled appointment may hold.
type SlotKey struct {
	DoctorID uuid.UUID
	Date     time.Time
	Time     availability.TimeOfDay
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.DoctorID, k.Date.Format(availability.DateLayout), k.Time)
}

// Filter narrows ListForDoctor. Zero values mean no restriction; From and To are inclusive dates.
type Filter struct {
	Status *Status
	From   *time.Time
	To     *time.Time
}

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
)

// Event is the notification emitted after an appointment changes.
type Event struct {
	Type          string    `json:"type"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	Status        Status    `json:"status"`
	At            time.Time `json:"at"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
