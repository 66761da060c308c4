package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicbook/scheduling-core/internal/appointment"
	"github.com/clinicbook/scheduling-core/internal/availability"
)

// Requests

type UpsertTemplateRequest struct {
	DayOfWeek string `json:"day_of_week" validate:"required,weekday"`
	StartTime string `json:"start_time" validate:"required,hhmm"`
	EndTime   string `json:"end_time" validate:"required,hhmm"`
}

type ToggleTemplateRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type SetStatusRequest struct {
	Status         string     `json:"status" validate:"required,oneof=available busy on_leave"`
	Reason         *string    `json:"reason" validate:"omitempty,max=500"`
	EffectiveUntil *time.Time `json:"effective_until"`
}

type BookAppointmentRequest struct {
	DoctorID string `json:"doctor_id" validate:"required,uuid"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	Time     string `json:"time" validate:"required,hhmm"`
	Reason   string `json:"reason" validate:"max=500"`
	Symptoms string `json:"symptoms" validate:"max=2000"`
}

type UpdateAppointmentRequest struct {
	Status string `json:"status" validate:"required,oneof=completed cancelled"`
}

// Responses

type TemplateResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	DayOfWeek string    `json:"day_of_week"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type StatusResponse struct {
	ID             int64      `json:"id,omitempty"`
	DoctorID       uuid.UUID  `json:"doctor_id"`
	Status         string     `json:"status"`
	Reason         *string    `json:"reason,omitempty"`
	EffectiveUntil *time.Time `json:"effective_until,omitempty"`
	ChangedAt      *time.Time `json:"changed_at,omitempty"`
}

type SlotResponse struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Reason    string    `json:"reason"`
	Symptoms  string    `json:"symptoms"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  []ValidationError `json:"fields,omitempty"`
}

func toTemplateResponse(t availability.Template) TemplateResponse {
	return TemplateResponse{
		ID:        t.ID,
		DoctorID:  t.DoctorID,
		DayOfWeek: t.Day.String(),
		StartTime: t.Start.String(),
		EndTime:   t.End.String(),
		Enabled:   t.Enabled,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func toStatusResponse(s availability.StatusRecord) StatusResponse {
	resp := StatusResponse{
		ID:             s.ID,
		DoctorID:       s.DoctorID,
		Status:         string(s.Status),
		Reason:         s.Reason,
		EffectiveUntil: s.EffectiveUntil,
	}
	if !s.ChangedAt.IsZero() {
		at := s.ChangedAt
		resp.ChangedAt = &at
	}
	return resp
}

func toSlotResponses(slots []availability.ResolvedSlot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotResponse{
			Date:      s.Date.Format(availability.DateLayout),
			Time:      s.Time.String(),
			Available: s.Available,
		})
	}
	return out
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		Date:      a.Date.Format(availability.DateLayout),
		Time:      a.Time.String(),
		Reason:    a.Reason,
		Symptoms:  a.Symptoms,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func toAppointmentResponses(appts []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointmentResponse(a))
	}
	return out
}
