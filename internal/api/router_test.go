package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicbook/scheduling-core/internal/appointment"
	"github.com/clinicbook/scheduling-core/internal/appointment/appointmenttest"
	"github.com/clinicbook/scheduling-core/internal/availability"
	"github.com/clinicbook/scheduling-core/internal/availability/availabilitytest"
	"github.com/clinicbook/scheduling-core/internal/metrics"
)

type testServer struct {
	handler  http.Handler
	doctor   uuid.UUID
	patient  uuid.UUID
	stranger uuid.UUID
}

// Clock is pinned to Sunday 2026-02-01 08:00 UTC; 2026-02-05 is a Thursday.
func newTestServer(t *testing.T, rps float64) *testServer {
	t.Helper()

	s := &testServer{doctor: uuid.New(), patient: uuid.New(), stranger: uuid.New()}

	clock := availabilitytest.FixedClock(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC), time.UTC)
	doctors := availabilitytest.Doctors{s.doctor: true}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	log := zerolog.Nop()

	availRepo := availabilitytest.NewRepository()
	templates := availability.NewTemplateStore(availRepo, doctors, log)
	statuses := availability.NewStatusRegister(availRepo, doctors, clock, m, log)
	ledger := appointment.NewLedger(appointmenttest.NewRepository(), doctors, nil, clock, m, log)
	resolver := availability.NewResolver(templates, statuses, ledger, doctors, clock, m)
	coordinator := appointment.NewCoordinator(resolver, ledger,
		appointmenttest.Patients{s.patient: true, s.stranger: true}, nil, m, log)

	s.handler = NewRouter(RouterConfig{
		Templates:      templates,
		Statuses:       statuses,
		Resolver:       resolver,
		Doctors:        doctors,
		Ledger:         ledger,
		Coordinator:    coordinator,
		Gatherer:       reg,
		Logger:         log,
		RateLimitRPS:   rps,
		RateLimitBurst: 1,
		Env:            "test",
		Health: []Dependency{
			{Name: "postgres", Critical: true, Ping: func(context.Context) error { return nil }},
			{Name: "redis", Ping: func(context.Context) error { return errors.New("down") }},
		},
	})
	return s
}

func (s *testServer) do(t *testing.T, method, path string, actor uuid.UUID, role Role, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != uuid.Nil {
		req.Header.Set(headerActorID, actor.String())
		req.Header.Set(headerActorRole, string(role))
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func (s *testServer) addThursdayTemplate(t *testing.T, start, end string) TemplateResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/availability/time-slot", s.doctor, RoleDoctor, map[string]string{
		"day_of_week": "thursday", "start_time": start, "end_time": end,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[TemplateResponse](t, rec)
}

func TestBookingFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, 0)
	s.addThursdayTemplate(t, "09:00", "12:00")
	s.addThursdayTemplate(t, "13:00", "14:00")

	slotsPath := "/availability/" + s.doctor.String() + "/2026-02-05"
	rec := s.do(t, http.MethodGet, slotsPath, uuid.Nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decode[[]SlotResponse](t, rec)
	require.Len(t, slots, 2)
	assert.Equal(t, SlotResponse{Date: "2026-02-05", Time: "09:00", Available: true}, slots[0])

	book := map[string]string{"doctor_id": s.doctor.String(), "date": "2026-02-05", "time": "09:00", "reason": "Checkup"}
	rec = s.do(t, http.MethodPost, "/appointments", s.patient, RolePatient, book)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "scheduled", appt.Status)
	assert.Equal(t, s.patient, appt.PatientID)

	rec = s.do(t, http.MethodPost, "/appointments", s.stranger, RolePatient, book)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_unavailable", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, slotsPath, uuid.Nil, "", nil)
	assert.Len(t, decode[[]SlotResponse](t, rec), 1)

	rec = s.do(t, http.MethodGet, "/appointments/"+appt.ID.String(), s.stranger, RolePatient, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/appointments?patientId="+s.patient.String(), s.patient, RolePatient, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]AppointmentResponse](t, rec), 1)

	rec = s.do(t, http.MethodGet, "/appointments?doctorId="+s.doctor.String()+"&status=scheduled", s.doctor, RoleDoctor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]AppointmentResponse](t, rec), 1)

	rec = s.do(t, http.MethodDelete, "/appointments/"+appt.ID.String(), s.patient, RolePatient, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode[AppointmentResponse](t, rec).Status)

	rec = s.do(t, http.MethodDelete, "/appointments/"+appt.ID.String(), s.patient, RolePatient, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, slotsPath, uuid.Nil, "", nil)
	assert.Len(t, decode[[]SlotResponse](t, rec), 2)
}

func TestCompleteBeforeStartIsRejected(t *testing.T) {
	s := newTestServer(t, 0)
	s.addThursdayTemplate(t, "09:00", "10:00")

	rec := s.do(t, http.MethodPost, "/appointments", s.patient, RolePatient,
		map[string]string{"doctor_id": s.doctor.String(), "date": "2026-02-05", "time": "09:00"})
	require.Equal(t, http.StatusCreated, rec.Code)
	appt := decode[AppointmentResponse](t, rec)

	rec = s.do(t, http.MethodPut, "/appointments/"+appt.ID.String(), s.patient, RolePatient, map[string]string{"status": "completed"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPut, "/appointments/"+appt.ID.String(), s.doctor, RoleDoctor, map[string]string{"status": "completed"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPut, "/appointments/"+appt.ID.String(), s.doctor, RoleDoctor, map[string]string{"status": "scheduled"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTemplateEndpoints(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodPost, "/availability/time-slot", s.doctor, RoleDoctor,
		map[string]string{"day_of_week": "monday", "start_time": "17:00", "end_time": "09:00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_range", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/availability/time-slot", s.doctor, RoleDoctor,
		map[string]string{"day_of_week": "someday", "start_time": "9am", "end_time": "09:00"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "invalid_request", errResp.Error)
	assert.Len(t, errResp.Fields, 2)

	tpl := s.addThursdayTemplate(t, "09:00", "10:00")

	rec = s.do(t, http.MethodPut, "/availability/time-slot/"+tpl.ID.String()+"/toggle", s.doctor, RoleDoctor, map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[TemplateResponse](t, rec).Enabled)

	rec = s.do(t, http.MethodPut, "/availability/time-slot/"+tpl.ID.String()+"/toggle", s.doctor, RoleDoctor, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/availability/time-slots", s.doctor, RoleDoctor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]TemplateResponse](t, rec), 1)

	rec = s.do(t, http.MethodDelete, "/availability/time-slot/"+tpl.ID.String(), s.patient, RolePatient, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodDelete, "/availability/time-slot/"+tpl.ID.String(), s.doctor, RoleDoctor, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodDelete, "/availability/time-slot/"+tpl.ID.String(), s.doctor, RoleDoctor, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusEndpoints(t *testing.T) {
	s := newTestServer(t, 0)
	s.addThursdayTemplate(t, "09:00", "10:00")
	statusPath := "/availability/" + s.doctor.String() + "/status"

	rec := s.do(t, http.MethodGet, statusPath, uuid.Nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "available", decode[StatusResponse](t, rec).Status)

	rec = s.do(t, http.MethodPut, "/availability/status", s.doctor, RoleDoctor,
		map[string]string{"status": "on_leave", "reason": "Conference"})
	require.Equal(t, http.StatusOK, rec.Code)
	set := decode[StatusResponse](t, rec)
	assert.Equal(t, "on_leave", set.Status)
	require.NotNil(t, set.Reason)
	assert.Equal(t, "Conference", *set.Reason)

	rec = s.do(t, http.MethodPost, "/appointments", s.patient, RolePatient,
		map[string]string{"doctor_id": s.doctor.String(), "date": "2026-02-05", "time": "09:00"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_unavailable", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPut, "/availability/status", s.doctor, RoleDoctor, map[string]string{"status": "away"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, statusPath+"/history?limit=5", uuid.Nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]StatusResponse](t, rec), 1)

	rec = s.do(t, http.MethodGet, "/availability/"+uuid.NewString()+"/status", uuid.Nil, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_doctor", decode[ErrorResponse](t, rec).Error)
}

func TestActorHeaders(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodGet, "/appointments?patientId="+s.patient.String(), uuid.Nil, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/appointments?patientId="+s.patient.String(), nil)
	req.Header.Set(headerActorID, "not-a-uuid")
	req.Header.Set(headerActorRole, "patient")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	rec = s.do(t, http.MethodGet, "/appointments?patientId="+s.patient.String(), s.stranger, RolePatient, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/appointments", s.doctor, RoleDoctor,
		map[string]string{"doctor_id": s.doctor.String(), "date": "2026-02-05", "time": "09:00"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimitOnMutations(t *testing.T) {
	s := newTestServer(t, 0.001)

	body := map[string]string{"status": "busy"}
	first := s.do(t, http.MethodPut, "/availability/status", s.doctor, RoleDoctor, body)
	assert.Equal(t, http.StatusOK, first.Code)

	second := s.do(t, http.MethodPut, "/availability/status", s.doctor, RoleDoctor, body)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// Reads are not limited.
	read := s.do(t, http.MethodGet, "/availability/"+s.doctor.String()+"/status", uuid.Nil, "", nil)
	assert.Equal(t, http.StatusOK, read.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodGet, "/health/live", uuid.Nil, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/health/ready", uuid.Nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "degraded", ready.Status)
	assert.Equal(t, "down", ready.Dependencies["redis"])

	s.do(t, http.MethodGet, "/availability/"+s.doctor.String()+"/2026-02-05", uuid.Nil, "", nil)
	rec = s.do(t, http.MethodGet, "/metrics", uuid.Nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scheduling_resolve_duration_seconds")
}
