package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicbook/scheduling-core/internal/appointment"
	"github.com/clinicbook/scheduling-core/internal/availability"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func actorFrom(r *http.Request) Actor {
	a, _ := GetActor(r.Context())
	return a
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// Availability

func resolveSlotsHandler(resolver *availability.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorId")
		if !ok {
			return
		}
		date, err := availability.ParseDate(chi.URLParam(r, "date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted YYYY-MM-DD")
			return
		}

		slots, err := resolver.Resolve(r.Context(), doctorID, date)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toSlotResponses(slots))
	}
}

func currentStatusHandler(statuses *availability.StatusRegister, doctors availability.DoctorChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorId")
		if !ok {
			return
		}
		if err := doctors.CheckDoctor(r.Context(), doctorID); err != nil {
			handleError(w, r, err)
			return
		}

		rec, err := statuses.Current(r.Context(), doctorID)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toStatusResponse(rec))
	}
}

func statusHistoryHandler(statuses *availability.StatusRegister, doctors availability.DoctorChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorId")
		if !ok {
			return
		}

		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		if err := doctors.CheckDoctor(r.Context(), doctorID); err != nil {
			handleError(w, r, err)
			return
		}

		out := make([]StatusResponse, 0, limit)
		for rec, err := range statuses.History(r.Context(), doctorID) {
			if err != nil {
				handleError(w, r, err)
				return
			}
			out = append(out, toStatusResponse(rec))
			if len(out) == limit {
				break
			}
		}

		writeJSON(w, http.StatusOK, out)
	}
}

func setStatusHandler(statuses *availability.StatusRegister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SetStatusRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		rec, err := statuses.SetStatus(r.Context(), actorFrom(r).ID, availability.Status(req.Status), req.Reason, req.EffectiveUntil)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toStatusResponse(*rec))
	}
}

func listTemplatesHandler(templates *availability.TemplateStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tpls, err := templates.List(r.Context(), actorFrom(r).ID)
		if err != nil {
			handleError(w, r, err)
			return
		}

		out := make([]TemplateResponse, 0, len(tpls))
		for _, t := range tpls {
			out = append(out, toTemplateResponse(t))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func upsertTemplateHandler(templates *availability.TemplateStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpsertTemplateRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		// Formats were checked by the validator.
		day, _ := availability.ParseWeekday(req.DayOfWeek)
		start, _ := availability.ParseTimeOfDay(req.StartTime)
		end, _ := availability.ParseTimeOfDay(req.EndTime)

		tpl, err := templates.Upsert(r.Context(), actorFrom(r).ID, day, start, end)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toTemplateResponse(*tpl))
	}
}

func toggleTemplateHandler(templates *availability.TemplateStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req ToggleTemplateRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		tpl, err := templates.SetEnabled(r.Context(), actorFrom(r).ID, id, *req.Enabled)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toTemplateResponse(*tpl))
	}
}

func deleteTemplateHandler(templates *availability.TemplateStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		if err := templates.Remove(r.Context(), actorFrom(r).ID, id); err != nil {
			handleError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// Appointments

func bookAppointmentHandler(coordinator *appointment.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		doctorID, _ := uuid.Parse(req.DoctorID)
		date, _ := availability.ParseDate(req.Date)
		at, _ := availability.ParseTimeOfDay(req.Time)

		appt, err := coordinator.Book(r.Context(), appointment.ReserveRequest{
			DoctorID:  doctorID,
			PatientID: actorFrom(r).ID,
			Date:      date,
			Time:      at,
			Reason:    req.Reason,
			Symptoms:  req.Symptoms,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
	}
}

func listAppointmentsHandler(ledger *appointment.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := actorFrom(r)
		q := r.URL.Query()

		doctorRaw, patientRaw := q.Get("doctorId"), q.Get("patientId")
		if (doctorRaw == "") == (patientRaw == "") {
			writeError(w, http.StatusBadRequest, "invalid_request", "exactly one of doctorId or patientId is required")
			return
		}

		if patientRaw != "" {
			patientID, err := uuid.Parse(patientRaw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patientId", "patientId must be a valid UUID")
				return
			}
			if actor.Role != RolePatient || actor.ID != patientID {
				handleError(w, r, forbidden("patients may only list their own appointments"))
				return
			}

			appts, err := ledger.ListForPatient(r.Context(), patientID)
			if err != nil {
				handleError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
			return
		}

		doctorID, err := uuid.Parse(doctorRaw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctorId", "doctorId must be a valid UUID")
			return
		}
		if actor.Role != RoleDoctor || actor.ID != doctorID {
			handleError(w, r, forbidden("doctors may only list their own appointments"))
			return
		}

		filter, err := parseFilter(q.Get("status"), q.Get("from"), q.Get("to"))
		if err != nil {
			handleError(w, r, err)
			return
		}

		appts, err := ledger.ListForDoctor(r.Context(), doctorID, filter)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
	}
}

func parseFilter(status, from, to string) (appointment.Filter, error) {
	var f appointment.Filter
	if status != "" {
		s, err := appointment.ParseStatus(status)
		if err != nil {
			return f, err
		}
		f.Status = &s
	}
	if from != "" {
		d, err := availability.ParseDate(from)
		if err != nil {
			return f, err
		}
		f.From = &d
	}
	if to != "" {
		d, err := availability.ParseDate(to)
		if err != nil {
			return f, err
		}
		f.To = &d
	}
	return f, nil
}

func getAppointmentHandler(ledger *appointment.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := ledger.Get(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		if !appt.HasParticipant(actorFrom(r).ID) {
			handleError(w, r, appointment.ErrNotParticipant)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func cancelAppointmentHandler(ledger *appointment.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := ledger.Cancel(r.Context(), id, actorFrom(r).ID)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func updateAppointmentHandler(ledger *appointment.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req UpdateAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		var (
			appt *appointment.Appointment
			err  error
		)
		actor := actorFrom(r)
		if appointment.Status(req.Status) == appointment.StatusCompleted {
			appt, err = ledger.Complete(r.Context(), id, actor.ID)
		} else {
			appt, err = ledger.Cancel(r.Context(), id, actor.ID)
		}
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}
