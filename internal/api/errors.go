package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/clinicbook/scheduling-core/internal/appointment"
	"github.com/clinicbook/scheduling-core/internal/availability"
	"github.com/clinicbook/scheduling-core/internal/directory"
)

const maxBodyBytes = 1 << 20

var errForbidden = errors.New("forbidden")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})

	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, err := availability.ParseTimeOfDay(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
		_, err := availability.ParseWeekday(fl.Field().String())
		return err == nil
	})

	return v
}

var validationMessages = map[string]string{
	"required": "is required",
	"uuid":     "must be a valid UUID",
	"datetime": "must be a date formatted YYYY-MM-DD",
	"hhmm":     "must be a time formatted HH:MM",
	"weekday":  "must be a day of the week",
	"oneof":    "must be one of: ",
	"max":      "is too long",
}

// decodeJSON reads and validates a request body. It writes the error response itself and
// reports whether the handler should continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "could not parse JSON body")
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return false
		}

		fields := make([]ValidationError, 0, len(verrs))
		for _, e := range verrs {
			msg := validationMessages[e.Tag()]
			if msg == "" {
				msg = "is invalid"
			}
			if e.Tag() == "oneof" {
				msg += e.Param()
			}
			fields = append(fields, ValidationError{Field: e.Field(), Message: msg})
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Details: "request validation failed",
			Fields:  fields,
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// handleError maps domain errors onto HTTP responses. Anything unrecognised is treated as
// a storage failure and logged.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, availability.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
	case errors.Is(err, availability.ErrInvalidWeekday),
		errors.Is(err, availability.ErrInvalidTimeOfDay),
		errors.Is(err, availability.ErrInvalidDate),
		errors.Is(err, availability.ErrInvalidStatus),
		errors.Is(err, appointment.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, availability.ErrTemplateNotFound):
		writeError(w, http.StatusNotFound, "template_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, directory.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, directory.ErrUnknownDoctor):
		writeError(w, http.StatusNotFound, "unknown_doctor", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, appointment.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", "the requested time is no longer available, please pick another")
	case errors.Is(err, appointment.ErrConflict):
		writeError(w, http.StatusConflict, "slot_conflict", "someone else just booked this time, please pick another")
	case errors.Is(err, appointment.ErrNotParticipant), errors.Is(err, errForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "service temporarily unavailable")
	}
}

func forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errForbidden}, args...)...)
}
