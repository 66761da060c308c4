package availability

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TemplateStore manages a doctor's recurring weekly offers. It never touches
// appointments: disabling or removing a template leaves existing bookings alone.
type TemplateStore struct {
	repo    TemplateRepository
	doctors DoctorChecker
	log     zerolog.Logger
}

func NewTemplateStore(repo TemplateRepository, doctors DoctorChecker, log zerolog.Logger) *TemplateStore {
	return &TemplateStore{repo: repo, doctors: doctors, log: log}
}

// Upsert creates the template, or re-enables an identical one the doctor already owns.
func (s *TemplateStore) Upsert(ctx context.Context, doctorID uuid.UUID, day Weekday, start, end TimeOfDay) (*Template, error) {
	if !day.Valid() {
		return nil, ErrInvalidWeekday
	}
	if !start.Valid() || !end.Valid() {
		return nil, ErrInvalidTimeOfDay
	}
	if start >= end {
		return nil, ErrInvalidRange
	}
	if err := s.doctors.CheckDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	tpl, err := s.repo.UpsertTemplate(ctx, doctorID, day, start, end)
	if err != nil {
		return nil, fmt.Errorf("upsert template: %w", err)
	}

	s.log.Info().
		Str("doctor_id", doctorID.String()).
		Str("template_id", tpl.ID.String()).
		Stringer("day", day).
		Stringer("start", start).
		Stringer("end", end).
		Msg("time slot template saved")

	return tpl, nil
}

func (s *TemplateStore) List(ctx context.Context, doctorID uuid.UUID) ([]Template, error) {
	tpls, err := s.repo.ListTemplates(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return tpls, nil
}

// Enabled returns the doctor's enabled templates for one day of the week.
func (s *TemplateStore) Enabled(ctx context.Context, doctorID uuid.UUID, day Weekday) ([]Template, error) {
	tpls, err := s.repo.ListEnabledTemplates(ctx, doctorID, day)
	if err != nil {
		return nil, fmt.Errorf("list enabled templates: %w", err)
	}
	return tpls, nil
}

func (s *TemplateStore) SetEnabled(ctx context.Context, doctorID, id uuid.UUID, enabled bool) (*Template, error) {
	tpl, err := s.repo.SetTemplateEnabled(ctx, doctorID, id, enabled)
	if err != nil {
		return nil, fmt.Errorf("toggle template: %w", err)
	}
	return tpl, nil
}

func (s *TemplateStore) Remove(ctx context.Context, doctorID, id uuid.UUID) error {
	if err := s.repo.DeleteTemplate(ctx, doctorID, id); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}

	s.log.Info().
		Str("doctor_id", doctorID.String()).
		Str("template_id", id.String()).
		Msg("time slot template removed")
	return nil
}
