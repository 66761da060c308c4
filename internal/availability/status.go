package availability

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicbook/scheduling-core/internal/metrics"
)

const historyPageSize = 50

const autoExpiredReason = "auto-expired"

// StatusRegister keeps each doctor's availability status as an append-only log.
// The current status is always the newest record; nothing is updated in place.
type StatusRegister struct {
	repo    StatusRepository
	doctors DoctorChecker
	clock   Clock
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewStatusRegister(repo StatusRepository, doctors DoctorChecker, clock Clock, m *metrics.Metrics, log zerolog.Logger) *StatusRegister {
	return &StatusRegister{repo: repo, doctors: doctors, clock: clock, metrics: m, log: log}
}

// SetStatus appends a new record which becomes current. effectiveUntil is advisory:
// the register never reverts a status on its own.
func (r *StatusRegister) SetStatus(ctx context.Context, doctorID uuid.UUID, status Status, reason *string, effectiveUntil *time.Time) (*StatusRecord, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if err := r.doctors.CheckDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	rec, err := r.repo.AppendStatus(ctx, StatusRecord{
		DoctorID:       doctorID,
		Status:         status,
		Reason:         reason,
		EffectiveUntil: effectiveUntil,
		ChangedAt:      r.clock.Current(),
	})
	if err != nil {
		return nil, fmt.Errorf("append status: %w", err)
	}

	r.metrics.ObserveStatusChange(string(status))
	r.log.Info().
		Str("doctor_id", doctorID.String()).
		Str("status", string(status)).
		Msg("doctor status changed")

	return rec, nil
}

// Current returns the doctor's newest status record. A doctor who never changed
// status is available.
func (r *StatusRegister) Current(ctx context.Context, doctorID uuid.UUID) (StatusRecord, error) {
	rec, err := r.repo.LatestStatus(ctx, doctorID)
	if errors.Is(err, ErrStatusNotFound) {
		return StatusRecord{DoctorID: doctorID, Status: StatusAvailable}, nil
	}
	if err != nil {
		return StatusRecord{}, fmt.Errorf("load current status: %w", err)
	}
	return *rec, nil
}

// History yields the doctor's status records newest first. Pages are fetched lazily
// and every range over the sequence starts again from the newest record.
func (r *StatusRegister) History(ctx context.Context, doctorID uuid.UUID) iter.Seq2[StatusRecord, error] {
	return func(yield func(StatusRecord, error) bool) {
		var before int64
		for {
			page, err := r.repo.StatusPage(ctx, doctorID, before, historyPageSize)
			if err != nil {
				yield(StatusRecord{}, fmt.Errorf("load status history: %w", err))
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if len(page) < historyPageSize {
				return
			}
			before = page[len(page)-1].ID
		}
	}
}

// SweepExpired reverts doctors whose current busy/on_leave status has passed its
// effective-until time by appending an available record. It is only invoked by the
// opt-in sweeper process. Returns how many doctors were reverted.
func (r *StatusRegister) SweepExpired(ctx context.Context) (int, error) {
	now := r.clock.Current()
	expired, err := r.repo.ExpiredStatuses(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("find expired statuses: %w", err)
	}

	reason := autoExpiredReason
	reverted := 0
	for _, rec := range expired {
		_, err := r.repo.AppendStatusIfLatest(ctx, StatusRecord{
			DoctorID:  rec.DoctorID,
			Status:    StatusAvailable,
			Reason:    &reason,
			ChangedAt: now,
		}, rec.ID)
		if errors.Is(err, ErrStatusSuperseded) {
			continue
		}
		if err != nil {
			r.log.Warn().Err(err).Str("doctor_id", rec.DoctorID.String()).Msg("failed to revert expired status")
			continue
		}
		reverted++
		r.metrics.ObserveStatusChange(string(StatusAvailable))
	}

	return reverted, nil
}
