package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicbook/scheduling-core/internal/availability"
	"github.com/clinicbook/scheduling-core/internal/metrics"
)

type SlotResolver interface {
	Resolve(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]availability.ResolvedSlot, error)
}

type PatientChecker interface {
	CheckPatient(ctx context.Context, id uuid.UUID) error
}

// SlotLocker guards a single (doctor, date, time) tuple across processes. A lock that is
// already held surfaces as an error wrapping ErrConflict. When the lock backend cannot be
// reached the locker returns an error wrapping ErrLockUnavailable without calling fn.
type SlotLocker interface {
	WithSlotLock(ctx context.Context, key SlotKey, fn func(ctx context.Context) error) error
}

// Coordinator is the booking entry point for patients: it re-checks the requested time
// against the resolver and then reserves it in the ledger.
type Coordinator struct {
	resolver SlotResolver
	ledger   *Ledger
	patients PatientChecker
	locker   SlotLocker
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewCoordinator wires the booking flow. locker may be nil.
func NewCoordinator(resolver SlotResolver, ledger *Ledger, patients PatientChecker, locker SlotLocker, m *metrics.Metrics, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		resolver: resolver,
		ledger:   ledger,
		patients: patients,
		locker:   locker,
		metrics:  m,
		log:      log,
	}
}

// Book reserves req.Time on req.Date for the patient. It fails with ErrSlotUnavailable when
// the time is not currently offered and with ErrConflict when another booking won the race.
func (c *Coordinator) Book(ctx context.Context, req ReserveRequest) (*Appointment, error) {
	appt, err := c.book(ctx, req)
	c.metrics.ObserveBooking(bookingOutcome(err))

	if err != nil {
		c.log.Debug().Err(err).
			Str("patient_id", req.PatientID.String()).
			Str("slot", req.Slot().String()).
			Msg("booking rejected")
		return nil, err
	}
	return appt, nil
}

func (c *Coordinator) book(ctx context.Context, req ReserveRequest) (*Appointment, error) {
	if err := c.patients.CheckPatient(ctx, req.PatientID); err != nil {
		return nil, err
	}

	req.Date = availability.DateOf(req.Date)
	slots, err := c.resolver.Resolve(ctx, req.DoctorID, req.Date)
	if err != nil {
		return nil, err
	}
	if !offers(slots, req.Time) {
		return nil, fmt.Errorf("%w: %s", ErrSlotUnavailable, req.Slot())
	}

	if c.locker == nil {
		return c.ledger.TryReserve(ctx, req)
	}

	var created *Appointment
	err = c.locker.WithSlotLock(ctx, req.Slot(), func(lockCtx context.Context) error {
		appt, err := c.ledger.TryReserve(lockCtx, req)
		if err != nil {
			return err
		}
		created = appt
		return nil
	})
	if errors.Is(err, ErrLockUnavailable) {
		// The active-slot unique index still rejects the loser of a race.
		c.log.Warn().Err(err).Str("slot", req.Slot().String()).Msg("slot lock unavailable, booking without it")
		return c.ledger.TryReserve(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

func offers(slots []availability.ResolvedSlot, t availability.TimeOfDay) bool {
	for _, s := range slots {
		if s.Time == t && s.Available {
			return true
		}
	}
	return false
}

func bookingOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrSlotUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
