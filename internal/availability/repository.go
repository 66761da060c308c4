package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TemplateRepository persists weekly time-slot templates. Every mutation is scoped
// to the owning doctor; a template owned by someone else reads as ErrTemplateNotFound.
type TemplateRepository interface {
	UpsertTemplate(ctx context.Context, doctorID uuid.UUID, day Weekday, start, end TimeOfDay) (*Template, error)
	ListTemplates(ctx context.Context, doctorID uuid.UUID) ([]Template, error)
	ListEnabledTemplates(ctx context.Context, doctorID uuid.UUID, day Weekday) ([]Template, error)
	SetTemplateEnabled(ctx context.Context, doctorID, id uuid.UUID, enabled bool) (*Template, error)
	DeleteTemplate(ctx context.Context, doctorID, id uuid.UUID) error
}

// StatusRepository is an append-only log of status changes. Records are ordered by ID.
type StatusRepository interface {
	AppendStatus(ctx context.Context, rec StatusRecord) (*StatusRecord, error)
	// AppendStatusIfLatest appends only while latestID is still the doctor's newest record.
	AppendStatusIfLatest(ctx context.Context, rec StatusRecord, latestID int64) (*StatusRecord, error)
	LatestStatus(ctx context.Context, doctorID uuid.UUID) (*StatusRecord, error)
	// StatusPage returns up to limit records older than beforeID, newest first.
	// beforeID <= 0 starts from the newest record.
	StatusPage(ctx context.Context, doctorID uuid.UUID, beforeID int64, limit int) ([]StatusRecord, error)
	// ExpiredStatuses returns current records that are not available and whose
	// effective_until is before now.
	ExpiredStatuses(ctx context.Context, now time.Time) ([]StatusRecord, error)
}

// DoctorChecker is the doctor-profile collaborator. It returns directory.ErrUnknownDoctor
// for ids it does not know.
type DoctorChecker interface {
	CheckDoctor(ctx context.Context, id uuid.UUID) error
}
