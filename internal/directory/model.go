// Package directory answers whether a doctor or patient exists. Profiles are owned by
// other services; this package only reads them.
package directory

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownDoctor   = errors.New("unknown doctor")
	ErrPatientNotFound = errors.New("patient not found")
)

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}
