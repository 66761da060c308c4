package availability

import "errors"

var (
	ErrInvalidRange     = errors.New("start time must be before end time")
	ErrTemplateNotFound = errors.New("time slot template not found")
	ErrInvalidStatus    = errors.New("invalid availability status")
	ErrInvalidWeekday   = errors.New("invalid day of week")
	ErrInvalidTimeOfDay = errors.New("invalid time of day, expected HH:MM")
	ErrInvalidDate      = errors.New("invalid date, expected YYYY-MM-DD")

	// ErrStatusNotFound is internal to the register: a doctor with no history is available.
	ErrStatusNotFound = errors.New("no status recorded")
	// ErrStatusSuperseded means a newer status landed before a conditional append.
	ErrStatusSuperseded = errors.New("status was superseded")
)
