package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job id does not resolve to a row.
	ErrJobNotFound = errors.New("job not found")

	// ErrViewNotFound is returned when a datasource view id does not
	// resolve to a row.
	ErrViewNotFound = errors.New("datasource view not found")

	// ErrPendingJobExists is returned when a new job is requested for a
	// view that already owns a pending job. Only one job may be in flight
	// per view.
	ErrPendingJobExists = errors.New("a pending job already exists for this datasource view")

	// ErrViewHasPendingJob is returned when a delete is attempted on a
	// view still referenced by a pending job.
	ErrViewHasPendingJob = errors.New("datasource view is referenced by a pending job")

	// ErrExportConflict is returned under the Reject conflict policy when
	// any candidate already has an exported counterpart.
	ErrExportConflict = errors.New("one or more users have already been exported")

	// ErrInvalidID is returned when an identifier is not a valid UUID.
	ErrInvalidID = errors.New("identifier is not a valid UUID")
)
