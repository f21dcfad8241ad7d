package consolidation

import "errors"

var (
	// ErrGroupNotFound indicates the consolidation group is missing.
	ErrGroupNotFound = errors.New("consolidation: group not found")
	// ErrEntityNotFound indicates the referenced entity is missing.
	ErrEntityNotFound = errors.New("consolidation: entity not found")
	// ErrEmptyGroup rejects report generation for a group without members.
	ErrEmptyGroup = errors.New("consolidation: cannot generate consolidated report for an empty group")
	// ErrUnsupportedReportType rejects unknown report type values.
	ErrUnsupportedReportType = errors.New("consolidation: unsupported report type")
	// ErrInternal stands in for storage failures so driver details never
	// reach callers. The original error is logged at the boundary.
	ErrInternal = errors.New("consolidation: internal storage error")
)
