package apperrors

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("payload failed validation")
	ErrMissingField    = errors.New("required field missing")
	ErrDuplicateRecord = errors.New("record already ingested")
	ErrEdgeNotFound    = errors.New("no match edge exists for pair")
	ErrBadStatus       = errors.New("entity is not in a workable status")
	ErrUnknownEndpoint = errors.New("unknown endpoint")
	ErrUnknownEntity   = errors.New("unknown entity")
	ErrBadFilterField  = errors.New("filter field not queryable")
	ErrSuspectFilter   = errors.New("filter value failed injection screen")
)
