package record

import "errors"

var (
	ErrNotFound        = errors.New("record not found")
	ErrAccessDenied    = errors.New("no approved consent for record")
	ErrDuplicate       = errors.New("record with identical content already stored")
	ErrInvalidArgument = errors.New("invalid record input")
)
