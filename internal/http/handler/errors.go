package handler

import "errors"

var (
	errInvalidID         = errors.New("id must be an integer")
	errInvalidSkip       = errors.New("skip must be a non-negative integer")
	errInvalidLimitParam = errors.New("limit must be an integer")
)
