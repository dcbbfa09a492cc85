package chat

import "PPFeed/tools/errs"

var (
	errConnInvalid  = errs.ErrInvalidArgument.WithDetail("connection needs user and conn id")
	errConnExists   = errs.ErrInvalidArgument.WithDetail("connection id already registered")
	errTooManyConns = errs.ErrForbidden.WithDetail("too many connections for user")
)
