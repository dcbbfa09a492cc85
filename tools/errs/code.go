package errs

// Error codes. HTTP status mapping lives in module/chat.
const (
	ServerInternalError = 500
	TransientIOError    = 503

	AuthRejectedError       = 1001
	ForbiddenError          = 1002
	NotFoundError           = 1003
	InvalidArgumentError    = 1004
	InvalidParticipantError = 1005
	AlreadyRecalledError    = 1006
	ImmutableError          = 1007
	RateLimitedError        = 1008
)

var (
	ErrInternal           = NewCodeError(ServerInternalError, "server internal error")
	ErrTransientIO        = NewCodeError(TransientIOError, "storage temporarily unavailable")
	ErrAuthRejected       = NewCodeError(AuthRejectedError, "authentication rejected")
	ErrForbidden          = NewCodeError(ForbiddenError, "forbidden")
	ErrNotFound           = NewCodeError(NotFoundError, "not found")
	ErrInvalidArgument    = NewCodeError(InvalidArgumentError, "invalid argument")
	ErrInvalidParticipant = NewCodeError(InvalidParticipantError, "invalid participant")
	ErrAlreadyRecalled    = NewCodeError(AlreadyRecalledError, "message already recalled")
	ErrImmutable          = NewCodeError(ImmutableError, "message cannot be modified")
	ErrRateLimited        = NewCodeError(RateLimitedError, "too many requests")
)
