package bridge

import "errors"

// Sentinel errors for the bridge domain. Repository and pipeline code
// returns these (or wraps them) so callers can branch with errors.Is.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrRateLimited  = errors.New("rate limited")
	ErrBadRequest   = errors.New("bad request")
	ErrKeyDisabled  = errors.New("api key disabled")
	ErrCircular     = errors.New("circular dependency")
	ErrSlugTaken    = errors.New("slug already in use")
)

// KindOf maps a sentinel/domain error to an ErrorKind for IR serialization.
// Unrecognized errors map to ErrKindUnknown.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrCircular), errors.Is(err, ErrSlugTaken):
		return ErrKindValidation
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrKeyDisabled):
		return ErrKindAuth
	case errors.Is(err, ErrForbidden):
		return ErrKindPermission
	case errors.Is(err, ErrNotFound):
		return ErrKindNotFound
	case errors.Is(err, ErrRateLimited):
		return ErrKindRateLimit
	default:
		return ErrKindUnknown
	}
}
