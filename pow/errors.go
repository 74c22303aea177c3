package pow

import "errors"

// Failure taxonomy of challenge consumption. The API layer maps these
// onto the PowInvalid error code with the matching refinement.
var (
	ErrNotFound                   = errors.New("pow challenge not found")
	ErrExpired                    = errors.New("pow challenge expired")
	ErrConsumed                   = errors.New("pow challenge already consumed")
	ErrBadSolution                = errors.New("pow solution does not meet target")
	ErrHeaderMismatch             = errors.New("pow header mismatch outside nonce region")
	ErrAlgorithmMismatch          = errors.New("unknown pow algorithm")
	ErrPurposeMismatch            = errors.New("pow challenge purpose mismatch")
	ErrReusedWithDifferentBinding = errors.New("pow proof reused with different binding")
	ErrBadDifficulty              = errors.New("invalid pow difficulty")
)
