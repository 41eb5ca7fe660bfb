package shared

import "errors"

// Error taxonomy shared by every susu component. Domain code wraps these with
// context via fmt.Errorf("%w: ...") and callers match them with errors.Is.
var (
	// ErrValidation indicates malformed, missing or non-positive input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates an unknown client, cycle, payout or user reference.
	ErrNotFound = errors.New("not found")
	// ErrStateConflict indicates the operation is not valid in the entity's current state.
	ErrStateConflict = errors.New("state conflict")
	// ErrDuplicate indicates a uniqueness invariant would be violated.
	ErrDuplicate = errors.New("duplicate")
	// ErrPermission indicates the actor lacks the required role.
	ErrPermission = errors.New("permission denied")
	// ErrConcurrency indicates retries on a contended invariant were exhausted.
	ErrConcurrency = errors.New("concurrent modification")
)

// IsDomainError reports whether err belongs to the taxonomy above. Anything
// else is an infrastructure failure.
func IsDomainError(err error) bool {
	for _, target := range []error{ErrValidation, ErrNotFound, ErrStateConflict, ErrDuplicate, ErrPermission, ErrConcurrency} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
