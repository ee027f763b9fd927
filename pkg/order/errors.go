package order

import (
	"errors"
	"fmt"

	"github.com/example/ordershop/pkg/models"
)

var (
	// ErrValidation signals malformed input, including an empty item list.
	ErrValidation = errors.New("order: validation failed")
	// ErrNotFound is returned for unknown orders and for owner-scoped lookups
	// that do not match, so existence is not leaked.
	ErrNotFound = errors.New("order: not found")
	// ErrInvalidTransition indicates a status change outside the transition table.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	// ErrForbidden indicates the caller may not act on the order.
	ErrForbidden = errors.New("order: forbidden")
	// ErrConflict is returned when concurrent writers kept winning after all retries.
	ErrConflict = errors.New("order: concurrent modification")
	// ErrUnavailable is returned when an optional backend is not configured.
	ErrUnavailable = errors.New("order: unavailable")
)

// InvalidTransitionError carries both ends of a rejected transition.
type InvalidTransitionError struct {
	Current   models.OrderStatus
	Requested models.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: cannot move from %s to %s", ErrInvalidTransition, e.Current, e.Requested)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
