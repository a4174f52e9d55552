package gamification

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidEvent      = errors.New("invalid event")
	ErrPersistence       = errors.New("persistence error")
	ErrInsufficientFunds = errors.New("insufficient coins")
	ErrOutOfStock        = errors.New("reward out of stock")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("concurrent update conflict")
	ErrFreezeLimit       = errors.New("streak freeze limit reached")
	ErrAlreadyApplied    = errors.New("already applied")
)

// persistErr tags store failures as ErrPersistence, leaving the domain
// sentinels a store may return untouched.
func persistErr(op string, err error) error {
	for _, known := range []error{ErrNotFound, ErrInsufficientFunds, ErrOutOfStock, ErrFreezeLimit, ErrAlreadyApplied, ErrConflict} {
		if errors.Is(err, known) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
