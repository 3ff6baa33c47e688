package store

import (
	"errors"

	"github.com/kilianp07/wastefleet/core/errs"
)

// Kind maps a store failure onto the core error kinds. Anything the store
// does not classify itself (I/O, timeouts, closed handles) is unavailability.
func Kind(err error) error {
	switch {
	case err == nil:
		return nil
	case errs.KindOf(err) != nil:
		return errs.KindOf(err)
	case errors.Is(err, ErrNotFound):
		return errs.ErrNotFound
	case errors.Is(err, ErrVersionMismatch), errors.Is(err, ErrDuplicateKey), errors.Is(err, ErrContention):
		return errs.ErrConflict
	default:
		return errs.ErrUnavailable
	}
}

// Wrap classifies err with Kind and prefixes the operation intent.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return errs.Wrap(Kind(err), op, err)
}
