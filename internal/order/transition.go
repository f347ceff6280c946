package order

import (
	"errors"
	"fmt"

	"daytrading-core/pkg/db"
)

// ErrInvalidTransition is returned for a status change the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid order status transition")

var transitions = map[string]map[string]bool{
	db.StatusNew: {
		db.StatusNew:             true,
		db.StatusPartiallyFilled: true,
		db.StatusFilled:          true,
		db.StatusCanceled:        true,
		db.StatusRejected:        true,
	},
	db.StatusPartiallyFilled: {
		db.StatusPartiallyFilled: true,
		db.StatusFilled:          true,
		db.StatusCanceled:        true,
	},
}

// CheckTransition returns nil when an order in status from may move to to.
// A repeated new is accepted as a refresh; terminal statuses accept nothing.
func CheckTransition(from, to string) error {
	if transitions[from][to] {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
