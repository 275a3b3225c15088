package ledger

import "github.com/pkg/errors"

// ErrBidExists is the cause of a conflict when a bid address is already occupied.
var ErrBidExists = errors.New("bid address already occupied")

var (
	errAddressMismatch = errors.New("record address mismatch")
	errNotActive       = errors.New("stored auction is no longer active")
	errCountMoved      = errors.New("stored bid_count changed")
	errInconsistent    = errors.New("reveal fields disagree with status")
)
