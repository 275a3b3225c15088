package core

import (
	"errors"
	"fmt"
)

// Code is the coarse transport category of an error kind.
type Code string

const (
	CodeUnknown            Code = "UNKNOWN"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeFailedPrecondition Code = "FAILED_PRECONDITION"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodeAborted            Code = "ABORTED"
	CodeInternal           Code = "INTERNAL"
)

// Kind enumerates every distinct failure the lifecycle operations can report.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidEndTime
	KindInvalidMinBid
	KindItemNameTooLong
	KindDescriptionTooLong
	KindAuctionNotActive
	KindAuctionEnded
	KindAuctionNotEnded
	KindInvalidCommitment
	KindInvalidEphemeralKey
	KindInvalidNonce
	KindUnauthorizedFinalizer
	KindWinningBidTooLow
	KindUnauthorizedCancellation
	KindCannotCancelWithBids
	KindBidCountOverflow
	KindAuctionExists
	KindAuctionNotFound
	KindBidNotFound
	KindConflict
)

var kindNames = map[Kind]string{
	KindUnknown:                  "unknown",
	KindInvalidEndTime:           "invalid_end_time",
	KindInvalidMinBid:            "invalid_min_bid",
	KindItemNameTooLong:          "item_name_too_long",
	KindDescriptionTooLong:       "description_too_long",
	KindAuctionNotActive:         "auction_not_active",
	KindAuctionEnded:             "auction_ended",
	KindAuctionNotEnded:          "auction_not_ended",
	KindInvalidCommitment:        "invalid_commitment",
	KindInvalidEphemeralKey:      "invalid_ephemeral_key",
	KindInvalidNonce:             "invalid_nonce",
	KindUnauthorizedFinalizer:    "unauthorized_finalizer",
	KindWinningBidTooLow:         "winning_bid_too_low",
	KindUnauthorizedCancellation: "unauthorized_cancellation",
	KindCannotCancelWithBids:     "cannot_cancel_with_bids",
	KindBidCountOverflow:         "bid_count_overflow",
	KindAuctionExists:            "auction_exists",
	KindAuctionNotFound:          "auction_not_found",
	KindBidNotFound:              "bid_not_found",
	KindConflict:                 "conflict",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind is the inverse of Kind.String. Unknown names map to KindUnknown.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindUnknown
}

// Code returns the transport category of the kind.
func (k Kind) Code() Code {
	switch k {
	case KindInvalidEndTime, KindInvalidMinBid, KindItemNameTooLong, KindDescriptionTooLong,
		KindInvalidCommitment, KindInvalidEphemeralKey, KindInvalidNonce, KindWinningBidTooLow:
		return CodeInvalidArgument
	case KindAuctionNotActive, KindAuctionEnded, KindAuctionNotEnded, KindCannotCancelWithBids, KindBidCountOverflow:
		return CodeFailedPrecondition
	case KindUnauthorizedFinalizer, KindUnauthorizedCancellation:
		return CodePermissionDenied
	case KindAuctionNotFound, KindBidNotFound:
		return CodeNotFound
	case KindAuctionExists:
		return CodeAlreadyExists
	case KindConflict:
		return CodeAborted
	default:
		return CodeUnknown
	}
}

// Error is a lifecycle failure of a specific Kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so callers can compare against the sentinels below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap attaches a kind to an underlying cause.
func Wrap(kind Kind, msg string, cause error) error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// KindOf extracts the kind of err, or KindUnknown if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

var (
	ErrInvalidEndTime           = newError(KindInvalidEndTime, "auction end time must be in the future")
	ErrInvalidMinBid            = newError(KindInvalidMinBid, "minimum bid must be greater than 0")
	ErrItemNameTooLong          = newError(KindItemNameTooLong, fmt.Sprintf("item name too long (max %d bytes)", MaxItemNameLen))
	ErrDescriptionTooLong       = newError(KindDescriptionTooLong, fmt.Sprintf("description too long (max %d bytes)", MaxDescriptionLen))
	ErrAuctionNotActive         = newError(KindAuctionNotActive, "auction is not active")
	ErrAuctionEnded             = newError(KindAuctionEnded, "auction has already ended")
	ErrAuctionNotEnded          = newError(KindAuctionNotEnded, "auction has not ended yet")
	ErrInvalidCommitment        = newError(KindInvalidCommitment, "invalid encrypted commitment length")
	ErrInvalidEphemeralKey      = newError(KindInvalidEphemeralKey, "invalid ephemeral public key length")
	ErrInvalidNonce             = newError(KindInvalidNonce, "invalid encryption nonce length")
	ErrUnauthorizedFinalizer    = newError(KindUnauthorizedFinalizer, "unauthorized to finalize this auction")
	ErrWinningBidTooLow         = newError(KindWinningBidTooLow, "winning bid is below minimum bid")
	ErrUnauthorizedCancellation = newError(KindUnauthorizedCancellation, "unauthorized to cancel this auction")
	ErrCannotCancelWithBids     = newError(KindCannotCancelWithBids, "cannot cancel auction with existing bids")
	ErrBidCountOverflow         = newError(KindBidCountOverflow, "bid counter overflow")
	ErrAuctionExists            = newError(KindAuctionExists, "auction already exists for this creator and item name")
	ErrAuctionNotFound          = newError(KindAuctionNotFound, "auction not found")
	ErrBidNotFound              = newError(KindBidNotFound, "bid not found")
	ErrConflict                 = newError(KindConflict, "concurrent modification of auction record")
)
