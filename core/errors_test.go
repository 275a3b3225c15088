package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	wrapped := fmt.Errorf("submit bid: %w", ErrAuctionEnded)
	check.True(t, errors.Is(wrapped, ErrAuctionEnded))
	check.False(t, errors.Is(wrapped, ErrAuctionNotEnded))
	check.Equal(t, KindAuctionEnded, KindOf(wrapped))

	withCause := Wrap(KindConflict, "update auction", errors.New("bid_count changed"))
	check.True(t, errors.Is(withCause, ErrConflict))
	check.Equal(t, "update auction: bid_count changed", withCause.Error())

	check.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestKindNamesAndCodes(t *testing.T) {
	for kind, name := range kindNames {
		check.Equal(t, kind, ParseKind(name))
		if kind != KindUnknown {
			check.NotEqual(t, CodeUnknown, kind.Code())
		}
	}
	check.Equal(t, KindUnknown, ParseKind("no_such_kind"))

	check.Equal(t, CodePermissionDenied, KindUnauthorizedFinalizer.Code())
	check.Equal(t, CodeFailedPrecondition, KindCannotCancelWithBids.Code())
	check.Equal(t, CodeAlreadyExists, KindAuctionExists.Code())
	check.Equal(t, CodeAborted, KindConflict.Code())
}
