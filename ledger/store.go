// Package ledger defines the durable record store behind the auction lifecycle.
//
// Records are keyed by their deterministic address. Allocation is create-if-absent and the
// only mutation of an existing auction is a compare-and-set, so the store itself rejects
// duplicate auctions and lost updates. There is no delete path.
package ledger

import (
	"context"

	"github.com/cloudx-io/sealedbid/core"
)

// Store persists Auction and Bid records.
//
// Errors carry core kinds: core.ErrAuctionExists, core.ErrAuctionNotFound, core.ErrBidNotFound
// and core.ErrConflict. Anything else is an infrastructure failure.
type Store interface {
	// InsertAuction stores a new auction. It fails with core.ErrAuctionExists if a record
	// already lives at the auction's address.
	InsertAuction(ctx context.Context, a *core.Auction) error

	// Auction loads the auction at addr.
	Auction(ctx context.Context, addr core.Address) (*core.Auction, error)

	// Auctions lists auctions in address order. A non-nil creator restricts the listing to that creator.
	Auctions(ctx context.Context, creator *core.Identity) ([]*core.Auction, error)

	// InsertBid stores bid and replaces its parent auction with updated in one atomic step.
	// The stored auction must still be Active with bid_count == bid.Sequence, and updated
	// must carry bid_count == bid.Sequence+1. Otherwise core.ErrConflict is returned and
	// nothing is written.
	InsertBid(ctx context.Context, bid *core.Bid, updated *core.Auction) error

	// UpdateAuction applies a terminal transition. The stored auction must still be Active
	// with the same bid_count as updated, and updated must be Finalized or Cancelled with
	// matching reveal fields. Otherwise core.ErrConflict is returned.
	UpdateAuction(ctx context.Context, updated *core.Auction) error

	// Bid loads the bid at addr.
	Bid(ctx context.Context, addr core.Address) (*core.Bid, error)

	// Bids lists the bids of an auction ordered by sequence.
	Bids(ctx context.Context, auction core.Address) ([]*core.Bid, error)

	Close() error
}

// CheckBidCAS validates an InsertBid request against the currently stored auction.
func CheckBidCAS(stored *core.Auction, bid *core.Bid, updated *core.Auction) error {
	if bid.Auction != stored.Address || updated.Address != stored.Address {
		return core.Wrap(core.KindConflict, "insert bid", errAddressMismatch)
	}
	if stored.Status != core.StatusActive {
		return core.Wrap(core.KindConflict, "insert bid", errNotActive)
	}
	if stored.BidCount != bid.Sequence || updated.BidCount != bid.Sequence+1 {
		return core.Wrap(core.KindConflict, "insert bid", errCountMoved)
	}
	return nil
}

// CheckUpdateCAS validates an UpdateAuction request against the currently stored auction.
func CheckUpdateCAS(stored, updated *core.Auction) error {
	if stored.Status != core.StatusActive {
		return core.Wrap(core.KindConflict, "update auction", errNotActive)
	}
	if stored.BidCount != updated.BidCount {
		return core.Wrap(core.KindConflict, "update auction", errCountMoved)
	}
	if !updated.Status.Terminal() || !updated.Consistent() {
		return core.Wrap(core.KindConflict, "update auction", errInconsistent)
	}
	return nil
}
