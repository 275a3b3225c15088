package core

import (
	"math"
)

// NewAuction validates the creation inputs and returns a fresh Active auction owned by creator.
//
// Checks run in a fixed order (end time, min bid, name length, description length) and the
// first violation is reported. Nothing is allocated on failure.
func NewAuction(creator Identity, p CreateParams, now int64) (*Auction, error) {
	if p.EndTime <= now {
		return nil, ErrInvalidEndTime
	}
	if p.MinBid == 0 {
		return nil, ErrInvalidMinBid
	}
	if len(p.ItemName) > MaxItemNameLen {
		return nil, ErrItemNameTooLong
	}
	if len(p.Description) > MaxDescriptionLen {
		return nil, ErrDescriptionTooLong
	}

	return &Auction{
		Address:       AuctionAddress(creator, p.ItemName),
		Creator:       creator,
		ItemName:      p.ItemName,
		Description:   p.Description,
		MinBid:        p.MinBid,
		EndTime:       p.EndTime,
		CreatedAt:     now,
		Status:        StatusActive,
		BidCount:      0,
		CommitmentKey: p.CommitmentKey,
	}, nil
}

// ValidateBid checks the shape of a sealed commitment against the protocol parameters.
// It does not depend on any auction state.
func (proto Protocol) ValidateBid(p BidParams) error {
	if len(p.Commitment) != proto.CommitmentLen {
		return ErrInvalidCommitment
	}
	if len(p.EphemeralKey) != EphemeralKeyLen {
		return ErrInvalidEphemeralKey
	}
	if len(p.Nonce) != NonceLen {
		return ErrInvalidNonce
	}
	return nil
}

// PlaceBid accepts a sealed bid from bidder and returns the updated auction alongside the new bid.
// The bid is addressed by the auction's bid_count before the increment.
// The receiver is never modified.
func (a *Auction) PlaceBid(bidder Identity, p BidParams, proto Protocol, now int64) (*Auction, *Bid, error) {
	if a.Status != StatusActive {
		return nil, nil, ErrAuctionNotActive
	}
	if now >= a.EndTime {
		return nil, nil, ErrAuctionEnded
	}
	if err := proto.ValidateBid(p); err != nil {
		return nil, nil, err
	}
	if a.BidCount == math.MaxUint64 {
		return nil, nil, ErrBidCountOverflow
	}

	seq := a.BidCount
	bid := &Bid{
		Address:      BidAddress(a.Address, bidder, seq),
		Auction:      a.Address,
		Bidder:       bidder,
		Sequence:     seq,
		Commitment:   append([]byte(nil), p.Commitment...),
		EphemeralKey: append([]byte(nil), p.EphemeralKey...),
		Nonce:        append([]byte(nil), p.Nonce...),
		SubmittedAt:  now,
	}

	next := a.Clone()
	next.BidCount = seq + 1
	return next, bid, nil
}

// Finalize records the externally computed winner. Only the creator may finalize, and only
// once the deadline has passed. The winner is not checked against the submitted bids.
func (a *Auction) Finalize(caller, winner Identity, winningBid uint64, computationRef string, now int64) (*Auction, error) {
	if a.Status != StatusActive {
		return nil, ErrAuctionNotActive
	}
	if now < a.EndTime {
		return nil, ErrAuctionNotEnded
	}
	if caller != a.Creator {
		return nil, ErrUnauthorizedFinalizer
	}
	if winningBid < a.MinBid {
		return nil, ErrWinningBidTooLow
	}

	next := a.Clone()
	next.Status = StatusFinalized
	next.Reveal = &Reveal{
		Winner:         winner,
		WinningBid:     winningBid,
		ComputationRef: computationRef,
		FinalizedAt:    now,
	}
	return next, nil
}

// Cancel voids an auction that has not received any bid. Only the creator may cancel.
func (a *Auction) Cancel(caller Identity) (*Auction, error) {
	if caller != a.Creator {
		return nil, ErrUnauthorizedCancellation
	}
	if a.Status != StatusActive {
		return nil, ErrAuctionNotActive
	}
	if a.BidCount > 0 {
		return nil, ErrCannotCancelWithBids
	}

	next := a.Clone()
	next.Status = StatusCancelled
	return next, nil
}

// Consistent reports whether the reveal fields agree with the status:
// present exactly when the auction is Finalized.
func (a *Auction) Consistent() bool {
	return (a.Status == StatusFinalized) == (a.Reveal != nil)
}
