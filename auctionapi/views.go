package auctionapi

import (
	"fmt"

	"github.com/cloudx-io/sealedbid/core"
)

// RevealView is the JSON form of core.Reveal.
type RevealView struct {
	Winner         core.Identity `json:"winner"`
	WinningBid     uint64        `json:"winning_bid"`
	ComputationRef string        `json:"computation_ref"`
	FinalizedAt    int64         `json:"finalized_at"`
}

// AuctionView is the JSON form of an auction record. Identities and addresses render as base58.
type AuctionView struct {
	Address       core.Address  `json:"address"`
	Creator       core.Identity `json:"creator"`
	ItemName      string        `json:"item_name"`
	Description   string        `json:"description"`
	MinBid        uint64        `json:"min_bid"`
	EndTime       int64         `json:"end_time"`
	CreatedAt     int64         `json:"created_at"`
	Status        string        `json:"status"`
	BidCount      uint64        `json:"bid_count"`
	CommitmentKey []byte        `json:"commitment_key"`
	Reveal        *RevealView   `json:"reveal,omitempty"`
}

// BidView is the JSON form of a bid record.
type BidView struct {
	Address      core.Address  `json:"address"`
	Auction      core.Address  `json:"auction"`
	Bidder       core.Identity `json:"bidder"`
	Sequence     uint64        `json:"sequence"`
	Commitment   []byte        `json:"commitment"`
	EphemeralKey []byte        `json:"ephemeral_key"`
	Nonce        []byte        `json:"nonce"`
	SubmittedAt  int64         `json:"submitted_at"`
}

// NewAuctionView renders a.
func NewAuctionView(a *core.Auction) *AuctionView {
	v := &AuctionView{
		Address:       a.Address,
		Creator:       a.Creator,
		ItemName:      a.ItemName,
		Description:   a.Description,
		MinBid:        a.MinBid,
		EndTime:       a.EndTime,
		CreatedAt:     a.CreatedAt,
		Status:        a.Status.String(),
		BidCount:      a.BidCount,
		CommitmentKey: append([]byte(nil), a.CommitmentKey[:]...),
	}
	if a.Reveal != nil {
		v.Reveal = &RevealView{
			Winner:         a.Reveal.Winner,
			WinningBid:     a.Reveal.WinningBid,
			ComputationRef: a.Reveal.ComputationRef,
			FinalizedAt:    a.Reveal.FinalizedAt,
		}
	}
	return v
}

// Record converts the view back into a core record.
func (v *AuctionView) Record() (*core.Auction, error) {
	status, err := parseStatus(v.Status)
	if err != nil {
		return nil, err
	}
	if len(v.CommitmentKey) != 32 {
		return nil, fmt.Errorf("commitment key must be 32 bytes, got %d", len(v.CommitmentKey))
	}

	a := &core.Auction{
		Address:     v.Address,
		Creator:     v.Creator,
		ItemName:    v.ItemName,
		Description: v.Description,
		MinBid:      v.MinBid,
		EndTime:     v.EndTime,
		CreatedAt:   v.CreatedAt,
		Status:      status,
		BidCount:    v.BidCount,
	}
	copy(a.CommitmentKey[:], v.CommitmentKey)
	if v.Reveal != nil {
		a.Reveal = &core.Reveal{
			Winner:         v.Reveal.Winner,
			WinningBid:     v.Reveal.WinningBid,
			ComputationRef: v.Reveal.ComputationRef,
			FinalizedAt:    v.Reveal.FinalizedAt,
		}
	}
	return a, nil
}

func parseStatus(s string) (core.Status, error) {
	for _, st := range []core.Status{core.StatusActive, core.StatusFinalized, core.StatusCancelled} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown auction status %q", s)
}

// NewBidView renders b.
func NewBidView(b *core.Bid) *BidView {
	return &BidView{
		Address:      b.Address,
		Auction:      b.Auction,
		Bidder:       b.Bidder,
		Sequence:     b.Sequence,
		Commitment:   b.Commitment,
		EphemeralKey: b.EphemeralKey,
		Nonce:        b.Nonce,
		SubmittedAt:  b.SubmittedAt,
	}
}

// NewBidViews renders bids in order.
func NewBidViews(bids []*core.Bid) []BidView {
	out := make([]BidView, 0, len(bids))
	for _, b := range bids {
		out = append(out, *NewBidView(b))
	}
	return out
}

// Record converts the view back into a core record.
func (v *BidView) Record() *core.Bid {
	return &core.Bid{
		Address:      v.Address,
		Auction:      v.Auction,
		Bidder:       v.Bidder,
		Sequence:     v.Sequence,
		Commitment:   v.Commitment,
		EphemeralKey: v.EphemeralKey,
		Nonce:        v.Nonce,
		SubmittedAt:  v.SubmittedAt,
	}
}
