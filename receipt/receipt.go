// Package receipt exports finalized auctions as signed or attested receipts that an
// external settlement step can verify offline.
package receipt

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/sealedbid/core"
)

// ErrNotFinalized is returned for auctions that have no revealed winner.
var ErrNotFinalized = errors.New("auction is not finalized")

// Receipt is what the ledger recorded at finalization. It proves the record, not that
// the winner was computed correctly.
type Receipt struct {
	Auction        core.Address  `cbor:"1,keyasint" json:"auction"`
	Creator        core.Identity `cbor:"2,keyasint" json:"creator"`
	ItemName       string        `cbor:"3,keyasint" json:"item_name"`
	MinBid         uint64        `cbor:"4,keyasint" json:"min_bid"`
	EndTime        int64         `cbor:"5,keyasint" json:"end_time"`
	BidCount       uint64        `cbor:"6,keyasint" json:"bid_count"`
	Winner         core.Identity `cbor:"7,keyasint" json:"winner"`
	WinningBid     uint64        `cbor:"8,keyasint" json:"winning_bid"`
	ComputationRef string        `cbor:"9,keyasint" json:"computation_ref"`
	FinalizedAt    int64         `cbor:"10,keyasint" json:"finalized_at"`
	IssuedAt       int64         `cbor:"11,keyasint" json:"issued_at"`
}

// FromAuction builds the receipt of a finalized auction.
func FromAuction(a *core.Auction, issuedAt int64) (*Receipt, error) {
	if a.Status != core.StatusFinalized || a.Reveal == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotFinalized, a.Address, a.Status)
	}
	return &Receipt{
		Auction:        a.Address,
		Creator:        a.Creator,
		ItemName:       a.ItemName,
		MinBid:         a.MinBid,
		EndTime:        a.EndTime,
		BidCount:       a.BidCount,
		Winner:         a.Reveal.Winner,
		WinningBid:     a.Reveal.WinningBid,
		ComputationRef: a.Reveal.ComputationRef,
		FinalizedAt:    a.Reveal.FinalizedAt,
		IssuedAt:       issuedAt,
	}, nil
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{UTF8: cbor.UTF8DecodeInvalid}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// Marshal encodes the receipt deterministically.
func (r *Receipt) Marshal() ([]byte, error) {
	return encMode.Marshal(r)
}

// Parse decodes a CBOR receipt.
func Parse(data []byte) (*Receipt, error) {
	var r Receipt
	if err := decMode.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &r, nil
}

// Matches reports the first field where the receipt disagrees with a finalized auction record.
func (r *Receipt) Matches(a *core.Auction) error {
	want, err := FromAuction(a, r.IssuedAt)
	if err != nil {
		return err
	}
	if *want != *r {
		return fmt.Errorf("receipt does not match auction %s", a.Address)
	}
	return nil
}
