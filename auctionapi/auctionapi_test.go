package auctionapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedbid/core"
)

func TestInstructionRoundTrip(t *testing.T) {
	in, err := NewInstruction(OpSubmitBid, 1700)
	assert.NoError(t, err)
	check.Equal(t, InstructionNonceLen, len(in.Nonce))

	var auction core.Address
	auction[3] = 7
	in.Bid = &BidArgs{
		Auction:      auction,
		Commitment:   make([]byte, core.DefaultCommitmentLen),
		EphemeralKey: make([]byte, core.EphemeralKeyLen),
		Nonce:        make([]byte, core.NonceLen),
	}

	data, err := in.Marshal()
	assert.NoError(t, err)
	parsed, err := ParseInstruction(data)
	assert.NoError(t, err)
	check.Equal(t, in, parsed)

	params := parsed.Bid.BidParams()
	check.Equal(t, core.DefaultCommitmentLen, len(params.Commitment))
	check.Equal(t, core.NonceLen, len(params.Nonce))
}

func TestInstructionValidate(t *testing.T) {
	nonce := make([]byte, InstructionNonceLen)
	tests := []struct {
		name    string
		in      Instruction
		wantErr bool
	}{
		{
			name: "create",
			in:   Instruction{Op: OpCreateAuction, Nonce: nonce, Create: &CreateArgs{ItemName: "car"}},
		},
		{
			name: "cancel",
			in:   Instruction{Op: OpCancelAuction, Nonce: nonce, Cancel: &CancelArgs{}},
		},
		{
			name:    "short nonce",
			in:      Instruction{Op: OpCancelAuction, Nonce: nonce[:4], Cancel: &CancelArgs{}},
			wantErr: true,
		},
		{
			name:    "no arguments",
			in:      Instruction{Op: OpFinalizeAuction, Nonce: nonce},
			wantErr: true,
		},
		{
			name:    "two argument blocks",
			in:      Instruction{Op: OpCancelAuction, Nonce: nonce, Cancel: &CancelArgs{}, Create: &CreateArgs{}},
			wantErr: true,
		},
		{
			name:    "arguments for another op",
			in:      Instruction{Op: OpFinalizeAuction, Nonce: nonce, Cancel: &CancelArgs{}},
			wantErr: true,
		},
		{
			name:    "unknown op",
			in:      Instruction{Op: "transfer", Nonce: nonce, Cancel: &CancelArgs{}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if tt.wantErr {
				check.Error(t, err)
			} else {
				check.NoError(t, err)
			}
		})
	}
}

func TestParseInstruction_Garbage(t *testing.T) {
	_, err := ParseInstruction([]byte("not cbor"))
	check.Error(t, err)
}

func TestCreateArgsParams(t *testing.T) {
	args := CreateArgs{ItemName: "car", Description: "red", MinBid: 5, EndTime: 99}
	args.CommitmentKey[0] = 1
	p := args.CreateParams()
	check.Equal(t, "car", p.ItemName)
	check.Equal(t, "red", p.Description)
	check.Equal(t, uint64(5), p.MinBid)
	check.Equal(t, int64(99), p.EndTime)
	check.Equal(t, args.CommitmentKey, p.CommitmentKey)
}

func TestAuctionViewJSON(t *testing.T) {
	var creator, winner core.Identity
	creator[0], winner[0] = 1, 2
	a, err := core.NewAuction(creator, core.CreateParams{ItemName: "car", MinBid: 10, EndTime: 50}, 1)
	assert.NoError(t, err)
	a, err = a.Finalize(creator, winner, 12, "ref", 50)
	assert.NoError(t, err)

	data, err := json.Marshal(NewAuctionView(a))
	assert.NoError(t, err)

	var fields map[string]any
	assert.NoError(t, json.Unmarshal(data, &fields))
	check.Equal(t, a.Address.String(), fields["address"].(string))
	check.Equal(t, "finalized", fields["status"].(string))

	var view AuctionView
	assert.NoError(t, json.Unmarshal(data, &view))
	back, err := view.Record()
	assert.NoError(t, err)
	check.Equal(t, a, back)
}

func TestAuctionViewRecord_Invalid(t *testing.T) {
	_, err := (&AuctionView{Status: "open", CommitmentKey: make([]byte, 32)}).Record()
	check.Error(t, err)
	_, err = (&AuctionView{Status: "active", CommitmentKey: []byte{1}}).Record()
	check.Error(t, err)
}

func TestBidViews(t *testing.T) {
	var creator, bidder core.Identity
	creator[0], bidder[0] = 1, 3
	a, err := core.NewAuction(creator, core.CreateParams{ItemName: "car", MinBid: 10, EndTime: 50}, 1)
	assert.NoError(t, err)
	_, bid, err := a.PlaceBid(bidder, core.BidParams{
		Commitment:   make([]byte, core.DefaultCommitmentLen),
		EphemeralKey: make([]byte, core.EphemeralKeyLen),
		Nonce:        make([]byte, core.NonceLen),
	}, core.DefaultProtocol(), 2)
	assert.NoError(t, err)

	views := NewBidViews([]*core.Bid{bid})
	assert.Equal(t, 1, len(views))
	check.Equal(t, bid, views[0].Record())
}

func TestErrorRoundTrip(t *testing.T) {
	wire := NewError(fmt.Errorf("submit bid: %w", core.ErrAuctionEnded), core.CodeInternal)
	check.Equal(t, core.CodeFailedPrecondition, wire.Code)
	check.Equal(t, "auction_ended", wire.Kind)

	data, err := json.Marshal(wire)
	assert.NoError(t, err)
	var decoded Error
	assert.NoError(t, json.Unmarshal(data, &decoded))
	check.True(t, errors.Is(decoded.Err(), core.ErrAuctionEnded))
	check.False(t, errors.Is(decoded.Err(), core.ErrAuctionNotActive))

	plain := NewError(errors.New("disk full"), core.CodeInvalidArgument)
	check.Equal(t, core.CodeInvalidArgument, plain.Code)
	check.Equal(t, core.KindUnknown, core.KindOf(plain.Err()))
	check.Equal(t, core.CodeInvalidArgument, CodeOf(plain.Err()))
	check.Equal(t, "disk full", plain.Err().Error())
}

func TestCodeOf(t *testing.T) {
	replayed := (&Error{Code: core.CodeAlreadyExists, Kind: "unknown", Message: "instruction already processed"}).Err()
	check.Equal(t, core.CodeAlreadyExists, CodeOf(replayed))
	check.Equal(t, core.KindUnknown, core.KindOf(replayed))

	var re *RemoteError
	assert.True(t, errors.As(fmt.Errorf("create: %w", replayed), &re))
	check.Equal(t, core.CodeAlreadyExists, re.Code)

	check.Equal(t, core.CodeFailedPrecondition, CodeOf(core.ErrAuctionEnded))
	check.Equal(t, core.CodeInternal, CodeOf(errors.New("disk full")))
}
