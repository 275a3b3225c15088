package auctionapi

import (
	"crypto/rand"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/sealedbid/core"
)

// Instruction operations. Each is signed by the caller whose identity it acts under.
const (
	OpCreateAuction   = "create_auction"
	OpSubmitBid       = "submit_bid"
	OpFinalizeAuction = "finalize_auction"
	OpCancelAuction   = "cancel_auction"
)

// InstructionNonceLen is the length of the random nonce that makes every instruction unique.
const InstructionNonceLen = 16

// CreateArgs are the arguments of create_auction.
type CreateArgs struct {
	ItemName      string   `cbor:"1,keyasint"`
	Description   string   `cbor:"2,keyasint"`
	MinBid        uint64   `cbor:"3,keyasint"`
	EndTime       int64    `cbor:"4,keyasint"`
	CommitmentKey [32]byte `cbor:"5,keyasint"`
}

// BidArgs are the arguments of submit_bid.
type BidArgs struct {
	Auction      core.Address `cbor:"1,keyasint"`
	Commitment   []byte       `cbor:"2,keyasint"`
	EphemeralKey []byte       `cbor:"3,keyasint"`
	Nonce        []byte       `cbor:"4,keyasint"`
}

// FinalizeArgs are the arguments of finalize_auction.
type FinalizeArgs struct {
	Auction        core.Address  `cbor:"1,keyasint"`
	Winner         core.Identity `cbor:"2,keyasint"`
	WinningBid     uint64        `cbor:"3,keyasint"`
	ComputationRef string        `cbor:"4,keyasint"`
}

// CancelArgs are the arguments of cancel_auction.
type CancelArgs struct {
	Auction core.Address `cbor:"1,keyasint"`
}

// Instruction is the CBOR payload of a signed envelope. Exactly one argument block,
// the one matching Op, is present.
type Instruction struct {
	Op       string        `cbor:"1,keyasint"`
	IssuedAt int64         `cbor:"2,keyasint"`
	Nonce    []byte        `cbor:"3,keyasint"`
	Create   *CreateArgs   `cbor:"4,keyasint,omitempty"`
	Bid      *BidArgs      `cbor:"5,keyasint,omitempty"`
	Finalize *FinalizeArgs `cbor:"6,keyasint,omitempty"`
	Cancel   *CancelArgs   `cbor:"7,keyasint,omitempty"`
}

// NewInstruction fills in the issue time and a fresh random nonce.
func NewInstruction(op string, issuedAt int64) (*Instruction, error) {
	nonce := make([]byte, InstructionNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate instruction nonce: %w", err)
	}
	return &Instruction{Op: op, IssuedAt: issuedAt, Nonce: nonce}, nil
}

// Validate checks that the instruction is well formed.
func (in *Instruction) Validate() error {
	if len(in.Nonce) != InstructionNonceLen {
		return fmt.Errorf("instruction nonce must be %d bytes, got %d", InstructionNonceLen, len(in.Nonce))
	}

	present := 0
	for _, set := range []bool{in.Create != nil, in.Bid != nil, in.Finalize != nil, in.Cancel != nil} {
		if set {
			present++
		}
	}
	if present != 1 {
		return fmt.Errorf("instruction must carry exactly one argument block, got %d", present)
	}

	var ok bool
	switch in.Op {
	case OpCreateAuction:
		ok = in.Create != nil
	case OpSubmitBid:
		ok = in.Bid != nil
	case OpFinalizeAuction:
		ok = in.Finalize != nil
	case OpCancelAuction:
		ok = in.Cancel != nil
	default:
		return fmt.Errorf("unknown instruction op %q", in.Op)
	}
	if !ok {
		return fmt.Errorf("instruction %s is missing its arguments", in.Op)
	}
	return nil
}

var instructionEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Marshal encodes the instruction deterministically.
func (in *Instruction) Marshal() ([]byte, error) {
	return instructionEncMode.Marshal(in)
}

// ParseInstruction decodes and validates an instruction payload.
func ParseInstruction(data []byte) (*Instruction, error) {
	var in Instruction
	if err := cbor.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode instruction: %w", err)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return &in, nil
}

// CreateParams converts the arguments for the controller.
func (a *CreateArgs) CreateParams() core.CreateParams {
	return core.CreateParams{
		ItemName:      a.ItemName,
		Description:   a.Description,
		MinBid:        a.MinBid,
		EndTime:       a.EndTime,
		CommitmentKey: a.CommitmentKey,
	}
}

// BidParams converts the arguments for the controller.
func (a *BidArgs) BidParams() core.BidParams {
	return core.BidParams{
		Commitment:   a.Commitment,
		EphemeralKey: a.EphemeralKey,
		Nonce:        a.Nonce,
	}
}
