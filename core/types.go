package core

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// Identity is the 32-byte ed25519 public key of an account (creator, bidder, winner, caller).
type Identity [32]byte

// String returns the base58 form of the identity.
func (id Identity) String() string {
	return base58.Encode(id[:])
}

// IsZero reports whether the identity is all zero bytes.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseIdentity decodes a base58 identity.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	b, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("decode identity: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("invalid identity length: expected %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Address is the deterministic location of an Auction or Bid record.
type Address [32]byte

// String returns the base58 form of the address.
func (a Address) String() string {
	return base58.Encode(a[:])
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress decodes a base58 address.
func ParseAddress(s string) (Address, error) {
	var addr Address
	b, err := base58.Decode(s)
	if err != nil {
		return addr, fmt.Errorf("decode address: %w", err)
	}
	if len(b) != len(addr) {
		return addr, fmt.Errorf("invalid address length: expected %d bytes, got %d", len(addr), len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

// Status is the lifecycle state of an auction. Finalized and Cancelled are terminal.
type Status uint8

const (
	StatusActive Status = iota
	StatusFinalized
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusFinalized:
		return "finalized"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusFinalized || s == StatusCancelled
}

// Reveal holds the fields populated by finalization. They are set together or not at all.
type Reveal struct {
	Winner         Identity `cbor:"1,keyasint" json:"winner"`
	WinningBid     uint64   `cbor:"2,keyasint" json:"winning_bid"`
	ComputationRef string   `cbor:"3,keyasint" json:"computation_ref"`
	FinalizedAt    int64    `cbor:"4,keyasint" json:"finalized_at"`
}

// Auction is the registry entry for one sealed-bid auction.
type Auction struct {
	Address       Address  `cbor:"1,keyasint"`
	Creator       Identity `cbor:"2,keyasint"`
	ItemName      string   `cbor:"3,keyasint"`
	Description   string   `cbor:"4,keyasint"`
	MinBid        uint64   `cbor:"5,keyasint"`
	EndTime       int64    `cbor:"6,keyasint"`
	CreatedAt     int64    `cbor:"7,keyasint"`
	Status        Status   `cbor:"8,keyasint"`
	BidCount      uint64   `cbor:"9,keyasint"`
	CommitmentKey [32]byte `cbor:"10,keyasint"`

	// Reveal is nil until the auction is finalized.
	Reveal *Reveal `cbor:"11,keyasint,omitempty"`
}

// Clone returns a deep copy of the auction.
func (a *Auction) Clone() *Auction {
	c := *a
	if a.Reveal != nil {
		r := *a.Reveal
		c.Reveal = &r
	}
	return &c
}

// Bid is a sealed commitment submitted to an auction. Bids are never modified once stored.
type Bid struct {
	Address      Address  `cbor:"1,keyasint"`
	Auction      Address  `cbor:"2,keyasint"`
	Bidder       Identity `cbor:"3,keyasint"`
	Sequence     uint64   `cbor:"4,keyasint"`
	Commitment   []byte   `cbor:"5,keyasint"`
	EphemeralKey []byte   `cbor:"6,keyasint"`
	Nonce        []byte   `cbor:"7,keyasint"`
	SubmittedAt  int64    `cbor:"8,keyasint"`
}

// Clone returns a copy of the bid that shares no memory with b.
func (b *Bid) Clone() *Bid {
	c := *b
	c.Commitment = append([]byte(nil), b.Commitment...)
	c.EphemeralKey = append([]byte(nil), b.EphemeralKey...)
	c.Nonce = append([]byte(nil), b.Nonce...)
	return &c
}

const (
	// MaxItemNameLen is the maximum item name length in bytes.
	MaxItemNameLen = 64
	// MaxDescriptionLen is the maximum description length in bytes.
	MaxDescriptionLen = 256

	// DefaultCommitmentLen is the sealed ciphertext length used by the reference bid encryption scheme.
	DefaultCommitmentLen = 32
	// EphemeralKeyLen is the length of the bidder's ephemeral key-exchange public key.
	EphemeralKeyLen = 32
	// NonceLen is the length of the encryption nonce.
	NonceLen = 16
)

// Protocol holds the commitment shape parameters enforced on every bid.
type Protocol struct {
	CommitmentLen int
}

// DefaultProtocol returns the protocol parameters of the reference encryption scheme.
func DefaultProtocol() Protocol {
	return Protocol{CommitmentLen: DefaultCommitmentLen}
}

// CreateParams are the caller-supplied inputs of auction creation.
type CreateParams struct {
	ItemName      string
	Description   string
	MinBid        uint64
	EndTime       int64
	CommitmentKey [32]byte
}

// BidParams are the caller-supplied inputs of bid submission.
type BidParams struct {
	Commitment   []byte
	EphemeralKey []byte
	Nonce        []byte
}
