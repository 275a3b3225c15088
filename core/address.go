package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const (
	auctionSeed = "auction"
	bidSeed     = "bid"
)

// AuctionAddress derives the address of the auction a creator opens for an item.
// Formula: SHA256("auction" | creator | item_name)
//
// The creator is fixed-width, so distinct (creator, item_name) pairs never share an input.
// The same creator reusing an item name maps to the same address, which the store rejects.
func AuctionAddress(creator Identity, itemName string) Address {
	h := sha256.New()
	h.Write([]byte(auctionSeed))
	h.Write(creator[:])
	h.Write([]byte(itemName))

	var addr Address
	h.Sum(addr[:0])
	return addr
}

// BidAddress derives the address of a bidder's bid at a given sequence number of an auction.
// Formula: SHA256("bid" | auction | bidder | little_endian_u64(sequence))
//
// The sequence is the auction's bid_count at submission time, so a bidder's Nth bid
// can be located before it is submitted.
func BidAddress(auction Address, bidder Identity, sequence uint64) Address {
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], sequence)

	h := sha256.New()
	h.Write([]byte(bidSeed))
	h.Write(auction[:])
	h.Write(bidder[:])
	h.Write(seq[:])

	var addr Address
	h.Sum(addr[:0])
	return addr
}
