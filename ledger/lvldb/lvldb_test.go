package lvldb

import (
	"context"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/ledger"
	"github.com/cloudx-io/sealedbid/ledger/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Store {
		s, err := OpenMemory(Options{})
		assert.NoError(t, err)
		return s
	})
}

func TestStore_TinyCache(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Store {
		s, err := OpenMemory(Options{CacheSize: 1})
		assert.NoError(t, err)
		return s
	})
}

func TestReopenFromDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	var creator, bidder core.Identity
	creator[0], bidder[0] = 1, 2

	s, err := Open(dir, Options{})
	assert.NoError(t, err)

	a, err := core.NewAuction(creator, core.CreateParams{ItemName: "clock", MinBid: 5, EndTime: 200}, 100)
	assert.NoError(t, err)
	assert.NoError(t, s.InsertAuction(ctx, a))

	next, bid, err := a.PlaceBid(bidder, core.BidParams{
		Commitment:   make([]byte, core.DefaultCommitmentLen),
		EphemeralKey: make([]byte, core.EphemeralKeyLen),
		Nonce:        make([]byte, core.NonceLen),
	}, core.DefaultProtocol(), 150)
	assert.NoError(t, err)
	assert.NoError(t, s.InsertBid(ctx, bid, next))

	final, err := next.Finalize(creator, bidder, 7, "ref-1", 200)
	assert.NoError(t, err)
	assert.NoError(t, s.UpdateAuction(ctx, final))
	assert.NoError(t, s.Close())

	s, err = Open(dir, Options{})
	assert.NoError(t, err)
	defer s.Close()

	got, err := s.Auction(ctx, a.Address)
	assert.NoError(t, err)
	check.Equal(t, final, got)

	bids, err := s.Bids(ctx, a.Address)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(bids))
	check.Equal(t, bid, bids[0])
}

func TestReopenOpaqueText(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	var creator, winner core.Identity
	creator[0], winner[0] = 1, 2

	s, err := Open(dir, Options{})
	assert.NoError(t, err)
	a, err := core.NewAuction(creator, core.CreateParams{ItemName: "\xff\xfe", MinBid: 5, EndTime: 200}, 100)
	assert.NoError(t, err)
	assert.NoError(t, s.InsertAuction(ctx, a))
	final, err := a.Finalize(creator, winner, 5, "\x80ref", 200)
	assert.NoError(t, err)
	assert.NoError(t, s.UpdateAuction(ctx, final))
	assert.NoError(t, s.Close())

	s, err = Open(dir, Options{})
	assert.NoError(t, err)
	defer s.Close()

	got, err := s.Auction(ctx, a.Address)
	assert.NoError(t, err)
	check.Equal(t, "\xff\xfe", got.ItemName)
	check.Equal(t, "\x80ref", got.Reveal.ComputationRef)

	all, err := s.Auctions(ctx, nil)
	assert.NoError(t, err)
	check.Equal(t, 1, len(all))
}
