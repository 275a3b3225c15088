// Package storetest holds the behaviour every ledger.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/ledger"
)

const now int64 = 1_700_000_000

// Run exercises a fresh store from newStore for each subtest.
func Run(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s ledger.Store)
	}{
		{"InsertAuctionIsCreateIfAbsent", testInsertAuction},
		{"AuctionNotFound", testNotFound},
		{"InsertBidAdvancesCount", testInsertBid},
		{"InsertBidRejectsStaleSequence", testStaleBid},
		{"UpdateAuctionCompareAndSet", testUpdateAuction},
		{"BidsAfterTerminalRejected", testBidAfterTerminal},
		{"ListAuctionsByCreator", testAuctionsByCreator},
		{"ReturnedRecordsAreCopies", testCopies},
		{"ConcurrentBidsSerialize", testConcurrentBids},
		{"OpaqueTextRoundTrips", testOpaqueText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func identity(b byte) core.Identity {
	var id core.Identity
	id[0] = b
	id[31] = b
	return id
}

func newAuction(t *testing.T, creator core.Identity, name string) *core.Auction {
	t.Helper()
	a, err := core.NewAuction(creator, core.CreateParams{
		ItemName: name,
		MinBid:   100,
		EndTime:  now + 3600,
	}, now)
	assert.NoError(t, err)
	return a
}

func bidParams(seed byte) core.BidParams {
	p := core.BidParams{
		Commitment:   make([]byte, core.DefaultCommitmentLen),
		EphemeralKey: make([]byte, core.EphemeralKeyLen),
		Nonce:        make([]byte, core.NonceLen),
	}
	p.Commitment[0] = seed
	return p
}

func placeBid(t *testing.T, s ledger.Store, addr core.Address, bidder core.Identity) (*core.Bid, error) {
	t.Helper()
	ctx := context.Background()
	a, err := s.Auction(ctx, addr)
	if err != nil {
		return nil, err
	}
	next, bid, err := a.PlaceBid(bidder, bidParams(bidder[0]), core.DefaultProtocol(), now)
	if err != nil {
		return nil, err
	}
	return bid, s.InsertBid(ctx, bid, next)
}

func testInsertAuction(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	a := newAuction(t, identity(1), "lamp")

	assert.NoError(t, s.InsertAuction(ctx, a))
	err := s.InsertAuction(ctx, newAuction(t, identity(1), "lamp"))
	check.True(t, errors.Is(err, core.ErrAuctionExists))

	got, err := s.Auction(ctx, a.Address)
	assert.NoError(t, err)
	check.Equal(t, a, got)
}

func testNotFound(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	missing := core.AuctionAddress(identity(9), "nothing")

	_, err := s.Auction(ctx, missing)
	check.True(t, errors.Is(err, core.ErrAuctionNotFound))
	_, err = s.Bids(ctx, missing)
	check.True(t, errors.Is(err, core.ErrAuctionNotFound))
	_, err = s.Bid(ctx, core.BidAddress(missing, identity(1), 0))
	check.True(t, errors.Is(err, core.ErrBidNotFound))
}

func testInsertBid(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	a := newAuction(t, identity(1), "lamp")
	assert.NoError(t, s.InsertAuction(ctx, a))

	var placed []*core.Bid
	for i := byte(2); i < 5; i++ {
		bid, err := placeBid(t, s, a.Address, identity(i))
		assert.NoError(t, err)
		placed = append(placed, bid)
	}

	got, err := s.Auction(ctx, a.Address)
	assert.NoError(t, err)
	check.Equal(t, uint64(3), got.BidCount)

	bids, err := s.Bids(ctx, a.Address)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(bids))
	for i, b := range bids {
		check.Equal(t, uint64(i), b.Sequence)
		check.Equal(t, placed[i], b)
	}

	one, err := s.Bid(ctx, placed[1].Address)
	assert.NoError(t, err)
	check.Equal(t, placed[1], one)
}

func testStaleBid(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	a := newAuction(t, identity(1), "lamp")
	assert.NoError(t, s.InsertAuction(ctx, a))

	// Two writers derive from the same snapshot; only the first may land.
	next1, bid1, err := a.PlaceBid(identity(2), bidParams(2), core.DefaultProtocol(), now)
	assert.NoError(t, err)
	next2, bid2, err := a.PlaceBid(identity(3), bidParams(3), core.DefaultProtocol(), now)
	assert.NoError(t, err)

	assert.NoError(t, s.InsertBid(ctx, bid1, next1))
	err = s.InsertBid(ctx, bid2, next2)
	check.True(t, errors.Is(err, core.ErrConflict))

	_, err = s.Bid(ctx, bid2.Address)
	check.True(t, errors.Is(err, core.ErrBidNotFound))
	got, err := s.Auction(ctx, a.Address)
	assert.NoError(t, err)
	check.Equal(t, uint64(1), got.BidCount)
}

func testUpdateAuction(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	creator := identity(1)
	a := newAuction(t, creator, "lamp")
	assert.NoError(t, s.InsertAuction(ctx, a))

	// A finalization computed before a bid landed must not overwrite the new count.
	stale, err := a.Finalize(creator, identity(2), 150, "ref", a.EndTime)
	assert.NoError(t, err)
	_, err = placeBid(t, s, a.Address, identity(2))
	assert.NoError(t, err)
	err = s.UpdateAuction(ctx, stale)
	check.True(t, errors.Is(err, core.ErrConflict))

	current, err := s.Auction(ctx, a.Address)
	assert.NoError(t, err)
	final, err := current.Finalize(creator, identity(2), 150, "ref", a.EndTime)
	assert.NoError(t, err)
	assert.NoError(t, s.UpdateAuction(ctx, final))

	// Terminal records cannot be replaced.
	err = s.UpdateAuction(ctx, final)
	check.True(t, errors.Is(err, core.ErrConflict))

	got, err := s.Auction(ctx, a.Address)
	assert.NoError(t, err)
	check.Equal(t, final, got)

	// A non-terminal replacement is never accepted.
	other := newAuction(t, creator, "chair")
	assert.NoError(t, s.InsertAuction(ctx, other))
	err = s.UpdateAuction(ctx, other)
	check.True(t, errors.Is(err, core.ErrConflict))
}

func testBidAfterTerminal(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	creator := identity(1)
	a := newAuction(t, creator, "lamp")
	assert.NoError(t, s.InsertAuction(ctx, a))

	next, bid, err := a.PlaceBid(identity(2), bidParams(2), core.DefaultProtocol(), now)
	assert.NoError(t, err)
	cancelled, err := a.Cancel(creator)
	assert.NoError(t, err)
	assert.NoError(t, s.UpdateAuction(ctx, cancelled))

	err = s.InsertBid(ctx, bid, next)
	check.True(t, errors.Is(err, core.ErrConflict))

	got, err := s.Auction(ctx, a.Address)
	assert.NoError(t, err)
	check.Equal(t, core.StatusCancelled, got.Status)
	check.Equal(t, uint64(0), got.BidCount)
}

func testAuctionsByCreator(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	alice, bob := identity(1), identity(2)
	for _, name := range []string{"a", "b", "c"} {
		assert.NoError(t, s.InsertAuction(ctx, newAuction(t, alice, name)))
	}
	assert.NoError(t, s.InsertAuction(ctx, newAuction(t, bob, "a")))

	all, err := s.Auctions(ctx, nil)
	assert.NoError(t, err)
	check.Equal(t, 4, len(all))

	mine, err := s.Auctions(ctx, &alice)
	assert.NoError(t, err)
	check.Equal(t, 3, len(mine))
	for _, a := range mine {
		check.Equal(t, alice, a.Creator)
	}
}

func testCopies(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	a := newAuction(t, identity(1), "lamp")
	assert.NoError(t, s.InsertAuction(ctx, a))
	bid, err := placeBid(t, s, a.Address, identity(2))
	assert.NoError(t, err)

	got, err := s.Auction(ctx, a.Address)
	assert.NoError(t, err)
	got.Status = core.StatusCancelled
	got.BidCount = 99

	gotBid, err := s.Bid(ctx, bid.Address)
	assert.NoError(t, err)
	gotBid.Commitment[0] = 0xee

	again, err := s.Auction(ctx, a.Address)
	assert.NoError(t, err)
	check.Equal(t, core.StatusActive, again.Status)
	check.Equal(t, uint64(1), again.BidCount)

	againBid, err := s.Bid(ctx, bid.Address)
	assert.NoError(t, err)
	check.Equal(t, bid.Commitment[0], againBid.Commitment[0])
}

// Without any outside lock, concurrent read-modify-write cycles either land or get ErrConflict,
// and the count always equals the number of stored bids.
func testConcurrentBids(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	a := newAuction(t, identity(1), "lamp")
	assert.NoError(t, s.InsertAuction(ctx, a))

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	landed := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := placeBid(t, s, a.Address, identity(byte(10+i)))
			if err == nil {
				mu.Lock()
				landed++
				mu.Unlock()
				return
			}
			check.True(t, errors.Is(err, core.ErrConflict))
		}(i)
	}
	wg.Wait()

	got, err := s.Auction(ctx, a.Address)
	assert.NoError(t, err)
	bids, err := s.Bids(ctx, a.Address)
	assert.NoError(t, err)
	check.Equal(t, uint64(landed), got.BidCount)
	check.Equal(t, landed, len(bids))
	check.True(t, landed >= 1)
}

// Item names, descriptions and computation refs are bytes, not necessarily UTF-8.
func testOpaqueText(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	creator := identity(1)
	a, err := core.NewAuction(creator, core.CreateParams{
		ItemName:    "\xff\xfe",
		Description: "lot \xc3\x28",
		MinBid:      100,
		EndTime:     now + 3600,
	}, now)
	assert.NoError(t, err)
	assert.NoError(t, s.InsertAuction(ctx, a))

	final, err := a.Finalize(creator, identity(2), 150, "\xfe\xed-ref", a.EndTime)
	assert.NoError(t, err)
	assert.NoError(t, s.UpdateAuction(ctx, final))

	// Push the record out of any small cache so the next read decodes it.
	assert.NoError(t, s.InsertAuction(ctx, newAuction(t, creator, "filler")))

	got, err := s.Auction(ctx, a.Address)
	assert.NoError(t, err)
	check.Equal(t, final, got)

	all, err := s.Auctions(ctx, nil)
	assert.NoError(t, err)
	check.Equal(t, 2, len(all))
}
