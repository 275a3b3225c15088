// Package memstore is an in-process ledger.Store backed by maps.
package memstore

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/ledger"
)

// Store keeps clones of every record so callers can never alias stored state.
type Store struct {
	mu       sync.RWMutex
	auctions map[core.Address]*core.Auction
	bids     map[core.Address]*core.Bid
	children map[core.Address][]core.Address // auction -> bid addresses by sequence
}

var _ ledger.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		auctions: make(map[core.Address]*core.Auction),
		bids:     make(map[core.Address]*core.Bid),
		children: make(map[core.Address][]core.Address),
	}
}

func (s *Store) InsertAuction(_ context.Context, a *core.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.auctions[a.Address]; exists {
		return core.ErrAuctionExists
	}
	s.auctions[a.Address] = a.Clone()
	return nil
}

func (s *Store) Auction(_ context.Context, addr core.Address) (*core.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auctions[addr]
	if !ok {
		return nil, core.ErrAuctionNotFound
	}
	return a.Clone(), nil
}

func (s *Store) Auctions(_ context.Context, creator *core.Identity) ([]*core.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		if creator != nil && a.Creator != *creator {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out, nil
}

func (s *Store) InsertBid(_ context.Context, bid *core.Bid, updated *core.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.auctions[bid.Auction]
	if !ok {
		return core.ErrAuctionNotFound
	}
	if err := ledger.CheckBidCAS(stored, bid, updated); err != nil {
		return err
	}
	if _, exists := s.bids[bid.Address]; exists {
		return core.Wrap(core.KindConflict, "insert bid", ledger.ErrBidExists)
	}

	s.bids[bid.Address] = bid.Clone()
	s.children[bid.Auction] = append(s.children[bid.Auction], bid.Address)
	s.auctions[updated.Address] = updated.Clone()
	return nil
}

func (s *Store) UpdateAuction(_ context.Context, updated *core.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.auctions[updated.Address]
	if !ok {
		return core.ErrAuctionNotFound
	}
	if err := ledger.CheckUpdateCAS(stored, updated); err != nil {
		return err
	}
	s.auctions[updated.Address] = updated.Clone()
	return nil
}

func (s *Store) Bid(_ context.Context, addr core.Address) (*core.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bids[addr]
	if !ok {
		return nil, core.ErrBidNotFound
	}
	return b.Clone(), nil
}

func (s *Store) Bids(_ context.Context, auction core.Address) ([]*core.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.auctions[auction]; !ok {
		return nil, core.ErrAuctionNotFound
	}
	addrs := s.children[auction]
	out := make([]*core.Bid, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, s.bids[addr].Clone())
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
