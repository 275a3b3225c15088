// Package lvldb is a ledger.Store persisted in goleveldb.
//
// Layout:
//
//	a/<auction address>            CBOR auction record
//	b/<bid address>                CBOR bid record
//	s/<auction address><seq u64be> bid address, so bids iterate in sequence order
package lvldb

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/fxamacker/cbor/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/ledger"
)

const defaultCacheSize = 1024

var (
	auctionPrefix = []byte("a/")
	bidPrefix     = []byte("b/")
	seqPrefix     = []byte("s/")
)

// Options tunes the store.
type Options struct {
	// CacheSize is the number of decoded auctions kept in memory. Zero uses the default.
	CacheSize int
}

// Store implements ledger.Store on a leveldb database.
type Store struct {
	db    *leveldb.DB
	cache *lru.Cache
	enc   cbor.EncMode
	dec   cbor.DecMode

	// writeMu serializes check-then-write sequences. leveldb batches are atomic
	// but do not read.
	writeMu sync.Mutex
}

var _ ledger.Store = (*Store)(nil)

// Open opens or creates a database at path.
func Open(path string, opts Options) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb at %s", path)
	}
	return newStore(db, opts)
}

// OpenMemory opens a store that lives only in memory.
func OpenMemory(opts Options) (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "open in-memory leveldb")
	}
	return newStore(db, opts)
}

func newStore(db *leveldb.DB, opts Options) (*Store, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create auction cache")
	}
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create cbor encoder")
	}
	// Item names, descriptions and computation refs are opaque bytes; decode
	// whatever the encoder accepted.
	dec, err := cbor.DecOptions{UTF8: cbor.UTF8DecodeInvalid}.DecMode()
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create cbor decoder")
	}
	return &Store{db: db, cache: cache, enc: enc, dec: dec}, nil
}

func auctionKey(addr core.Address) []byte {
	return append(append([]byte{}, auctionPrefix...), addr[:]...)
}

func bidKey(addr core.Address) []byte {
	return append(append([]byte{}, bidPrefix...), addr[:]...)
}

func seqKey(auction core.Address, seq uint64) []byte {
	key := make([]byte, 0, len(seqPrefix)+len(auction)+8)
	key = append(key, seqPrefix...)
	key = append(key, auction[:]...)
	return binary.BigEndian.AppendUint64(key, seq)
}

func (s *Store) InsertAuction(_ context.Context, a *core.Auction) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	key := auctionKey(a.Address)
	exists, err := s.db.Has(key, nil)
	if err != nil {
		return errors.Wrap(err, "check auction")
	}
	if exists {
		return core.ErrAuctionExists
	}

	data, err := s.enc.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "encode auction")
	}
	if err := s.db.Put(key, data, nil); err != nil {
		return errors.Wrap(err, "put auction")
	}
	s.cache.Add(a.Address, a.Clone())
	return nil
}

func (s *Store) Auction(_ context.Context, addr core.Address) (*core.Auction, error) {
	a, err := s.loadAuction(addr, false)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

// loadAuction returns the cached record. Callers must not modify it.
// Only writers holding writeMu may fill the cache, so it never moves backwards.
func (s *Store) loadAuction(addr core.Address, fill bool) (*core.Auction, error) {
	if v, ok := s.cache.Get(addr); ok {
		return v.(*core.Auction), nil
	}

	data, err := s.db.Get(auctionKey(addr), nil)
	if err == leveldb.ErrNotFound {
		return nil, core.ErrAuctionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get auction")
	}

	var a core.Auction
	if err := s.dec.Unmarshal(data, &a); err != nil {
		return nil, errors.Wrapf(err, "decode auction %s", addr)
	}
	if fill {
		s.cache.Add(addr, &a)
	}
	return &a, nil
}

func (s *Store) Auctions(_ context.Context, creator *core.Identity) ([]*core.Auction, error) {
	iter := s.db.NewIterator(util.BytesPrefix(auctionPrefix), nil)
	defer iter.Release()

	var out []*core.Auction
	for iter.Next() {
		var a core.Auction
		if err := s.dec.Unmarshal(iter.Value(), &a); err != nil {
			return nil, errors.Wrap(err, "decode auction")
		}
		if creator != nil && a.Creator != *creator {
			continue
		}
		out = append(out, &a)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "iterate auctions")
	}
	return out, nil
}

func (s *Store) InsertBid(_ context.Context, bid *core.Bid, updated *core.Auction) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stored, err := s.loadAuction(bid.Auction, true)
	if err != nil {
		return err
	}
	if err := ledger.CheckBidCAS(stored, bid, updated); err != nil {
		return err
	}

	key := bidKey(bid.Address)
	exists, err := s.db.Has(key, nil)
	if err != nil {
		return errors.Wrap(err, "check bid")
	}
	if exists {
		return core.Wrap(core.KindConflict, "insert bid", ledger.ErrBidExists)
	}

	bidData, err := s.enc.Marshal(bid)
	if err != nil {
		return errors.Wrap(err, "encode bid")
	}
	auctionData, err := s.enc.Marshal(updated)
	if err != nil {
		return errors.Wrap(err, "encode auction")
	}

	batch := new(leveldb.Batch)
	batch.Put(key, bidData)
	batch.Put(seqKey(bid.Auction, bid.Sequence), bid.Address[:])
	batch.Put(auctionKey(updated.Address), auctionData)
	if err := s.db.Write(batch, nil); err != nil {
		s.cache.Remove(updated.Address)
		return errors.Wrap(err, "write bid batch")
	}
	s.cache.Add(updated.Address, updated.Clone())
	return nil
}

func (s *Store) UpdateAuction(_ context.Context, updated *core.Auction) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stored, err := s.loadAuction(updated.Address, true)
	if err != nil {
		return err
	}
	if err := ledger.CheckUpdateCAS(stored, updated); err != nil {
		return err
	}

	data, err := s.enc.Marshal(updated)
	if err != nil {
		return errors.Wrap(err, "encode auction")
	}
	if err := s.db.Put(auctionKey(updated.Address), data, nil); err != nil {
		s.cache.Remove(updated.Address)
		return errors.Wrap(err, "put auction")
	}
	s.cache.Add(updated.Address, updated.Clone())
	return nil
}

func (s *Store) Bid(_ context.Context, addr core.Address) (*core.Bid, error) {
	data, err := s.db.Get(bidKey(addr), nil)
	if err == leveldb.ErrNotFound {
		return nil, core.ErrBidNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get bid")
	}

	var b core.Bid
	if err := s.dec.Unmarshal(data, &b); err != nil {
		return nil, errors.Wrapf(err, "decode bid %s", addr)
	}
	return &b, nil
}

func (s *Store) Bids(ctx context.Context, auction core.Address) ([]*core.Bid, error) {
	if _, err := s.loadAuction(auction, false); err != nil {
		return nil, err
	}

	prefix := append(append([]byte{}, seqPrefix...), auction[:]...)
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var out []*core.Bid
	for iter.Next() {
		var addr core.Address
		if len(iter.Value()) != len(addr) {
			return nil, errors.Errorf("corrupt bid index entry %x", iter.Key())
		}
		copy(addr[:], iter.Value())
		b, err := s.Bid(ctx, addr)
		if err != nil {
			return nil, errors.WithMessagef(err, "bid index for %s", auction)
		}
		out = append(out, b)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "iterate bids")
	}
	return out, nil
}

func (s *Store) Close() error {
	return errors.Wrap(s.db.Close(), "close leveldb")
}
