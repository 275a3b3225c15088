// Package controller applies the four auction lifecycle operations to a ledger.Store.
//
// Each operation loads the current record, runs the matching pure transition from core,
// and writes the result back with a compare-and-set. Writes to one auction are serialized
// by a per-address lock, so concurrent bids each observe a distinct sequence number.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/ledger"
	"github.com/cloudx-io/sealedbid/logging"
	"github.com/cloudx-io/sealedbid/metrics"
)

const (
	opCreate   = "create"
	opBid      = "bid"
	opFinalize = "finalize"
	opCancel   = "cancel"
)

// Controller is safe for concurrent use.
type Controller struct {
	store   ledger.Store
	clock   Clock
	proto   core.Protocol
	log     *slog.Logger
	metrics *metrics.Metrics
	locks   *keyedMutex
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithProtocol overrides the commitment shape parameters.
func WithProtocol(p core.Protocol) Option {
	return func(ctl *Controller) { ctl.proto = p }
}

// WithLogger sets the event logger.
func WithLogger(l *slog.Logger) Option {
	return func(ctl *Controller) { ctl.log = l }
}

// WithMetrics enables Prometheus accounting.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ctl *Controller) { ctl.metrics = m }
}

// New creates a controller over store.
func New(store ledger.Store, opts ...Option) *Controller {
	c := &Controller{
		store: store,
		clock: SystemClock{},
		proto: core.DefaultProtocol(),
		log:   logging.Discard(),
		locks: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("pkg", "controller")
	return c
}

// Protocol returns the commitment shape parameters in force.
func (c *Controller) Protocol() core.Protocol {
	return c.proto
}

func (c *Controller) now() int64 {
	return c.clock.Now().Unix()
}

// CreateAuction opens a new auction owned by creator at AuctionAddress(creator, p.ItemName).
func (c *Controller) CreateAuction(ctx context.Context, creator core.Identity, p core.CreateParams) (*core.Auction, error) {
	auction, err := core.NewAuction(creator, p, c.now())
	if err != nil {
		return nil, c.reject(opCreate, err, "creator", creator)
	}

	unlock := c.locks.Lock(auction.Address)
	defer unlock()

	if err := c.store.InsertAuction(ctx, auction); err != nil {
		return nil, c.reject(opCreate, err, "auction", auction.Address, "creator", creator)
	}

	c.accept(opCreate, "auction created",
		"auction", auction.Address,
		"creator", creator,
		"item", auction.ItemName,
		"min_bid", auction.MinBid,
		"end_time", auction.EndTime,
	)
	return auction, nil
}

// SubmitBid stores a sealed bid from bidder and advances the auction's bid_count by one.
func (c *Controller) SubmitBid(ctx context.Context, bidder core.Identity, addr core.Address, p core.BidParams) (*core.Bid, error) {
	unlock := c.locks.Lock(addr)
	defer unlock()

	auction, err := c.store.Auction(ctx, addr)
	if err != nil {
		return nil, c.reject(opBid, err, "auction", addr, "bidder", bidder)
	}

	next, bid, err := auction.PlaceBid(bidder, p, c.proto, c.now())
	if err != nil {
		return nil, c.reject(opBid, err, "auction", addr, "bidder", bidder)
	}
	if err := c.store.InsertBid(ctx, bid, next); err != nil {
		return nil, c.reject(opBid, err, "auction", addr, "bidder", bidder)
	}

	c.accept(opBid, "bid committed",
		"auction", addr,
		"bid", bid.Address,
		"bidder", bidder,
		"sequence", bid.Sequence,
	)
	return bid, nil
}

// FinalizeAuction records the winner computed outside the ledger. Only the creator may call it,
// and only once the deadline has passed.
func (c *Controller) FinalizeAuction(
	ctx context.Context,
	caller core.Identity,
	addr core.Address,
	winner core.Identity,
	winningBid uint64,
	computationRef string,
) (*core.Auction, error) {
	unlock := c.locks.Lock(addr)
	defer unlock()

	auction, err := c.store.Auction(ctx, addr)
	if err != nil {
		return nil, c.reject(opFinalize, err, "auction", addr, "caller", caller)
	}

	next, err := auction.Finalize(caller, winner, winningBid, computationRef, c.now())
	if err != nil {
		return nil, c.reject(opFinalize, err, "auction", addr, "caller", caller)
	}
	if err := c.store.UpdateAuction(ctx, next); err != nil {
		return nil, c.reject(opFinalize, err, "auction", addr, "caller", caller)
	}

	c.accept(opFinalize, "auction finalized",
		"auction", addr,
		"winner", winner,
		"winning_bid", winningBid,
		"computation_ref", computationRef,
		"bid_count", next.BidCount,
	)
	return next, nil
}

// CancelAuction voids an auction that has no bids. Only the creator may call it.
func (c *Controller) CancelAuction(ctx context.Context, caller core.Identity, addr core.Address) (*core.Auction, error) {
	unlock := c.locks.Lock(addr)
	defer unlock()

	auction, err := c.store.Auction(ctx, addr)
	if err != nil {
		return nil, c.reject(opCancel, err, "auction", addr, "caller", caller)
	}

	next, err := auction.Cancel(caller)
	if err != nil {
		return nil, c.reject(opCancel, err, "auction", addr, "caller", caller)
	}
	if err := c.store.UpdateAuction(ctx, next); err != nil {
		return nil, c.reject(opCancel, err, "auction", addr, "caller", caller)
	}

	c.accept(opCancel, "auction cancelled", "auction", addr)
	return next, nil
}

// SyncMetrics seeds the active auction gauge from the store.
func (c *Controller) SyncMetrics(ctx context.Context) error {
	auctions, err := c.store.Auctions(ctx, nil)
	if err != nil {
		return fmt.Errorf("list auctions: %w", err)
	}
	active := 0
	for _, a := range auctions {
		if a.Status == core.StatusActive {
			active++
		}
	}
	c.metrics.SetActive(active)
	return nil
}

// Auction returns the record at addr.
func (c *Controller) Auction(ctx context.Context, addr core.Address) (*core.Auction, error) {
	return c.store.Auction(ctx, addr)
}

// Auctions lists all auctions, or those of one creator when creator is non-nil.
func (c *Controller) Auctions(ctx context.Context, creator *core.Identity) ([]*core.Auction, error) {
	return c.store.Auctions(ctx, creator)
}

// Bid returns the bid at addr.
func (c *Controller) Bid(ctx context.Context, addr core.Address) (*core.Bid, error) {
	return c.store.Bid(ctx, addr)
}

// Bids lists the bids of an auction in submission order.
func (c *Controller) Bids(ctx context.Context, auction core.Address) ([]*core.Bid, error) {
	return c.store.Bids(ctx, auction)
}

func (c *Controller) accept(op, msg string, attrs ...any) {
	c.metrics.Accepted(op)
	c.log.Info(msg, attrs...)
}

// reject logs and counts a failed operation. Kinded errors are returned untouched so
// callers can match them; anything else is wrapped with the operation name.
func (c *Controller) reject(op string, err error, attrs ...any) error {
	kind := core.KindOf(err)
	c.metrics.Rejected(op, kind.String())

	var kinded *core.Error
	if errors.As(err, &kinded) {
		c.log.Debug("operation rejected", append(attrs, "op", op, "kind", kind.String(), "err", err)...)
		return err
	}
	c.log.Error("operation failed", append(attrs, "op", op, "err", err)...)
	return fmt.Errorf("%s: %w", op, err)
}
