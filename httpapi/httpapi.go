// Package httpapi serves a read-only JSON view of the auction ledger, plus health
// and Prometheus endpoints.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudx-io/sealedbid/auctionapi"
	"github.com/cloudx-io/sealedbid/controller"
	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/logging"
	"github.com/cloudx-io/sealedbid/metrics"
	"github.com/cloudx-io/sealedbid/receipt"
)

// Reader is the read side of the controller.
type Reader interface {
	Auction(ctx context.Context, addr core.Address) (*core.Auction, error)
	Auctions(ctx context.Context, creator *core.Identity) ([]*core.Auction, error)
	Bid(ctx context.Context, addr core.Address) (*core.Bid, error)
	Bids(ctx context.Context, auction core.Address) ([]*core.Bid, error)
}

// Auction is an auction view with amounts also rendered in display units.
type Auction struct {
	*auctionapi.AuctionView
	MinBidDisplay     string `json:"min_bid_display"`
	WinningBidDisplay string `json:"winning_bid_display,omitempty"`
}

// Receipt is the body of the receipt endpoint.
type Receipt struct {
	Auction core.Address `json:"auction"`
	Kind    string       `json:"kind"`
	Receipt []byte       `json:"receipt"`
}

// API serves the ledger over HTTP.
type API struct {
	reader   Reader
	issuer   receipt.Issuer
	metrics  *metrics.Metrics
	clock    controller.Clock
	decimals int32
	log      *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithIssuer enables the receipt endpoint.
func WithIssuer(i receipt.Issuer) Option {
	return func(a *API) { a.issuer = i }
}

// WithMetrics exposes m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *API) { a.metrics = m }
}

// WithDecimals sets the number of decimals used for display amounts.
func WithDecimals(d int32) Option {
	return func(a *API) { a.decimals = d }
}

// WithClock sets the clock used for receipt timestamps.
func WithClock(c controller.Clock) Option {
	return func(a *API) { a.clock = c }
}

// WithLogger sets the access logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.log = l }
}

// New creates the API over r.
func New(r Reader, opts ...Option) *API {
	a := &API{
		reader:   r,
		clock:    controller.SystemClock{},
		decimals: core.DefaultDecimals,
		log:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With("pkg", "httpapi")
	return a
}

// Mount registers the ledger routes under pathPrefix ("" for the root).
func (a *API) Mount(root *mux.Router, pathPrefix string) {
	sub := root
	if pathPrefix != "" {
		sub = root.PathPrefix(pathPrefix).Subrouter()
	}

	sub.Path("/auctions").Methods(http.MethodGet).HandlerFunc(WrapHandlerFunc(a.handleAuctions))
	sub.Path("/auctions/{address}").Methods(http.MethodGet).HandlerFunc(WrapHandlerFunc(a.handleAuction))
	sub.Path("/auctions/{address}/bids").Methods(http.MethodGet).HandlerFunc(WrapHandlerFunc(a.handleAuctionBids))
	sub.Path("/auctions/{address}/receipt").Methods(http.MethodGet).HandlerFunc(WrapHandlerFunc(a.handleReceipt))
	sub.Path("/bids/{address}").Methods(http.MethodGet).HandlerFunc(WrapHandlerFunc(a.handleBid))
}

// Handler returns a router with the ledger routes at the root, /health and /metrics.
func (a *API) Handler() http.Handler {
	router := mux.NewRouter()
	router.Path("/health").Methods(http.MethodGet).HandlerFunc(WrapHandlerFunc(a.handleHealth))
	if a.metrics != nil {
		router.Path("/metrics").Methods(http.MethodGet).Handler(promhttp.HandlerFor(a.metrics.Registry, promhttp.HandlerOpts{}))
	}
	a.Mount(router, "")
	router.Use(a.logRequests)
	return router
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, req)
		a.log.Debug("http request", "method", req.Method, "path", req.URL.Path, "duration", time.Since(start))
	})
}

func (a *API) view(auction *core.Auction) *Auction {
	v := &Auction{
		AuctionView:   auctionapi.NewAuctionView(auction),
		MinBidDisplay: core.FormatAmount(auction.MinBid, a.decimals),
	}
	if auction.Reveal != nil {
		v.WinningBidDisplay = core.FormatAmount(auction.Reveal.WinningBid, a.decimals)
	}
	return v
}

func addressVar(req *http.Request) (core.Address, error) {
	addr, err := core.ParseAddress(mux.Vars(req)["address"])
	if err != nil {
		return core.Address{}, badRequest(fmt.Errorf("address: %w", err))
	}
	return addr, nil
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) error {
	return WriteJSON(w, map[string]any{
		"status":    "ok",
		"timestamp": a.clock.Now().Unix(),
	})
}

func (a *API) handleAuctions(w http.ResponseWriter, req *http.Request) error {
	var creator *core.Identity
	if s := req.URL.Query().Get("creator"); s != "" {
		id, err := core.ParseIdentity(s)
		if err != nil {
			return badRequest(fmt.Errorf("creator: %w", err))
		}
		creator = &id
	}

	auctions, err := a.reader.Auctions(req.Context(), creator)
	if err != nil {
		return err
	}
	out := make([]*Auction, 0, len(auctions))
	for _, auction := range auctions {
		out = append(out, a.view(auction))
	}
	return WriteJSON(w, out)
}

func (a *API) handleAuction(w http.ResponseWriter, req *http.Request) error {
	addr, err := addressVar(req)
	if err != nil {
		return err
	}
	auction, err := a.reader.Auction(req.Context(), addr)
	if err != nil {
		return err
	}
	return WriteJSON(w, a.view(auction))
}

func (a *API) handleAuctionBids(w http.ResponseWriter, req *http.Request) error {
	addr, err := addressVar(req)
	if err != nil {
		return err
	}
	if _, err := a.reader.Auction(req.Context(), addr); err != nil {
		return err
	}
	bids, err := a.reader.Bids(req.Context(), addr)
	if err != nil {
		return err
	}
	return WriteJSON(w, auctionapi.NewBidViews(bids))
}

func (a *API) handleBid(w http.ResponseWriter, req *http.Request) error {
	addr, err := addressVar(req)
	if err != nil {
		return err
	}
	bid, err := a.reader.Bid(req.Context(), addr)
	if err != nil {
		return err
	}
	return WriteJSON(w, auctionapi.NewBidView(bid))
}

func (a *API) handleReceipt(w http.ResponseWriter, req *http.Request) error {
	if a.issuer == nil {
		return &httpError{status: http.StatusNotFound, code: core.CodeFailedPrecondition, err: errors.New("receipts are not enabled")}
	}
	addr, err := addressVar(req)
	if err != nil {
		return err
	}
	auction, err := a.reader.Auction(req.Context(), addr)
	if err != nil {
		return err
	}
	r, err := receipt.FromAuction(auction, a.clock.Now().Unix())
	if err != nil {
		return &httpError{status: http.StatusConflict, code: core.CodeFailedPrecondition, err: err}
	}
	doc, err := a.issuer.Issue(r)
	if err != nil {
		return fmt.Errorf("issue receipt: %w", err)
	}
	return WriteJSON(w, &Receipt{Auction: addr, Kind: a.issuer.Kind(), Receipt: doc})
}
