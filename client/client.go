// Package client talks to an auction server over TCP or vsock.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/cloudx-io/sealedbid/auctionapi"
	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/signing"
)

// ErrNoResponse is returned when the server closed the connection without replying,
// which is how a server with no free workers rejects a request.
var ErrNoResponse = errors.New("server closed the connection without a response")

// ErrNoKey is returned by lifecycle calls on a client created without a signing key.
var ErrNoKey = errors.New("client has no signing key")

// Dialer opens one connection per request.
type Dialer func(ctx context.Context) (net.Conn, error)

// TCP dials address over TCP.
func TCP(address string) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", address)
	}
}

// Vsock dials the given context id and port.
func Vsock(cid, port uint32) Dialer {
	return func(context.Context) (net.Conn, error) {
		return vsock.Dial(cid, port, nil)
	}
}

// Client is safe for concurrent use.
type Client struct {
	dial    Dialer
	key     *signing.KeyManager
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithKey sets the identity that signs lifecycle instructions.
func WithKey(key *signing.KeyManager) Option {
	return func(c *Client) { c.key = key }
}

// WithTimeout bounds each request round trip.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithClock sets the clock used for instruction issue times.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a client.
func New(dial Dialer, opts ...Option) *Client {
	c := &Client{
		dial:    dial,
		timeout: 30 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends one request and decodes the response. A response with success=false is
// returned together with its error, which matches the core sentinels with errors.Is.
func (c *Client) Do(ctx context.Context, req *auctionapi.Request) (*auctionapi.Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	// The server reads until EOF.
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			return nil, fmt.Errorf("close write: %w", err)
		}
	}

	var resp auctionapi.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoResponse
		}
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !resp.Success {
		if resp.Error == nil {
			return &resp, fmt.Errorf("request %s failed without an error", resp.RequestID)
		}
		return &resp, resp.Error.Err()
	}
	return &resp, nil
}

// Ping checks that the server is up and returns its message.
func (c *Client) Ping(ctx context.Context) (string, error) {
	resp, err := c.Do(ctx, &auctionapi.Request{Type: auctionapi.TypePing})
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (c *Client) signed(ctx context.Context, in *auctionapi.Instruction) (*auctionapi.Response, error) {
	if c.key == nil {
		return nil, ErrNoKey
	}
	payload, err := in.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode instruction: %w", err)
	}
	envelope, err := c.key.Sign(payload)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, &auctionapi.Request{Type: auctionapi.TypeSigned, Envelope: envelope})
}

func (c *Client) instruction(op string) (*auctionapi.Instruction, error) {
	return auctionapi.NewInstruction(op, c.now().Unix())
}

func auctionFrom(resp *auctionapi.Response) (*core.Auction, error) {
	if resp.Auction == nil {
		return nil, fmt.Errorf("response %s carries no auction", resp.RequestID)
	}
	return resp.Auction.Record()
}

// CreateAuction opens an auction owned by the client's key.
func (c *Client) CreateAuction(ctx context.Context, p core.CreateParams) (*core.Auction, error) {
	in, err := c.instruction(auctionapi.OpCreateAuction)
	if err != nil {
		return nil, err
	}
	in.Create = &auctionapi.CreateArgs{
		ItemName:      p.ItemName,
		Description:   p.Description,
		MinBid:        p.MinBid,
		EndTime:       p.EndTime,
		CommitmentKey: p.CommitmentKey,
	}
	resp, err := c.signed(ctx, in)
	if err != nil {
		return nil, err
	}
	return auctionFrom(resp)
}

// SubmitBid places a sealed bid on auction.
func (c *Client) SubmitBid(ctx context.Context, auction core.Address, p core.BidParams) (*core.Bid, error) {
	in, err := c.instruction(auctionapi.OpSubmitBid)
	if err != nil {
		return nil, err
	}
	in.Bid = &auctionapi.BidArgs{
		Auction:      auction,
		Commitment:   p.Commitment,
		EphemeralKey: p.EphemeralKey,
		Nonce:        p.Nonce,
	}
	resp, err := c.signed(ctx, in)
	if err != nil {
		return nil, err
	}
	if resp.Bid == nil {
		return nil, fmt.Errorf("response %s carries no bid", resp.RequestID)
	}
	return resp.Bid.Record(), nil
}

// FinalizeAuction records the externally computed winner.
func (c *Client) FinalizeAuction(
	ctx context.Context,
	auction core.Address,
	winner core.Identity,
	winningBid uint64,
	computationRef string,
) (*core.Auction, error) {
	in, err := c.instruction(auctionapi.OpFinalizeAuction)
	if err != nil {
		return nil, err
	}
	in.Finalize = &auctionapi.FinalizeArgs{
		Auction:        auction,
		Winner:         winner,
		WinningBid:     winningBid,
		ComputationRef: computationRef,
	}
	resp, err := c.signed(ctx, in)
	if err != nil {
		return nil, err
	}
	return auctionFrom(resp)
}

// CancelAuction voids an auction without bids.
func (c *Client) CancelAuction(ctx context.Context, auction core.Address) (*core.Auction, error) {
	in, err := c.instruction(auctionapi.OpCancelAuction)
	if err != nil {
		return nil, err
	}
	in.Cancel = &auctionapi.CancelArgs{Auction: auction}
	resp, err := c.signed(ctx, in)
	if err != nil {
		return nil, err
	}
	return auctionFrom(resp)
}

// Auction fetches an auction record.
func (c *Client) Auction(ctx context.Context, addr core.Address) (*core.Auction, error) {
	resp, err := c.Do(ctx, &auctionapi.Request{Type: auctionapi.TypeGetAuction, Auction: &addr})
	if err != nil {
		return nil, err
	}
	return auctionFrom(resp)
}

// Bid fetches a bid record.
func (c *Client) Bid(ctx context.Context, addr core.Address) (*core.Bid, error) {
	resp, err := c.Do(ctx, &auctionapi.Request{Type: auctionapi.TypeGetBid, Bid: &addr})
	if err != nil {
		return nil, err
	}
	if resp.Bid == nil {
		return nil, fmt.Errorf("response %s carries no bid", resp.RequestID)
	}
	return resp.Bid.Record(), nil
}

// Bids lists the bids of an auction in submission order.
func (c *Client) Bids(ctx context.Context, auction core.Address) ([]*core.Bid, error) {
	resp, err := c.Do(ctx, &auctionapi.Request{Type: auctionapi.TypeListBids, Auction: &auction})
	if err != nil {
		return nil, err
	}
	bids := make([]*core.Bid, 0, len(resp.Bids))
	for i := range resp.Bids {
		bids = append(bids, resp.Bids[i].Record())
	}
	return bids, nil
}

// Receipt fetches the finalization receipt of an auction and the issuer kind
// (receipt.KindSigned or receipt.KindAttested).
func (c *Client) Receipt(ctx context.Context, auction core.Address) ([]byte, string, error) {
	resp, err := c.Do(ctx, &auctionapi.Request{Type: auctionapi.TypeGetReceipt, Auction: &auction})
	if err != nil {
		return nil, "", err
	}
	return resp.Receipt, resp.ReceiptKind, nil
}
