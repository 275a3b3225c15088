package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/sealedbid/auctionapi"
	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/receipt"
	"github.com/cloudx-io/sealedbid/signing"
)

// requestError is a failure attributable to the request itself rather than to a
// lifecycle rule. It carries the transport code to report.
type requestError struct {
	code core.Code
	err  error
}

func newRequestError(err error) *requestError {
	return &requestError{code: core.CodeInvalidArgument, err: err}
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

var errReceiptsDisabled = errors.New("receipts are not enabled on this server")

func (s *Server) handle(ctx context.Context, req *auctionapi.Request) *auctionapi.Response {
	start := time.Now()

	resp, err := s.dispatch(ctx, req)
	if err != nil {
		resp = s.failure(req, err)
	} else {
		resp.Type = responseType(req.Type)
		resp.RequestID = uuid.NewString()
		resp.Success = true
	}

	elapsed := time.Since(start)
	s.metrics.Request(req.Type, resp.Success, elapsed.Seconds())
	s.log.Info("request handled",
		"type", req.Type,
		"request_id", resp.RequestID,
		"success", resp.Success,
		"duration", elapsed,
	)
	return resp
}

func responseType(reqType string) string {
	if reqType == auctionapi.TypePing {
		return "pong"
	}
	return reqType
}

// failure builds the error response for err. Lifecycle errors report their own kind
// and code; request errors report theirs; anything else is INTERNAL.
func (s *Server) failure(req *auctionapi.Request, err error) *auctionapi.Response {
	code := core.CodeInternal
	var re *requestError
	if errors.As(err, &re) {
		code = re.code
	}
	wire := auctionapi.NewError(err, code)
	if wire.Code == core.CodeInternal {
		s.log.Error("request failed", "type", req.Type, "err", err)
	}
	return &auctionapi.Response{
		Type:      "error",
		RequestID: uuid.NewString(),
		Success:   false,
		Error:     wire,
	}
}

func (s *Server) dispatch(ctx context.Context, req *auctionapi.Request) (*auctionapi.Response, error) {
	switch req.Type {
	case auctionapi.TypePing:
		return &auctionapi.Response{
			Message:   "auction server is healthy",
			Timestamp: s.clock.Now().Unix(),
		}, nil
	case auctionapi.TypeSigned:
		return s.handleSigned(ctx, req)
	case auctionapi.TypeGetAuction:
		return s.handleGetAuction(ctx, req)
	case auctionapi.TypeGetBid:
		return s.handleGetBid(ctx, req)
	case auctionapi.TypeListBids:
		return s.handleListBids(ctx, req)
	case auctionapi.TypeGetReceipt:
		return s.handleGetReceipt(ctx, req)
	default:
		return nil, newRequestError(fmt.Errorf("unknown request type: %s", req.Type))
	}
}

func (s *Server) handleSigned(ctx context.Context, req *auctionapi.Request) (*auctionapi.Response, error) {
	if len(req.Envelope) == 0 {
		return nil, newRequestError(errors.New("signed request without envelope"))
	}

	signer, payload, err := signing.Open(req.Envelope)
	if err != nil {
		if errors.Is(err, signing.ErrBadSignature) {
			return nil, &requestError{code: core.CodePermissionDenied, err: err}
		}
		return nil, newRequestError(err)
	}

	in, err := auctionapi.ParseInstruction(payload)
	if err != nil {
		return nil, newRequestError(err)
	}

	if err := s.replay.Check(signer, payload, in.IssuedAt); err != nil {
		if errors.Is(err, ErrReplayedInstruction) {
			return nil, &requestError{code: core.CodeAlreadyExists, err: err}
		}
		return nil, newRequestError(err)
	}

	resp, err := s.apply(ctx, signer, in)
	if err != nil {
		// Infrastructure failures leave the instruction retryable; rule violations do not.
		if core.KindOf(err) == core.KindUnknown {
			s.replay.Forget(signer, payload)
		}
		return nil, err
	}
	resp.Signer = &signer
	return resp, nil
}

func (s *Server) apply(ctx context.Context, signer core.Identity, in *auctionapi.Instruction) (*auctionapi.Response, error) {
	switch in.Op {
	case auctionapi.OpCreateAuction:
		a, err := s.ctl.CreateAuction(ctx, signer, in.Create.CreateParams())
		if err != nil {
			return nil, err
		}
		return &auctionapi.Response{Auction: auctionapi.NewAuctionView(a)}, nil

	case auctionapi.OpSubmitBid:
		bid, err := s.ctl.SubmitBid(ctx, signer, in.Bid.Auction, in.Bid.BidParams())
		if err != nil {
			return nil, err
		}
		return &auctionapi.Response{Bid: auctionapi.NewBidView(bid)}, nil

	case auctionapi.OpFinalizeAuction:
		args := in.Finalize
		a, err := s.ctl.FinalizeAuction(ctx, signer, args.Auction, args.Winner, args.WinningBid, args.ComputationRef)
		if err != nil {
			return nil, err
		}
		return &auctionapi.Response{Auction: auctionapi.NewAuctionView(a)}, nil

	case auctionapi.OpCancelAuction:
		a, err := s.ctl.CancelAuction(ctx, signer, in.Cancel.Auction)
		if err != nil {
			return nil, err
		}
		return &auctionapi.Response{Auction: auctionapi.NewAuctionView(a)}, nil

	default:
		return nil, newRequestError(fmt.Errorf("unknown instruction op %q", in.Op))
	}
}

func requireAddress(addr *core.Address, field string) (core.Address, error) {
	if addr == nil {
		return core.Address{}, newRequestError(fmt.Errorf("missing %s address", field))
	}
	return *addr, nil
}

func (s *Server) handleGetAuction(ctx context.Context, req *auctionapi.Request) (*auctionapi.Response, error) {
	addr, err := requireAddress(req.Auction, "auction")
	if err != nil {
		return nil, err
	}
	a, err := s.ctl.Auction(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &auctionapi.Response{Auction: auctionapi.NewAuctionView(a)}, nil
}

func (s *Server) handleGetBid(ctx context.Context, req *auctionapi.Request) (*auctionapi.Response, error) {
	addr, err := requireAddress(req.Bid, "bid")
	if err != nil {
		return nil, err
	}
	bid, err := s.ctl.Bid(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &auctionapi.Response{Bid: auctionapi.NewBidView(bid)}, nil
}

func (s *Server) handleListBids(ctx context.Context, req *auctionapi.Request) (*auctionapi.Response, error) {
	addr, err := requireAddress(req.Auction, "auction")
	if err != nil {
		return nil, err
	}
	// Listing bids of an unknown auction is an error, not an empty list.
	if _, err := s.ctl.Auction(ctx, addr); err != nil {
		return nil, err
	}
	bids, err := s.ctl.Bids(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &auctionapi.Response{Bids: auctionapi.NewBidViews(bids)}, nil
}

func (s *Server) handleGetReceipt(ctx context.Context, req *auctionapi.Request) (*auctionapi.Response, error) {
	if s.issuer == nil {
		return nil, &requestError{code: core.CodeFailedPrecondition, err: errReceiptsDisabled}
	}
	addr, err := requireAddress(req.Auction, "auction")
	if err != nil {
		return nil, err
	}
	a, err := s.ctl.Auction(ctx, addr)
	if err != nil {
		return nil, err
	}

	r, err := receipt.FromAuction(a, s.clock.Now().Unix())
	if err != nil {
		return nil, &requestError{code: core.CodeFailedPrecondition, err: err}
	}
	doc, err := s.issuer.Issue(r)
	if err != nil {
		return nil, fmt.Errorf("issue receipt: %w", err)
	}

	return &auctionapi.Response{
		Auction:     auctionapi.NewAuctionView(a),
		Receipt:     doc,
		ReceiptKind: s.issuer.Kind(),
	}, nil
}
