// Package auctionapi defines the wire types shared by the server, the client and the HTTP API.
package auctionapi

import (
	"errors"

	"github.com/cloudx-io/sealedbid/core"
)

// Request types. Signed requests carry an Envelope; reads carry addresses.
const (
	TypePing       = "ping"
	TypeSigned     = "signed"
	TypeGetAuction = "get_auction"
	TypeGetBid     = "get_bid"
	TypeListBids   = "list_bids"
	TypeGetReceipt = "get_receipt"
)

// Request is one JSON request on a connection.
type Request struct {
	Type string `json:"type"`

	// Envelope is a COSE_Sign1 over a CBOR Instruction (base64 in JSON).
	Envelope []byte `json:"envelope,omitempty"`

	Auction *core.Address `json:"auction,omitempty"`
	Bid     *core.Address `json:"bid,omitempty"`
}

// Error is the structured failure of a request.
type Error struct {
	Code    core.Code `json:"code"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// NewError describes err for the wire. Errors without a kind are reported as INTERNAL,
// or with fallback when the caller knows better.
func NewError(err error, fallback core.Code) *Error {
	kind := core.KindOf(err)
	code := kind.Code()
	if kind == core.KindUnknown {
		code = fallback
	}
	return &Error{Code: code, Kind: kind.String(), Message: err.Error()}
}

// Err turns a wire error back into a Go error. Kinded errors match the core sentinels with
// errors.Is; the transport code stays available through CodeOf.
func (e *Error) Err() error {
	return &RemoteError{
		Code:  e.Code,
		cause: &core.Error{Kind: core.ParseKind(e.Kind), Message: e.Message},
	}
}

// RemoteError is a failure reported by the server.
type RemoteError struct {
	Code  core.Code
	cause *core.Error
}

func (e *RemoteError) Error() string { return e.cause.Error() }

func (e *RemoteError) Unwrap() error { return e.cause }

// CodeOf returns the transport code of err: the server's code for a RemoteError, otherwise
// the code of err's kind, or INTERNAL when it has none.
func CodeOf(err error) core.Code {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Code
	}
	if kind := core.KindOf(err); kind != core.KindUnknown {
		return kind.Code()
	}
	return core.CodeInternal
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Response is the JSON reply to a Request.
type Response struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Error     *Error `json:"error,omitempty"`

	// Signer is the verified caller of a signed request.
	Signer *core.Identity `json:"signer,omitempty"`

	Auction *AuctionView `json:"auction,omitempty"`
	Bid     *BidView     `json:"bid,omitempty"`
	Bids    []BidView    `json:"bids,omitempty"`

	// Receipt is a COSE_Sign1 or attestation document (base64 in JSON).
	Receipt     []byte `json:"receipt,omitempty"`
	ReceiptKind string `json:"receipt_kind,omitempty"`

	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}
