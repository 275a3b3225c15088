package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedbid/auctionapi"
	"github.com/cloudx-io/sealedbid/controller"
	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/httpapi"
	"github.com/cloudx-io/sealedbid/ledger/memstore"
	"github.com/cloudx-io/sealedbid/metrics"
	"github.com/cloudx-io/sealedbid/receipt"
	"github.com/cloudx-io/sealedbid/signing"
	"github.com/cloudx-io/sealedbid/validation"
)

var start = time.Unix(1_700_000_000, 0)

type env struct {
	ts      *httptest.Server
	ctl     *controller.Controller
	clock   *controller.ManualClock
	node    *signing.KeyManager
	creator core.Identity
	bidder  core.Identity
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := controller.NewManualClock(start)
	m := metrics.New()
	ctl := controller.New(memstore.New(), controller.WithClock(clock), controller.WithMetrics(m))
	node, err := signing.NewKeyManager()
	assert.NoError(t, err)

	api := httpapi.New(ctl,
		httpapi.WithClock(clock),
		httpapi.WithMetrics(m),
		httpapi.WithIssuer(receipt.NewKeyIssuer(node)),
		httpapi.WithDecimals(2),
	)
	ts := httptest.NewServer(api.Handler())
	t.Cleanup(ts.Close)

	var creator, bidder core.Identity
	creator[0], bidder[0] = 1, 2
	return &env{ts: ts, ctl: ctl, clock: clock, node: node, creator: creator, bidder: bidder}
}

func (e *env) createAuction(t *testing.T, name string) *core.Auction {
	t.Helper()
	a, err := e.ctl.CreateAuction(context.Background(), e.creator, core.CreateParams{
		ItemName: name,
		MinBid:   1250,
		EndTime:  start.Unix() + 60,
	})
	assert.NoError(t, err)
	return a
}

func (e *env) bid(t *testing.T, addr core.Address) *core.Bid {
	t.Helper()
	b, err := e.ctl.SubmitBid(context.Background(), e.bidder, addr, core.BidParams{
		Commitment:   bytes.Repeat([]byte{1}, core.DefaultCommitmentLen),
		EphemeralKey: bytes.Repeat([]byte{2}, core.EphemeralKeyLen),
		Nonce:        bytes.Repeat([]byte{3}, core.NonceLen),
	})
	assert.NoError(t, err)
	return b
}

func httpGet(t *testing.T, url string) (int, []byte) {
	t.Helper()
	res, err := http.Get(url)
	assert.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	assert.NoError(t, err)
	return res.StatusCode, body
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	status, body := httpGet(t, e.ts.URL+"/health")
	check.Equal(t, http.StatusOK, status)
	check.True(t, strings.Contains(string(body), `"status":"ok"`))
}

func TestAuctionEndpoints(t *testing.T) {
	e := newEnv(t)
	a := e.createAuction(t, "lamp")
	e.createAuction(t, "rug")
	b := e.bid(t, a.Address)

	status, body := httpGet(t, e.ts.URL+"/auctions/"+a.Address.String())
	assert.Equal(t, http.StatusOK, status)
	var got map[string]any
	assert.NoError(t, json.Unmarshal(body, &got))
	check.Equal(t, a.Address.String(), got["address"].(string))
	check.Equal(t, "12.5", got["min_bid_display"].(string))
	check.Equal(t, "active", got["status"].(string))
	check.Equal(t, 1.0, got["bid_count"].(float64))

	status, body = httpGet(t, e.ts.URL+"/auctions?creator="+e.creator.String())
	assert.Equal(t, http.StatusOK, status)
	var list []map[string]any
	assert.NoError(t, json.Unmarshal(body, &list))
	check.Equal(t, 2, len(list))

	var stranger core.Identity
	stranger[0] = 9
	status, body = httpGet(t, e.ts.URL+"/auctions?creator="+stranger.String())
	assert.Equal(t, http.StatusOK, status)
	assert.NoError(t, json.Unmarshal(body, &list))
	check.Equal(t, 0, len(list))

	status, body = httpGet(t, e.ts.URL+"/auctions/"+a.Address.String()+"/bids")
	assert.Equal(t, http.StatusOK, status)
	var bids []auctionapi.BidView
	assert.NoError(t, json.Unmarshal(body, &bids))
	assert.Equal(t, 1, len(bids))
	check.Equal(t, b, bids[0].Record())

	status, body = httpGet(t, e.ts.URL+"/bids/"+b.Address.String())
	assert.Equal(t, http.StatusOK, status)
	var one auctionapi.BidView
	assert.NoError(t, json.Unmarshal(body, &one))
	check.Equal(t, b, one.Record())
}

func TestErrors(t *testing.T) {
	e := newEnv(t)
	a := e.createAuction(t, "lamp")

	var missing core.Address
	missing[0] = 7

	tests := []struct {
		name   string
		path   string
		status int
		kind   string
	}{
		{name: "bad address", path: "/auctions/not-base58!", status: http.StatusBadRequest, kind: "unknown"},
		{name: "bad creator", path: "/auctions?creator=0OIl", status: http.StatusBadRequest, kind: "unknown"},
		{name: "missing auction", path: "/auctions/" + missing.String(), status: http.StatusNotFound, kind: "auction_not_found"},
		{name: "missing auction bids", path: "/auctions/" + missing.String() + "/bids", status: http.StatusNotFound, kind: "auction_not_found"},
		{name: "missing bid", path: "/bids/" + missing.String(), status: http.StatusNotFound, kind: "bid_not_found"},
		{name: "receipt before finalization", path: "/auctions/" + a.Address.String() + "/receipt", status: http.StatusConflict, kind: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := httpGet(t, e.ts.URL+tt.path)
			check.Equal(t, tt.status, status)
			var wire auctionapi.Error
			assert.NoError(t, json.Unmarshal(body, &wire))
			check.Equal(t, tt.kind, wire.Kind)
		})
	}
}

func TestReceipt(t *testing.T) {
	e := newEnv(t)
	a := e.createAuction(t, "lamp")
	e.bid(t, a.Address)

	e.clock.Advance(time.Hour)
	final, err := e.ctl.FinalizeAuction(context.Background(), e.creator, a.Address, e.bidder, 2000, "mpc-7")
	assert.NoError(t, err)

	status, body := httpGet(t, e.ts.URL+"/auctions/"+a.Address.String())
	assert.Equal(t, http.StatusOK, status)
	check.True(t, strings.Contains(string(body), `"winning_bid_display":"20"`))

	status, body = httpGet(t, e.ts.URL+"/auctions/"+a.Address.String()+"/receipt")
	assert.Equal(t, http.StatusOK, status)
	var doc httpapi.Receipt
	assert.NoError(t, json.Unmarshal(body, &doc))
	check.Equal(t, receipt.KindSigned, doc.Kind)
	check.Equal(t, a.Address, doc.Auction)

	r, err := validation.VerifySignedReceipt(doc.Receipt, e.node.PublicKey)
	assert.NoError(t, err)
	check.NoError(t, validation.MatchAuction(r, final))
	check.Equal(t, e.clock.Now().Unix(), r.IssuedAt)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)
	e.createAuction(t, "lamp")

	status, body := httpGet(t, e.ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	check.True(t, strings.Contains(string(body), `sealedbid_operations_total{op="create"} 1`))
	check.True(t, strings.Contains(string(body), "sealedbid_active_auctions 1"))
}

func TestMountUnderPrefix(t *testing.T) {
	e := newEnv(t)
	a := e.createAuction(t, "lamp")

	router := mux.NewRouter()
	httpapi.New(e.ctl).Mount(router, "/ledger")
	ts := httptest.NewServer(router)
	defer ts.Close()

	status, _ := httpGet(t, ts.URL+"/ledger/auctions/"+a.Address.String())
	check.Equal(t, http.StatusOK, status)
	status, _ = httpGet(t, ts.URL+"/ledger/auctions/"+a.Address.String()+"/receipt")
	check.Equal(t, http.StatusNotFound, status)
}
