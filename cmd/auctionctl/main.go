package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cloudx-io/sealedbid/auctionapi"
	"github.com/cloudx-io/sealedbid/client"
	"github.com/cloudx-io/sealedbid/config"
	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/signing"
)

const cliName = "auctionctl"

var v = viper.New()

var flags = []config.Flag{
	{Name: "server", DefValue: "127.0.0.1:5000", Description: "Auction server TCP address"},
	{Name: "vsock-cid", DefValue: 0, Description: "Dial the server over vsock at this context id instead of TCP"},
	{Name: "vsock-port", DefValue: 5000, Description: "Server vsock port"},
	{Name: "key", DefValue: "auctionctl.key", Description: "Caller ed25519 private key (PEM)"},
	{Name: "timeout", DefValue: 30 * time.Second, Description: "Request timeout"},
	{Name: "decimals", DefValue: int(core.DefaultDecimals), Description: "Decimals of display amounts"},
}

var rootCmd = &cobra.Command{
	Use:          cliName,
	Short:        "auctionctl drives sealed-bid auctions on an auction server",
	SilenceUsage: true,
}

func init() {
	if err := config.ConfigureCLI(v, "AUCTIONCTL", flags, rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(
		pingCmd(),
		keygenCmd(),
		createCmd(),
		bidCmd(),
		finalizeCmd(),
		cancelCmd(),
		showCmd(),
		bidsCmd(),
		receiptCmd(),
		verifyReceiptCmd(),
		pinPCRsCmd(),
	)
}

func decimals() int32 {
	return v.GetInt32("decimals")
}

// newClient builds a client, loading the caller key only when signing is needed.
func newClient(signed bool) (*client.Client, error) {
	dial := client.TCP(v.GetString("server"))
	if cid := v.GetUint32("vsock-cid"); cid != 0 {
		dial = client.Vsock(cid, v.GetUint32("vsock-port"))
	}
	opts := []client.Option{client.WithTimeout(v.GetDuration("timeout"))}
	if signed {
		key, err := signing.LoadKeyFile(v.GetString("key"))
		if err != nil {
			return nil, fmt.Errorf("caller key: %w", err)
		}
		opts = append(opts, client.WithKey(key))
	}
	return client.New(dial, opts...), nil
}

func parseHex(name, s string, want int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if want > 0 && len(b) != want {
		return nil, fmt.Errorf("%s must be %d bytes, got %d", name, want, len(b))
	}
	return b, nil
}

// parseCommitmentKey decodes the public key bidders seal to. An all-zero key is
// rejected since nobody could seal a bid to it.
func parseCommitmentKey(s string) ([32]byte, error) {
	var key [32]byte
	b, err := parseHex("commitment-key", s, len(key))
	if err != nil {
		return key, err
	}
	copy(key[:], b)
	if key == ([32]byte{}) {
		return key, errors.New("commitment-key must not be all zeros")
	}
	return key, nil
}

// auctionOutput is the printed form of an auction.
type auctionOutput struct {
	*auctionapi.AuctionView
	MinBidDisplay     string `json:"min_bid_display"`
	WinningBidDisplay string `json:"winning_bid_display,omitempty"`
}

func renderAuction(a *core.Auction) *auctionOutput {
	out := &auctionOutput{
		AuctionView:   auctionapi.NewAuctionView(a),
		MinBidDisplay: core.FormatAmount(a.MinBid, decimals()),
	}
	if a.Reveal != nil {
		out.WinningBidDisplay = core.FormatAmount(a.Reveal.WinningBid, decimals())
	}
	return out
}

func printJSON(w io.Writer, val any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(val)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
