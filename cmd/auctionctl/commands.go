package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudx-io/sealedbid/auctionapi"
	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/receipt"
	"github.com/cloudx-io/sealedbid/signing"
	"github.com/cloudx-io/sealedbid/validation"
)

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the server is up",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cl, err := newClient(false)
			if err != nil {
				return err
			}
			msg, err := cl.Ping(c.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(c.OutOrStdout(), msg)
			return nil
		},
	}
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate the caller key named by --key and print its identity",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			key, err := signing.NewKeyManager()
			if err != nil {
				return err
			}
			path := v.GetString("key")
			if err := key.SaveKeyFile(path); err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "wrote %s\nidentity: %s\n", path, key.Identity())
			return nil
		},
	}
}

func createCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <item-name>",
		Short: "Create an auction owned by the caller key",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			description, _ := c.Flags().GetString("description")
			minBidStr, _ := c.Flags().GetString("min-bid")
			duration, _ := c.Flags().GetDuration("duration")
			endTime, _ := c.Flags().GetInt64("end-time")
			keyHex, _ := c.Flags().GetString("commitment-key")

			minBid, err := core.ParseAmount(minBidStr, decimals())
			if err != nil {
				return err
			}
			if endTime == 0 {
				endTime = time.Now().Add(duration).Unix()
			}
			commitmentKey, err := parseCommitmentKey(keyHex)
			if err != nil {
				return err
			}
			p := core.CreateParams{
				ItemName:      args[0],
				Description:   description,
				MinBid:        minBid,
				EndTime:       endTime,
				CommitmentKey: commitmentKey,
			}

			cl, err := newClient(true)
			if err != nil {
				return err
			}
			a, err := cl.CreateAuction(c.Context(), p)
			if err != nil {
				return err
			}
			return printJSON(c.OutOrStdout(), renderAuction(a))
		},
	}
	cmd.Flags().String("description", "", "Item description")
	cmd.Flags().String("min-bid", "", "Minimum bid in display units")
	cmd.Flags().Duration("duration", time.Hour, "Bidding period from now")
	cmd.Flags().Int64("end-time", 0, "Bidding deadline as unix seconds; overrides --duration")
	cmd.Flags().String("commitment-key", "", "Hex public key bidders seal their bids to (32 bytes)")
	for _, name := range []string{"min-bid", "commitment-key"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func bidCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bid <auction>",
		Short: "Submit a sealed bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			addr, err := core.ParseAddress(args[0])
			if err != nil {
				return err
			}
			commitmentHex, _ := c.Flags().GetString("commitment")
			ephemeralHex, _ := c.Flags().GetString("ephemeral-key")
			nonceHex, _ := c.Flags().GetString("nonce")

			// Lengths are checked by the server against its protocol parameters.
			commitment, err := parseHex("commitment", commitmentHex, 0)
			if err != nil {
				return err
			}
			ephemeral, err := parseHex("ephemeral-key", ephemeralHex, 0)
			if err != nil {
				return err
			}
			nonce, err := parseHex("nonce", nonceHex, 0)
			if err != nil {
				return err
			}

			cl, err := newClient(true)
			if err != nil {
				return err
			}
			bid, err := cl.SubmitBid(c.Context(), addr, core.BidParams{
				Commitment:   commitment,
				EphemeralKey: ephemeral,
				Nonce:        nonce,
			})
			if err != nil {
				return err
			}
			return printJSON(c.OutOrStdout(), auctionapi.NewBidView(bid))
		},
	}
	cmd.Flags().String("commitment", "", "Hex sealed bid ciphertext")
	cmd.Flags().String("ephemeral-key", "", "Hex ephemeral key-exchange public key")
	cmd.Flags().String("nonce", "", "Hex encryption nonce")
	for _, name := range []string{"commitment", "ephemeral-key", "nonce"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func finalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finalize <auction>",
		Short: "Record the winner of an ended auction",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			addr, err := core.ParseAddress(args[0])
			if err != nil {
				return err
			}
			winnerStr, _ := c.Flags().GetString("winner")
			amountStr, _ := c.Flags().GetString("winning-bid")
			ref, _ := c.Flags().GetString("computation-ref")

			winner, err := core.ParseIdentity(winnerStr)
			if err != nil {
				return err
			}
			amount, err := core.ParseAmount(amountStr, decimals())
			if err != nil {
				return err
			}

			cl, err := newClient(true)
			if err != nil {
				return err
			}
			a, err := cl.FinalizeAuction(c.Context(), addr, winner, amount, ref)
			if err != nil {
				return err
			}
			return printJSON(c.OutOrStdout(), renderAuction(a))
		},
	}
	cmd.Flags().String("winner", "", "Winner identity (base58)")
	cmd.Flags().String("winning-bid", "", "Winning bid in display units")
	cmd.Flags().String("computation-ref", "", "Reference to the off-ledger winner computation")
	for _, name := range []string{"winner", "winning-bid", "computation-ref"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <auction>",
		Short: "Cancel an auction that has no bids",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			addr, err := core.ParseAddress(args[0])
			if err != nil {
				return err
			}
			cl, err := newClient(true)
			if err != nil {
				return err
			}
			a, err := cl.CancelAuction(c.Context(), addr)
			if err != nil {
				return err
			}
			return printJSON(c.OutOrStdout(), renderAuction(a))
		},
	}
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <auction>",
		Short: "Show an auction",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			addr, err := core.ParseAddress(args[0])
			if err != nil {
				return err
			}
			cl, err := newClient(false)
			if err != nil {
				return err
			}
			a, err := cl.Auction(c.Context(), addr)
			if err != nil {
				return err
			}
			return printJSON(c.OutOrStdout(), renderAuction(a))
		},
	}
}

func bidsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bids <auction>",
		Short: "List the bids of an auction in submission order",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			addr, err := core.ParseAddress(args[0])
			if err != nil {
				return err
			}
			cl, err := newClient(false)
			if err != nil {
				return err
			}
			bids, err := cl.Bids(c.Context(), addr)
			if err != nil {
				return err
			}
			return printJSON(c.OutOrStdout(), auctionapi.NewBidViews(bids))
		},
	}
}

func receiptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipt <auction>",
		Short: "Fetch the finalization receipt of an auction",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			addr, err := core.ParseAddress(args[0])
			if err != nil {
				return err
			}
			out, _ := c.Flags().GetString("out")

			cl, err := newClient(false)
			if err != nil {
				return err
			}
			doc, kind, err := cl.Receipt(c.Context(), addr)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, doc, 0o644); err != nil {
				return fmt.Errorf("write receipt: %w", err)
			}
			fmt.Fprintf(c.OutOrStdout(), "wrote %s receipt to %s (%d bytes)\n", kind, out, len(doc))
			return nil
		},
	}
	cmd.Flags().String("out", "receipt.cbor", "Output file")
	return cmd
}

func verifyReceiptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify-receipt <file>",
		Short: "Verify a receipt and optionally compare it with the server's record",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			doc, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			kind, _ := c.Flags().GetString("kind")
			nodeKeyPath, _ := c.Flags().GetString("node-key")
			pcrPath, _ := c.Flags().GetString("pcrs")
			check, _ := c.Flags().GetBool("check-server")
			w := c.OutOrStdout()

			var r *receipt.Receipt
			switch kind {
			case receipt.KindSigned:
				pemData, err := os.ReadFile(nodeKeyPath)
				if err != nil {
					return fmt.Errorf("node key: %w", err)
				}
				pub, err := signing.ParsePublicKeyPEM(pemData)
				if err != nil {
					return err
				}
				r, err = validation.VerifySignedReceipt(doc, pub)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "signature valid")

			case receipt.KindAttested:
				pcrs, err := validation.LoadPCRsFromFile(pcrPath)
				if err != nil {
					return err
				}
				result, parsed, err := validation.ValidateAttestedReceipt(doc, pcrs)
				if err != nil {
					return err
				}
				for _, line := range result.ValidationDetails {
					fmt.Fprintln(w, line)
				}
				if !result.IsValid() {
					return errors.New("attestation is not valid")
				}
				r = parsed

			default:
				return fmt.Errorf("unknown receipt kind %q", kind)
			}

			if err := printJSON(w, r); err != nil {
				return err
			}
			if !check {
				return nil
			}

			cl, err := newClient(false)
			if err != nil {
				return err
			}
			a, err := cl.Auction(c.Context(), r.Auction)
			if err != nil {
				return err
			}
			if err := validation.MatchAuction(r, a); err != nil {
				return err
			}
			fmt.Fprintln(w, "receipt matches the server record")
			return nil
		},
	}
	cmd.Flags().String("kind", receipt.KindSigned, "Receipt kind: cose_sign1 or nitro_attestation")
	cmd.Flags().String("node-key", "auctiond.key.pub", "Node public key (PEM) for signed receipts")
	cmd.Flags().String("pcrs", "pcrs.json", "Known PCR sets for attested receipts")
	cmd.Flags().Bool("check-server", false, "Also compare the receipt with the auction record on the server")
	return cmd
}

func pinPCRsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pin-pcrs <attested-receipt>",
		Short: "Trust the enclave build that issued an attested receipt",
		Long: "Records the PCR measurements of the enclave that issued the receipt in the --pcrs file. " +
			"The attestation must chain to the AWS Nitro root. Pin only builds you have reproduced.",
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			doc, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			pcrPath, _ := c.Flags().GetString("pcrs")
			commit, _ := c.Flags().GetString("commit")

			set, err := validation.PinAttestedPCRs(doc, commit)
			if err != nil {
				return err
			}
			added, err := validation.SavePCRsFile(pcrPath, *set)
			if err != nil {
				return err
			}
			if !added {
				fmt.Fprintf(c.OutOrStdout(), "%s already trusts these measurements\n", pcrPath)
				return nil
			}
			fmt.Fprintf(c.OutOrStdout(), "added PCR set to %s\n", pcrPath)
			return printJSON(c.OutOrStdout(), set)
		},
	}
	cmd.Flags().String("pcrs", "pcrs.json", "Known PCR sets file to extend")
	cmd.Flags().String("commit", "", "Source commit the enclave image was built from")
	_ = cmd.MarkFlagRequired("commit")
	return cmd
}
