package validation

import (
	"crypto/ed25519"
	"fmt"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/receipt"
	"github.com/cloudx-io/sealedbid/signing"
)

// VerifySignedReceipt checks a node-signed receipt against the node's public key and
// returns the decoded receipt.
func VerifySignedReceipt(envelope []byte, nodeKey ed25519.PublicKey) (*receipt.Receipt, error) {
	payload, err := signing.OpenWithKey(envelope, nodeKey)
	if err != nil {
		return nil, err
	}
	r, err := receipt.Parse(payload)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ValidateAttestedReceipt validates a Nitro attestation whose user data is a receipt.
//
// Returns:
//   - AttestedReceiptResult with detailed results (call result.IsValid() to check overall status)
//   - the decoded receipt, or nil when the user data does not hold one
//   - error if validation cannot be performed (e.g., malformed document)
func ValidateAttestedReceipt(attestation []byte, knownPCRs []PCRSet) (*AttestedReceiptResult, *receipt.Receipt, error) {
	return validateAttestedReceipt(attestation, knownPCRs, []byte(awsNitroRootCA))
}

func validateAttestedReceipt(attestation []byte, knownPCRs []PCRSet, rootPEM []byte) (*AttestedReceiptResult, *receipt.Receipt, error) {
	base, doc, err := validateCommonAttestation(attestation, knownPCRs, rootPEM)
	if err != nil {
		return nil, nil, err
	}

	result := &AttestedReceiptResult{BaseValidationResult: *base}
	if len(doc.UserData) == 0 {
		result.ValidationDetails = append(result.ValidationDetails, "Attestation user data missing")
		return result, nil, nil
	}

	r, err := receipt.Parse(doc.UserData)
	if err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Receipt decode failed: %v", err))
		return result, nil, nil
	}
	result.ReceiptParsed = true
	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Receipt for auction %s", r.Auction))
	return result, r, nil
}

// MatchAuction compares a verified receipt with an auction record fetched independently.
func MatchAuction(r *receipt.Receipt, a *core.Auction) error {
	if r.Auction != a.Address {
		return fmt.Errorf("receipt is for auction %s, record is %s", r.Auction, a.Address)
	}
	return r.Matches(a)
}
